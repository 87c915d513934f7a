package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mpesa    MpesaConfig    `mapstructure:"mpesa"`
	Business BusinessConfig `mapstructure:"business"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Health   HealthConfig   `mapstructure:"health"`
}

type ServerConfig struct {
	Port string `mapstructure:"SERVER_PORT"`
	Host string `mapstructure:"SERVER_HOST"`
	Env  string `mapstructure:"ENV"`
}

type DatabaseConfig struct {
	URL          string        `mapstructure:"DATABASE_URL"`
	MaxOpenConns int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnLifetime time.Duration `mapstructure:"DATABASE_CONN_LIFETIME"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"REDIS_ADDR"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type MpesaConfig struct {
	BaseURL        string        `mapstructure:"MPESA_BASE_URL"`
	ConsumerKey    string        `mapstructure:"MPESA_CONSUMER_KEY"`
	ConsumerSecret string        `mapstructure:"MPESA_CONSUMER_SECRET"`
	ShortCode      string        `mapstructure:"MPESA_SHORTCODE"`
	Passkey        string        `mapstructure:"MPESA_PASSKEY"`
	CallbackURL    string        `mapstructure:"MPESA_CALLBACK_URL"`
	CountryPrefix  string        `mapstructure:"MPESA_COUNTRY_PREFIX"`
	Timeout        time.Duration `mapstructure:"MPESA_TIMEOUT"`
}

type BusinessConfig struct {
	InterestRate     string `mapstructure:"LOAN_INTEREST_RATE"`
	DefaultTermDays  int    `mapstructure:"LOAN_DEFAULT_TERM_DAYS"`
	TotalLoanLimit   string `mapstructure:"WALLET_TOTAL_LOAN_LIMIT"`
	InitialLoanLimit string `mapstructure:"WALLET_INITIAL_LOAN_LIMIT"`
	RepaymentBonus   int    `mapstructure:"CREDIT_REPAYMENT_BONUS"`
	AdminCacheTTL    string `mapstructure:"ADMIN_CACHE_TTL"`
	MaxPageSize      int    `mapstructure:"ADMIN_MAX_PAGE_SIZE"`
}

type WorkflowConfig struct {
	Workers      int           `mapstructure:"WORKFLOW_WORKERS"`
	QueueSize    int           `mapstructure:"WORKFLOW_QUEUE_SIZE"`
	MaxAttempts  int           `mapstructure:"WORKFLOW_MAX_ATTEMPTS"`
	RetryBackoff time.Duration `mapstructure:"WORKFLOW_RETRY_BACKOFF"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type HealthConfig struct {
	Timeout time.Duration `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

// Load reads configuration from environment variables and an optional .env.
func Load() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DATABASE_CONN_LIFETIME", "5m")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("MPESA_COUNTRY_PREFIX", "254")
	viper.SetDefault("MPESA_TIMEOUT", "30s")
	viper.SetDefault("LOAN_INTEREST_RATE", "0.15")
	viper.SetDefault("LOAN_DEFAULT_TERM_DAYS", 30)
	viper.SetDefault("WALLET_TOTAL_LOAN_LIMIT", "50000")
	viper.SetDefault("WALLET_INITIAL_LOAN_LIMIT", "5000")
	viper.SetDefault("CREDIT_REPAYMENT_BONUS", 50)
	viper.SetDefault("ADMIN_CACHE_TTL", "60s")
	viper.SetDefault("ADMIN_MAX_PAGE_SIZE", 100)
	viper.SetDefault("WORKFLOW_WORKERS", 4)
	viper.SetDefault("WORKFLOW_QUEUE_SIZE", 256)
	viper.SetDefault("WORKFLOW_MAX_ATTEMPTS", 3)
	viper.SetDefault("WORKFLOW_RETRY_BACKOFF", "2s")
	viper.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")

	viper.AutomaticEnv()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./deployments")
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if _, err := decimal.NewFromString(c.Business.InterestRate); err != nil {
		return fmt.Errorf("LOAN_INTEREST_RATE must be a valid decimal: %w", err)
	}

	if _, err := decimal.NewFromString(c.Business.TotalLoanLimit); err != nil {
		return fmt.Errorf("WALLET_TOTAL_LOAN_LIMIT must be a valid decimal: %w", err)
	}

	if _, err := decimal.NewFromString(c.Business.InitialLoanLimit); err != nil {
		return fmt.Errorf("WALLET_INITIAL_LOAN_LIMIT must be a valid decimal: %w", err)
	}

	if c.Business.DefaultTermDays <= 0 {
		return fmt.Errorf("LOAN_DEFAULT_TERM_DAYS must be greater than 0")
	}

	if c.Workflow.MaxAttempts <= 0 {
		return fmt.Errorf("WORKFLOW_MAX_ATTEMPTS must be greater than 0")
	}

	if _, err := time.ParseDuration(c.Business.AdminCacheTTL); err != nil {
		return fmt.Errorf("ADMIN_CACHE_TTL must be a valid duration: %w", err)
	}

	return nil
}

// IsDevelopment returns true when running in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// InterestRate returns the flat interest rate as a decimal.
func (c *Config) InterestRate() decimal.Decimal {
	rate, _ := decimal.NewFromString(c.Business.InterestRate)
	return rate
}

// TotalLoanLimit returns the per-user credit ceiling for new wallets.
func (c *Config) TotalLoanLimit() decimal.Decimal {
	v, _ := decimal.NewFromString(c.Business.TotalLoanLimit)
	return v
}

// InitialLoanLimit returns the starting borrowable amount for new wallets.
func (c *Config) InitialLoanLimit() decimal.Decimal {
	v, _ := decimal.NewFromString(c.Business.InitialLoanLimit)
	return v
}

// AdminCacheTTL returns the admin listing cache lifetime.
func (c *Config) AdminCacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Business.AdminCacheTTL)
	return d
}
