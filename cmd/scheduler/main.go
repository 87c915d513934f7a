package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/config"
	"github.com/umoja-loans/loan-engine/internal/gateway"
	"github.com/umoja-loans/loan-engine/internal/notification"
	"github.com/umoja-loans/loan-engine/internal/repository"
	"github.com/umoja-loans/loan-engine/internal/service"
	"github.com/umoja-loans/loan-engine/internal/workflow"
)

// The scheduler runs the background sweeps that the request path never
// triggers: marking overdue loans defaulted and re-queuing disbursements
// that exhausted their retries while the server was last up.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := newLogger(cfg)

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	store := repository.NewStore(db)
	userRepo := repository.NewUserRepository(db)
	loanRepo := repository.NewLoanRepository(db)
	txnRepo := repository.NewTransactionRepository(db)

	mpesa := gateway.NewMpesaGateway(cfg.Mpesa, log)
	notifier := notification.NewLogNotifier(log)

	loanService := service.NewLoanService(store, userRepo, loanRepo, txnRepo, mpesa, cfg, log)
	dispatcher := workflow.NewDispatcher(cfg.Workflow.Workers, cfg.Workflow.QueueSize, log)
	orchestrator := workflow.NewOrchestrator(loanService, mpesa, notifier, dispatcher, cfg.Workflow, log)

	c := cron.New()

	// Overdue sweep at midnight: disbursed loans past their due date are
	// flipped to defaulted.
	_, err = c.AddFunc("0 0 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		count, err := loanService.MarkDefaulted(ctx, time.Now())
		if err != nil {
			log.Errorf("default sweep failed: %v", err)
			return
		}
		log.WithField("defaulted", count).Info("default sweep completed")
	})
	if err != nil {
		log.Fatalf("Failed to schedule default sweep: %v", err)
	}

	// Retry approved loans whose last disbursement attempt failed.
	_, err = c.AddFunc("*/15 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		retryFailedDisbursements(ctx, loanRepo, userRepo, orchestrator, log)
	})
	if err != nil {
		log.Fatalf("Failed to schedule disbursement retry: %v", err)
	}

	c.Start()
	log.Info("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down scheduler...")

	cronCtx := c.Stop()
	<-cronCtx.Done()
	dispatcher.Stop()

	log.Info("Scheduler exited")
}

func retryFailedDisbursements(
	ctx context.Context,
	loans repository.LoanRepository,
	users repository.UserRepository,
	orchestrator *workflow.Orchestrator,
	log *logrus.Logger,
) {
	pending, err := loans.ApprovedWithFailedDisbursement(ctx)
	if err != nil {
		log.Errorf("failed disbursement scan failed: %v", err)
		return
	}

	for _, loan := range pending {
		user, err := users.GetByID(ctx, loan.UserID)
		if err != nil {
			log.WithField("loan_id", loan.ID).Errorf("user lookup failed: %v", err)
			continue
		}
		if !orchestrator.QueueDisbursement(loan, user.PhoneNumber) {
			log.WithField("loan_id", loan.ID).Warn("disbursement queue full, retry deferred")
		}
	}

	if len(pending) > 0 {
		log.WithField("requeued", len(pending)).Info("failed disbursements requeued")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
