package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/config"
	"github.com/umoja-loans/loan-engine/internal/gateway"
	"github.com/umoja-loans/loan-engine/internal/handler"
	"github.com/umoja-loans/loan-engine/internal/notification"
	"github.com/umoja-loans/loan-engine/internal/reconciler"
	"github.com/umoja-loans/loan-engine/internal/repository"
	"github.com/umoja-loans/loan-engine/internal/service"
	"github.com/umoja-loans/loan-engine/internal/ussd"
	"github.com/umoja-loans/loan-engine/internal/workflow"
	"github.com/umoja-loans/loan-engine/pkg/response"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := newLogger(cfg)

	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	redisClient := initRedis(cfg)
	defer redisClient.Close()

	// Repositories and the atomic store.
	store := repository.NewStore(db)
	userRepo := repository.NewUserRepository(db)
	loanRepo := repository.NewLoanRepository(db)
	txnRepo := repository.NewTransactionRepository(db)

	// External collaborators.
	mpesa := gateway.NewMpesaGateway(cfg.Mpesa, log)
	notifier := notification.NewLogNotifier(log)

	// Core services and asynchronous machinery.
	loanService := service.NewLoanService(store, userRepo, loanRepo, txnRepo, mpesa, cfg, log)
	dispatcher := workflow.NewDispatcher(cfg.Workflow.Workers, cfg.Workflow.QueueSize, log)
	orchestrator := workflow.NewOrchestrator(loanService, mpesa, notifier, dispatcher, cfg.Workflow, log)
	callbackReconciler := reconciler.NewReconciler(store, userRepo, loanRepo, txnRepo, orchestrator, cfg.Mpesa.CountryPrefix, log)
	ussdService := ussd.NewService(loanService, txnRepo, notifier, log)

	// Handlers.
	loanHandler := handler.NewLoanHandler(loanService, userRepo, orchestrator, log)
	adminHandler := handler.NewAdminHandler(loanService, userRepo, txnRepo, redisClient, cfg, log)
	mpesaHandler := handler.NewMpesaHandler(callbackReconciler, mpesa, log)
	ussdHandler := handler.NewUSSDHandler(ussdService, log)
	healthHandler := handler.NewHealthHandler(db, redisClient, cfg.Health.Timeout)

	router := setupRoutes(loanHandler, adminHandler, mpesaHandler, ussdHandler, healthHandler, log)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Drain queued workflows before exiting so no disbursement is lost
	// between the gateway call and the status flip.
	dispatcher.Stop()

	log.Info("Server exited")
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

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func setupRoutes(
	loans *handler.LoanHandler,
	admin *handler.AdminHandler,
	mpesa *handler.MpesaHandler,
	ussdHandler *handler.USSDHandler,
	health *handler.HealthHandler,
	log *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.CORSMiddleware)
	router.Use(response.LoggingMiddleware(log))

	router.HandleFunc("/health", health.Health).Methods("GET")
	router.HandleFunc("/health/ready", health.Ready).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/users", loans.RegisterUser).Methods("POST")
	api.HandleFunc("/loans", loans.ApplyLoan).Methods("POST")
	api.HandleFunc("/loans/user/{userId}", loans.GetUserLoans).Methods("GET")
	api.HandleFunc("/loans/{loanId}/approve", loans.ApproveLoan).Methods("POST")
	api.HandleFunc("/loans/{loanId}/reject", loans.RejectLoan).Methods("POST")
	api.HandleFunc("/loans/repay", loans.RepayLoan).Methods("POST")
	api.HandleFunc("/loans/repay/initiate", loans.InitiateRepayment).Methods("POST")

	api.HandleFunc("/admin/loans", admin.ListLoans).Methods("GET")
	api.HandleFunc("/admin/users", admin.ListUsers).Methods("GET")
	api.HandleFunc("/admin/wallets", admin.ListWallets).Methods("GET")
	api.HandleFunc("/admin/transactions", admin.ListTransactions).Methods("GET")

	api.HandleFunc("/mpesa/callback", mpesa.Callback).Methods("POST")
	api.HandleFunc("/mpesa/query/{checkoutRequestId}", mpesa.QueryStatus).Methods("GET")

	api.HandleFunc("/ussd", ussdHandler.Handle).Methods("POST")

	return router
}
