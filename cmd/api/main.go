package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/banklink-dev/banklink/internal/config"
	"github.com/banklink-dev/banklink/internal/handler"
	"github.com/banklink-dev/banklink/internal/integrations/bank"
	"github.com/banklink-dev/banklink/internal/integrations/rates"
	"github.com/banklink-dev/banklink/internal/middleware"
	"github.com/banklink-dev/banklink/internal/repository"
	"github.com/banklink-dev/banklink/internal/scheduler"
	"github.com/banklink-dev/banklink/internal/service"
	"github.com/banklink-dev/banklink/internal/utils/email"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	gateway := bank.NewClient(cfg, logger)
	notifier := email.NewSender(cfg, logger)
	queue := scheduler.NewQueue(cfg.SyncWorkers, cfg.SyncQueueSize, logger)
	svc := service.NewService(repo, gateway, notifier, queue, logger, cfg)
	h := handler.NewHandler(svc)
	ratesClient := rates.NewClient(cfg, logger)

	// Background sync: queue workers plus a cron pass over stale accounts
	queue.Start(svc.SyncAccount)
	defer queue.Stop()
	refresher, err := scheduler.NewRefresher(cfg.SyncSchedule, cfg.RefreshInterval, repo, queue, logger)
	if err != nil {
		logger.Fatalf("Failed to create refresher: %v", err)
	}
	refresher.Start()
	defer refresher.Stop()

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	// Provider webhook (signature-authenticated, no JWT)
	r.HandleFunc("/webhooks/bank", h.Webhook).Methods("POST")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/bank-credentials", h.ListCredentials).Methods("GET")
	authRouter.HandleFunc("/bank-credentials", h.CreateCredential).Methods("POST")
	authRouter.HandleFunc("/bank-credentials/{id}", h.DeleteCredential).Methods("DELETE")
	authRouter.HandleFunc("/bank-credentials/{id}/tokens", h.UpdateCredentialTokens).Methods("PUT")
	authRouter.HandleFunc("/bank-credentials/{id}/start_connect", h.StartConnect).Methods("POST")
	authRouter.HandleFunc("/bank-accounts", h.ListAccounts).Methods("GET")
	authRouter.HandleFunc("/bank-accounts/{id}/sync", h.SyncAccount).Methods("POST")
	authRouter.HandleFunc("/bank-accounts/{id}/transactions", h.ListAccountTransactions).Methods("GET")
	authRouter.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	// Reference rates endpoint
	r.HandleFunc("/rates", func(w http.ResponseWriter, r *http.Request) {
		rr, err := ratesClient.GetRates(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get rates: %v", err), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"base": "EUR", "rates": rr})
	}).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
