package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clubsync/internal/config"
	"clubsync/internal/credentials"
	"clubsync/internal/database"
	"clubsync/internal/fitness"
	"clubsync/internal/handlers"
	"clubsync/internal/jobs"
	"clubsync/internal/metrics"
	"clubsync/internal/middleware"
	"clubsync/internal/notify"
	"clubsync/internal/oauth"
	"clubsync/internal/reconciler"
	"clubsync/internal/scheduler"
	"clubsync/internal/secrets"
)

const (
	webhookSweepInterval = 5 * time.Minute
	matchExpiryInterval  = 24 * time.Hour
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting clubsync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	// Token encryption
	cipher, err := secrets.New(cfg.TokenKey())
	if err != nil {
		logger.Error("Failed to initialize token cipher", "error", err)
		os.Exit(1)
	}

	// Provider API client and credential manager
	fitnessClient := fitness.NewClient(fitness.Options{
		BaseURL:      cfg.ProviderBaseURL,
		TokenURL:     cfg.ProviderTokenURL,
		ClientID:     cfg.ProviderClientID,
		ClientSecret: cfg.ProviderClientSecret,
	})
	credManager := credentials.NewManager(db, cipher, fitnessClient)

	// Chat notifier
	var notifier notify.Notifier
	if cfg.NotifierURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.NotifierURL, cfg.NotifierToken)
	} else {
		logger.Warn("No notifier configured, messages will be logged and dropped")
		notifier = notify.NopNotifier{}
	}

	// Webhook reconciler
	rec := reconciler.New(db, credManager, fitnessClient, notifier, cfg.RetryCap)

	// OAuth manager
	redirectURL := fmt.Sprintf("https://%s/oauth-callback", cfg.Domain)
	oauthManager := oauth.New(db, credManager, fitnessClient, notifier,
		cfg.ProviderAuthURL, cfg.ProviderClientID, redirectURL)

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(rec, cfg)
	oauthHandler := handlers.NewOAuthHandler(oauthManager, credManager, cfg)
	tokenHandler := handlers.NewTokenHandler(credManager, cfg)
	actionHandler := handlers.NewActionHandler(db, rec, cfg)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("/oauth-start", middleware.WrapHandler(metrics.EndpointOAuthStart, oauthHandler.HandleAuthStart))
	mux.Handle("/oauth-callback", middleware.WrapHandler(metrics.EndpointOAuthCallback, oauthHandler.HandleCallback))
	mux.Handle("/disconnect", middleware.WrapHandler(metrics.EndpointDisconnect, oauthHandler.HandleDisconnect))

	mux.Handle("/webhook-callback", middleware.WrapHandler(metrics.EndpointWebhook, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			webhookHandler.HandleVerification(w, r)
		} else if r.Method == http.MethodPost {
			webhookHandler.HandleEvent(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	mux.Handle("/internal/token", middleware.WrapHandler(metrics.EndpointToken, tokenHandler.HandleGetToken))
	mux.Handle("/internal/action", middleware.WrapHandler(metrics.EndpointActions, actionHandler.HandleAction))

	mux.Handle("/health", middleware.WrapHandler(metrics.EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Periodic jobs
	deps := jobs.Deps{DB: db, Notifier: notifier, Logger: logger}
	sched := scheduler.New()
	sched.Register("reminder", jobs.ReminderInterval, jobs.NewReminderJob(deps).Tick)
	sched.Register("completion", jobs.CompletionInterval, jobs.NewCompletionJob(deps).Tick)
	sched.Register("auto_reject", jobs.AutoRejectInterval, jobs.NewAutoRejectJob(deps).Tick)
	sched.Register("post_training", jobs.PostTrainingInterval, jobs.NewPostTrainingJob(deps).Tick)
	sched.Register("summary", jobs.SummaryInterval, jobs.NewSummaryJob(deps).Tick)
	sched.Register("webhook_sweep", webhookSweepInterval, rec.Sweep)
	sched.Register("match_expiry", matchExpiryInterval, rec.ExpirePendingMatches)

	jobCtx, jobCancel := context.WithCancel(context.Background())
	defer jobCancel()

	logger.Info("Starting scheduler")
	sched.Start(jobCtx)

	// Webhook event state collector
	if cfg.MetricsEnabled {
		go metrics.StartEventStateCollector(jobCtx, db, 15*time.Second)
	}

	// Metrics server
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// HTTP server
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	// Stop jobs; Stop waits for in-flight ticks to finish
	jobCancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
