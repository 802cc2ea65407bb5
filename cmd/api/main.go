package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/earning"
	"escrowflow/job"
	"escrowflow/milestone"
	"escrowflow/notify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	jobService := job.NewService(job.NewRepository(pool))
	ledger := earning.NewRepository(pool)

	var dispatcher notify.Dispatcher
	if cfg.NotifyWebhookURL != "" {
		dispatcher = notify.NewWebhookDispatcher(cfg.NotifyWebhookURL, cfg.NotifyTimeout)
	}
	emitter := notify.NewEmitter(notify.NewPGLog(pool), dispatcher, logger, cfg.NotifyTimeout)

	milestoneRepo := milestone.NewRepository(pool)
	milestoneService := milestone.NewService(pool, milestoneRepo, jobService, ledger, emitter, cfg.DisputeResponseWindow)
	disputeService := dispute.NewService(pool, milestoneRepo, jobService, ledger, emitter)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: newRouter(&server{
			auth:       authService,
			milestones: milestoneService,
			disputes:   disputeService,
			logger:     logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("escrow api listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
