package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/api"
	"github.com/leozw/health-guardian/internal/app"
	"github.com/leozw/health-guardian/internal/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	engine, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize health engine", zap.Error(err))
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics exporter
	if cfg.Mimir.URL != "" {
		go engine.Metrics.StartRemoteWrite(ctx, logger)
	}

	if cfg.Scheduler.Enabled {
		engine.Scheduler.Start()
	}

	// API Server
	auto := api.Automation{Remediation: engine.Remediation, Performance: engine.Performance}
	server := api.NewServer(cfg, engine.Health, engine.Incidents, engine.Store(), engine.Hub, engine.Metrics.Handler(), auto, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
