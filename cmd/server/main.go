// Package main is the entry point for the matchkit prediction gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	matchkit "github.com/matchkit/matchkit"
	"github.com/matchkit/matchkit/internal/api"
	"github.com/matchkit/matchkit/internal/config"
	"github.com/matchkit/matchkit/internal/observability"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	// Load configuration; fall back to defaults when no file exists.
	var cfgManager *config.Manager
	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		m, err := config.NewManager(*configPath, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfgManager = m
		cfg = m.Get()
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		JSONFormat: cfg.Logging.Format != "text",
		Output:     os.Stdout,
	})
	logger.Info("starting matchkit gateway", "version", matchkit.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfgManager != nil {
		if err := cfgManager.Watch(ctx); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		}
		cfgManager.OnChange(func(next *config.Config) {
			// Engine wiring is fixed at startup; flag changes that need a restart.
			logger.Info("configuration reloaded",
				"note", "engine-level changes take effect on restart",
				"execution_mode", next.Inference.ExecutionMode,
			)
		})
	}

	// Tracing
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	engine, err := matchkit.New(
		matchkit.WithConfig(cfg),
		matchkit.WithLogger(logger),
		matchkit.WithScoringModel(newHeuristicModel()),
		matchkit.WithFeatureExtractor(heuristicExtractor()),
		matchkit.WithTracer(tp.Tracer()),
	)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(engine, logger, nil)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := engine.Close(); err != nil {
		logger.Error("engine shutdown error", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}
	if cfgManager != nil {
		cfgManager.Close()
	}
	logger.Info("server stopped")
}
