// Package main provides the entry point for the screening service server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/osteoscope/screening-service/internal/adminqueue"
	"github.com/osteoscope/screening-service/internal/analysis"
	"github.com/osteoscope/screening-service/internal/config"
	"github.com/osteoscope/screening-service/internal/domain"
	"github.com/osteoscope/screening-service/internal/gateway"
	"github.com/osteoscope/screening-service/internal/notify"
	"github.com/osteoscope/screening-service/internal/observability"
	httpserver "github.com/osteoscope/screening-service/internal/server/http"
	"github.com/osteoscope/screening-service/internal/store"
	"github.com/osteoscope/screening-service/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("screening-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Select the entity store backend.
	var backend store.Backend
	switch cfg.Store.Backend {
	case config.BackendMemory:
		backend = store.NewMemoryBackend()
	case config.BackendFile:
		backend, err = store.NewFileBackend(cfg.Store.Dir, cfg.Store.StorageKey)
		if err != nil {
			return fmt.Errorf("create file backend: %w", err)
		}
	case config.BackendPostgres:
		pg, pgErr := store.NewPostgresBackend(ctx, cfg.Database.DSN(), cfg.Store.StorageKey)
		if pgErr != nil {
			return fmt.Errorf("connect to database: %w", pgErr)
		}
		defer pg.Close()
		backend = pg
	default:
		return fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
	st := store.New(backend)
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	logger.Info().Str("backend", cfg.Store.Backend).Msg("entity store ready")

	if err := seedDemoUser(ctx, st, logger); err != nil {
		return fmt.Errorf("seed demo user: %w", err)
	}

	// Metrics share a namespace so dashboards survive renames of individual services.
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	// Model provider client.
	llmClient := gateway.NewOpenAIClient(gateway.OpenAIConfig{
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	}, cfg.LLM.Timeout, cfg.LLM.MaxRetries, metrics, logger)

	// Uploaded radiographs go to disk when a directory is configured, and are
	// embedded as data URLs otherwise.
	var uploader gateway.Uploader
	uploadDir := cfg.Upload.Dir
	if uploadDir != "" {
		disk, upErr := gateway.NewDiskUploader(uploadDir, cfg.Server.BaseURL+"/files")
		if upErr != nil {
			return fmt.Errorf("create upload directory: %w", upErr)
		}
		uploader = disk
	} else {
		uploader = gateway.DataURLUploader{}
	}

	notifier := notify.NewLogNotifier(logger)

	workflows := workflow.NewService(workflow.Params{
		Store:            st,
		LLM:              llmClient,
		Uploader:         uploader,
		Notifier:         notifier,
		Metrics:          metrics,
		Logger:           logger,
		AdminEmail:       cfg.Admin.Email,
		PaymentAmountINR: cfg.Admin.PaymentAmountINR,
	})
	pipeline := analysis.NewPipeline(st, llmClient, metrics, logger)
	queue := adminqueue.New(st, workflows, pipeline, notifier, metrics, logger)

	// Keep the verification queue depth gauge fresh.
	poller := adminqueue.NewPoller(queue, cfg.Admin.PollInterval, metrics, logger)
	go poller.Run(ctx)

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, workflows, queue, pipeline, st, uploadDir, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("screening-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down screening-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("screening-service shutdown complete")
	return nil
}

// seedDemoUser creates the demo administrator account on first boot so a fresh
// deployment has a working login.
func seedDemoUser(ctx context.Context, st *store.Store, logger zerolog.Logger) error {
	users := store.NewCollection[domain.User](st, "User")
	existing, err := users.List(ctx, "", 1)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	seeded, err := users.Create(ctx, domain.User{
		Name:  "Demo User",
		Email: "demo@example.com",
		Role:  "admin",
	})
	if err != nil {
		return err
	}
	logger.Info().Str("user_id", seeded.ID).Str("email", seeded.Email).Msg("seeded demo user")
	return nil
}
