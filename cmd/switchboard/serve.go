package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/engine"
	"github.com/pitabwire/switchboard/internal/observability"
	"github.com/pitabwire/switchboard/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  "Load definitions and serve the connector and workflow API until SIGINT or SIGTERM. SIGHUP reloads definitions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if code := serve(); code != 0 {
			return fmt.Errorf("server exited with status %d", code)
		}
		return nil
	},
}

func serve() int {
	// Step 1: Load configuration.
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Step 2: Initialize telemetry (logger, tracer).
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "switchboard", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	// Step 3: Build the engine (cache, executor, run store, scheduler).
	eng, err := engine.New(ctx, cfg, engine.Options{
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logger.Error("engine initialization failed", zap.Error(err))
		return 1
	}
	defer eng.Close()

	// Step 4: Load and validate definitions.
	loaded, err := eng.Reload(ctx)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(describeError(err)))
		return 1
	}

	// Step 5: Build HTTP router.
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Service:      eng,
		Logger:       logger,
		Metrics:      eng.Metrics(),
		Gatherer:     prometheus.DefaultGatherer,
		Readiness:    eng.Readiness(),
		Authenticate: transport.JWTAuthenticator(cfg.Server.Auth),
	})
	if cfg.Server.Auth.Secret() == "" {
		logger.Warn("API authentication disabled", zap.String("secret_env", cfg.Server.Auth.SecretEnv))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      observability.TracingMiddleware(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 6: Reload definitions on SIGHUP.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go reloadOnHangup(bgCtx, eng, logger)

	// Step 7: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("connectors", loaded.Connectors),
		zap.Int("workflows", loaded.Workflows),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop the scheduler, sweeper and stores.
	bgCancel()
	eng.Close()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// reloadOnHangup reloads definitions each time the process receives SIGHUP.
// A failed reload keeps the previous definitions.
func reloadOnHangup(ctx context.Context, eng *engine.Engine, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			res, err := eng.Reload(ctx)
			if err != nil {
				logger.Error("definition reload failed", zap.Error(describeError(err)))
				continue
			}
			logger.Info("definitions reloaded",
				zap.Int("connectors", res.Connectors),
				zap.Int("workflows", res.Workflows),
				zap.Bool("changed", res.Changed),
			)
		}
	}
}
