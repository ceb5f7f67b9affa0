package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sselane/sselane/checkpoint"
	"github.com/sselane/sselane/config"
	"github.com/sselane/sselane/dispatch"
	"github.com/sselane/sselane/heartbeat"
	"github.com/sselane/sselane/httpapi"
	"github.com/sselane/sselane/outbox"
	"github.com/sselane/sselane/poll"
	"github.com/sselane/sselane/publish"
	"github.com/sselane/sselane/replay"
	"github.com/sselane/sselane/telemetry"
)

// NewServeCmd creates the "serve" subcommand: it wires every component of
// the event plane together and runs the HTTP server until an interrupt or
// termination signal arrives.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sselane SSE fan-out server",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to config file (default: discover sselane.yaml)")
	cmd.Flags().IntP("port", "p", 0, "Listen port (overrides config)")
	cmd.Flags().String("store-dsn", "", "SQLite DSN for the outbox/checkpoint stores (overrides config)")
	cmd.Flags().String("cors-origin", "", "Allowed CORS origin (overrides config)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP collector endpoint (overrides config)")
	cmd.Flags().Bool("verbose", false, "Enable debug-level text logging instead of JSON")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError(1, "load config: %v", err)
	}

	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if dsn, _ := cmd.Flags().GetString("store-dsn"); dsn != "" {
		cfg.StoreDSN = dsn
	}
	if origin, _ := cmd.Flags().GetString("cors-origin"); origin != "" {
		cfg.CORSOrigin = origin
	}
	if endpoint, _ := cmd.Flags().GetString("otlp-endpoint"); endpoint != "" {
		cfg.OTLPEndpoint = endpoint
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	logger := newLogger(cfg.LogFormat, verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func newLogger(format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if format == "text" || verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return exitError(1, "start telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	instr, err := telemetry.NewInstrumentation(provider)
	if err != nil {
		return exitError(1, "start instrumentation: %v", err)
	}

	outboxStore, err := outbox.NewSQLiteStore(outbox.SQLiteConfig{DSN: cfg.StoreDSN})
	if err != nil {
		return exitError(1, "open outbox store: %v", err)
	}
	defer outboxStore.Close()

	checkpoints, err := checkpoint.NewSQLiteStore(checkpoint.SQLiteConfig{DSN: cfg.StoreDSN})
	if err != nil {
		return exitError(1, "open checkpoint store: %v", err)
	}
	defer checkpoints.Close()

	publisher := publish.New(publish.Config{
		Sequence:        outboxStore,
		Store:           outboxStore,
		Logger:          logger,
		Instrumentation: instr,
	})

	registry := dispatch.NewRegistry()
	replayer := replay.New(outboxStore, logger)

	poller := poll.New(poll.Config{
		Store:           outboxStore,
		Dispatcher:      registry,
		Logger:          logger,
		Instrumentation: instr,
	})
	if err := poller.Start(ctx); err != nil {
		return exitError(1, "start poller: %v", err)
	}
	defer poller.Stop(context.Background())

	ticker := heartbeat.New(publisher, registry, logger)
	ticker.Start(ctx)
	defer ticker.Stop(context.Background())

	reaper, err := outbox.NewReaper(outboxStore, cfg.ReapSchedule, logger)
	if err != nil {
		return exitError(1, "build reaper: %v", err)
	}
	reaper.Start(ctx)
	defer reaper.Stop()

	server := httpapi.NewServer(httpapi.Config{
		OutboxStore:     outboxStore,
		Checkpoints:     checkpoints,
		Publisher:       publisher,
		Registry:        registry,
		Replayer:        replayer,
		Logger:          logger,
		Instrumentation: instr,
		CORSOrigin:      cfg.CORSOrigin,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Routes(),
		// Request contexts derive from ctx, so a shutdown signal also ends
		// every open SSE stream instead of leaving Shutdown to wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(1, "graceful shutdown: %v", err)
		}
		return nil
	case err := <-serveErr:
		if err != nil {
			return exitError(1, "http server: %v", err)
		}
		return nil
	}
}
