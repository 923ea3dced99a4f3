package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-dlp/pkg/config"
	"github.com/polisai/polis-dlp/pkg/server"
	"github.com/polisai/polis-dlp/pkg/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sanitization pipeline over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "HTTP listen address (overrides server.address)")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Environment:  os.Getenv("POLIS_DLP_ENVIRONMENT"),
		ResourceTags: map[string]string{"log.level": cfg.Logging.Level},
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	rt, err := buildApp(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.orchestrator.Close(); err != nil {
			logger.Error("pipeline close error", "error", err)
		}
	}()

	metrics := server.NewMetrics()
	srv, err := server.New(server.Options{
		Config:     cfg.Server,
		Sanitizer:  rt.orchestrator,
		Store:      rt.store,
		PolicyPath: cfg.Policy.File,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	reload := func(path string) error {
		snap, err := rt.store.LoadFile(path)
		if err != nil {
			metrics.RecordPolicyUpdate("reload", 0, err)
			return err
		}
		metrics.RecordPolicyUpdate("reload", snap.Version, nil)
		return nil
	}

	if cfg.Policy.Watch {
		watcher, err := config.NewPolicyWatcher(cfg.Policy.File, cfg.Policy.Debounce, reload, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("policy watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	go reloadOnSIGHUP(ctx, cfg.Policy.File, reload, logger)

	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("polis-dlp stopped")
	return nil
}

// reloadOnSIGHUP re-reads the policy document whenever the process receives
// SIGHUP. A failed reload keeps the active policy.
func reloadOnSIGHUP(ctx context.Context, path string, reload func(string) error, logger *slog.Logger) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			logger.Info("received SIGHUP, reloading policy", "path", path)
			if err := reload(path); err != nil {
				logger.Error("policy reload failed, keeping previous policy", "path", path, "error", err)
			}
		}
	}
}
