// Package main is the entry point for the polis-dlp binary.
// It serves the sanitization pipeline over HTTP and exposes one-shot
// sanitize and policy validation commands.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-dlp/internal/governance"
	"github.com/polisai/polis-dlp/pkg/audit"
	"github.com/polisai/polis-dlp/pkg/config"
	"github.com/polisai/polis-dlp/pkg/detector"
	"github.com/polisai/polis-dlp/pkg/logging"
	"github.com/polisai/polis-dlp/pkg/pipeline"
	"github.com/polisai/polis-dlp/pkg/policy"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	policyPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "polis-dlp",
		Short: "Data loss prevention pipeline for outbound text",
		Long: `polis-dlp detects sensitive entities in text, scores the risk they carry
and returns the text allowed, masked or blocked according to the active policy.

Example:
  polis-dlp serve --config config.yaml
  echo "IBAN FR7630006000011234567890189" | polis-dlp sanitize --policy policy.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the service configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&flags.policyPath, "policy", "p", "", "Path to the policy document (overrides policy.file)")
	rootCmd.PersistentFlags().StringVarP(&flags.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newSanitizeCmd(flags),
		newValidateCmd(),
	)
	return rootCmd
}

// loadConfig reads the service configuration and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration load failed: %w", err)
	}
	if flags.policyPath != "" {
		cfg.Policy.File = flags.policyPath
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if cfg.Policy.File == "" {
		return nil, fmt.Errorf("no policy document configured: set policy.file, POLIS_DLP_POLICY_FILE or --policy")
	}
	return cfg, nil
}

// app bundles the components shared by serve and sanitize.
type app struct {
	store        *policy.Store
	orchestrator *pipeline.Orchestrator
}

// buildApp loads the policy, dials detectors and audit sinks and assembles
// the orchestrator. auditOut receives records for the stdout sink.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, auditOut io.Writer) (*app, error) {
	store := policy.NewStore(policy.WithLogger(logger))
	if _, err := store.LoadFile(cfg.Policy.File); err != nil {
		return nil, fmt.Errorf("policy load failed: %w", err)
	}

	breakers := governance.NewBreakerSet(governance.DefaultBreakerConfig())
	providers := make([]detector.Capability, 0, len(cfg.Detectors))
	for _, dc := range cfg.Detectors {
		p, err := detector.NewHTTPProvider(dc, detector.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		breakerCfg := governance.DefaultBreakerConfig()
		if dc.Breaker.FailureThreshold > 0 {
			breakerCfg.FailureThreshold = dc.Breaker.FailureThreshold
		}
		if dc.Breaker.Cooldown > 0 {
			breakerCfg.Cooldown = dc.Breaker.Cooldown
		}
		breakers.Configure(dc.Name, breakerCfg)
		providers = append(providers, p)
		logger.Info("detector provider registered", "provider", dc.Name, "offsets", dc.Offsets)
	}

	sink, err := audit.Open(ctx, cfg.Audit, auditOut)
	if err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}

	orch, err := pipeline.New(store, providers, pipeline.Options{
		ProviderTimeout: cfg.Pipeline.ProviderTimeout,
		MaxConcurrency:  cfg.Pipeline.MaxConcurrency,
		Breakers:        breakers,
		Recorder:        audit.NewRecorder(sink),
		Logger:          logger,
	})
	if err != nil {
		_ = sink.Close()
		return nil, err
	}

	return &app{store: store, orchestrator: orch}, nil
}

func newLogger(cfg *config.Config, output io.Writer) *slog.Logger {
	return logging.SetupLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: output,
	})
}
