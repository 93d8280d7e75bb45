package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mainulhossain123/infra-autofix-agent/internal/actuator"
	"github.com/mainulhossain123/infra-autofix-agent/internal/breaker"
	"github.com/mainulhossain123/infra-autofix-agent/internal/config"
	"github.com/mainulhossain123/infra-autofix-agent/internal/detect"
	"github.com/mainulhossain123/infra-autofix-agent/internal/health"
	"github.com/mainulhossain123/infra-autofix-agent/internal/logging"
	"github.com/mainulhossain123/infra-autofix-agent/internal/monitor"
	"github.com/mainulhossain123/infra-autofix-agent/internal/notify"
	"github.com/mainulhossain123/infra-autofix-agent/internal/store"
	"github.com/mainulhossain123/infra-autofix-agent/internal/strategy"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const storeConnectAttempts = 5

var rootCmd = &cobra.Command{
	Use:     "autofix-bot",
	Short:   "Auto-remediation bot for containerized services",
	Long:    `autofix-bot watches a service's health endpoint, classifies threshold breaches into incidents, and remediates them against the container runtime with circuit-breaker protection.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("autofix-bot %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.SilenceUsage = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "autofix-bot",
	})
	logger.Info().
		Str("version", Version).
		Str("appHost", cfg.AppHost).
		Dur("pollInterval", cfg.PollInterval).
		Int("retentionDays", cfg.RetentionDays).
		Msg("Starting auto-remediation bot")

	clock := clockwork.NewRealClock()

	st, err := openStoreWithRetry(cfg.DatabaseURL, clock, logger)
	if err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Seed the config table with environment policy so operators can
	// inspect and override it live; existing overrides win.
	if err := st.SeedThresholds(ctx, cfg.Thresholds, "env"); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed thresholds")
	}
	if err := st.SeedBreakerSettings(ctx, cfg.Breaker, "env"); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed breaker settings")
	}
	breakerSettings, err := st.ReadBreakerSettings(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read breaker settings; using defaults")
		breakerSettings = cfg.Breaker
	}

	act, err := actuator.New(clock, logger)
	if err != nil {
		return fmt.Errorf("container runtime unavailable: %w", err)
	}

	notifiers := []notify.Notifier{notify.NewConsole(logger)}
	if slack := notify.NewSlack(cfg.SlackWebhookURL); slack != nil {
		logger.Info().Msg("Slack notifications enabled")
		notifiers = append(notifiers, slack)
	}
	notifier := notify.NewManager(clock, logger, notifiers...)
	defer notifier.Close()

	m := monitor.New(monitor.Config{
		PollInterval:    cfg.PollInterval,
		Service:         cfg.Service,
		CleanupInterval: cfg.CleanupInterval,
		FailureCheckInterval: func() time.Duration {
			if !cfg.FailurePrediction {
				return 0
			}
			return cfg.FailureCheckInterval
		}(),
	}, monitor.Deps{
		Probe:    health.NewProber(cfg.AppHost, logger),
		Chain:    detect.NewChain(cfg.Thresholds, nil, logger),
		Dedup:    detect.NewDeduplicator(detect.DefaultDedupWindow, clock, logger),
		Strategy: strategy.New(cfg.AppContainer, logger),
		Breaker:  breaker.New(breakerSettings, clock, logger),
		Executor: act,
		Store:    st,
		Sweeper:  store.NewSweeper(st, cfg.RetentionDays, clock, logger),
		Notify:   notifier,
		Clock:    clock,
		Logger:   logger,
	})

	m.Run(ctx)

	logger.Info().Msg("Bot stopped")
	return nil
}

func openStoreWithRetry(path string, clock clockwork.Clock, logger zerolog.Logger) (*store.Store, error) {
	var lastErr error
	for attempt := 1; attempt <= storeConnectAttempts; attempt++ {
		st, err := store.Open(path, clock, logger)
		if err == nil {
			return st, nil
		}
		lastErr = err
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("Failed to open database; retrying")
		clock.Sleep(2 * time.Second)
	}
	return nil, lastErr
}
