package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/vigil/pkg/cli"
	"mercator-hq/vigil/pkg/config"
	"mercator-hq/vigil/pkg/detection/retention"
	"mercator-hq/vigil/pkg/server"
	"mercator-hq/vigil/pkg/telemetry/health"
	"mercator-hq/vigil/pkg/telemetry/logging"
	"mercator-hq/vigil/pkg/telemetry/metrics"
	"mercator-hq/vigil/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Vigil API server and sweep scheduler",
	Long: `Start the Vigil API server with the specified configuration.

The server exposes owners and detection results over HTTP and sweeps every
owner down to the retention window on the configured cron schedule. When a
config file is given, edits to retention.window_size and
telemetry.logging.level take effect without a restart.

Examples:
  # Start with default config
  vigil run

  # Start with custom config
  vigil run --config /etc/vigil/config.yaml

  # Override listen address
  vigil run --listen 0.0.0.0:8090

  # Validate config without starting server
  vigil run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("config", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("flags", err.Error())
	}

	logger, err := logging.New(logging.ConfigFrom(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	logger.SetDefault()

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	repo, err := openRepository(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer repo.Close()
	logger.Info("storage opened", "backend", cfg.Storage.Backend)

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.RegisterCheck("storage", health.StorageCheck(repo))

	var locker retention.Locker
	if cfg.Retention.Lock.Enabled {
		lc := cfg.Retention.Lock
		redisLocker, err := retention.NewRedisLocker(ctx, lc.RedisAddress, lc.RedisPassword, lc.RedisDB)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		checker.RegisterCheck("sweep_lock", health.LockCheck(redisLocker))
		logger.Info("distributed sweep lock enabled", "redis_address", lc.RedisAddress)
	}

	rcfg := retentionConfig(cfg)
	sweeper := retention.NewSweeper(repo, rcfg,
		retention.WithRecorder(collector),
		retention.WithTracer(tracer.Tracer(tracing.InstrumentationName+"/retention")),
		retention.WithLogger(logger.With("component", "detection.retention")),
	)
	scheduler := retention.NewScheduler(sweeper, rcfg, locker)
	scheduler.OnRunComplete(func(summary *retention.RunSummary) {
		if !summary.Skipped && summary.Error == "" {
			collector.MarkSweepCompleted(summary.StartedAt.Add(summary.Duration))
		}
	})
	collector.SetWindowSize(rcfg.WindowSize)

	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer scheduler.Stop()
	checker.RegisterCheck("scheduler", health.SchedulerCheck(scheduler))

	if cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, 0, logger.With("component", "config.watcher"))
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		defer watcher.Stop()

		go func() {
			err := watcher.Watch(ctx, func(newCfg *config.Config) {
				applyReload(logger, scheduler, collector, newCfg)
			})
			if err != nil {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	srv := server.NewServer(cfg, server.Dependencies{
		Repository: repo,
		Sweeper:    sweeper,
		Scheduler:  scheduler,
		Metrics:    collector,
		Tracer:     tracer,
		Health:     checker,
		Version:    health.NewVersionInfo(Version, GitCommit, BuildDate),
		Logger:     logger.Logger,
	})

	printBanner(cmd, cfg)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Server stopped")
	return nil
}

// applyReload applies the settings that can change without a restart.
func applyReload(logger *logging.Logger, scheduler *retention.Scheduler, collector *metrics.Collector, cfg *config.Config) {
	if err := scheduler.SetWindowSize(cfg.Retention.WindowSize); err != nil {
		logger.Error("ignoring reloaded retention window", "error", err)
	} else {
		collector.SetWindowSize(cfg.Retention.WindowSize)
	}

	if err := logger.SetLevel(cfg.Telemetry.Logging.Level); err != nil {
		logger.Error("ignoring reloaded log level", "error", err)
	}
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Vigil v%s\n", Version)
	if cfgFile != "" {
		fmt.Fprintf(out, "✓ Configuration loaded from %s\n", cfgFile)
	}
	fmt.Fprintf(out, "✓ Storage: %s\n", cfg.Storage.Backend)
	if cfg.Retention.Schedule != "" {
		fmt.Fprintf(out, "✓ Retention: %d results per owner, swept on %q\n", cfg.Retention.WindowSize, cfg.Retention.Schedule)
	} else {
		fmt.Fprintf(out, "✓ Retention: %d results per owner, manual sweeps only\n", cfg.Retention.WindowSize)
	}
	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Server.ListenAddress)
	if cfg.Telemetry.Health.Enabled {
		fmt.Fprintf(out, "✓ Health endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Health.LivenessPath)
	}
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
