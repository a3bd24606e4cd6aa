package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/vigil/pkg/cli"
	"mercator-hq/vigil/pkg/config"
	"mercator-hq/vigil/pkg/detection"
	"mercator-hq/vigil/pkg/detection/retention"
	"mercator-hq/vigil/pkg/detection/storage"
	"mercator-hq/vigil/pkg/telemetry/logging"
)

// loadConfig reads the configuration for one-shot commands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("config", err.Error())
	}
	return cfg, nil
}

// commandLogger logs to stderr so that command output stays parseable.
// Only warnings are shown unless --verbose is set.
func commandLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.ConfigFrom(cfg.Telemetry.Logging)
	lc.Format = string(logging.FormatText)
	lc.Level = "warn"
	if verbose {
		lc.Level = "debug"
	}
	lc.Writer = os.Stderr
	return logging.New(lc)
}

// openRepository opens the configured storage backend.
func openRepository(cfg *config.Config) (detection.Repository, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		sc := cfg.Storage.SQLite
		repo, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
			Path:         sc.Path,
			Driver:       sc.Driver,
			MaxOpenConns: sc.MaxOpenConns,
			MaxIdleConns: sc.MaxIdleConns,
			WALMode:      sc.WALMode,
			BusyTimeout:  sc.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite storage: %w", err)
		}
		return repo, nil

	case "postgres":
		pc := cfg.Storage.Postgres
		repo, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			DSN:             pc.DSN,
			MaxOpenConns:    pc.MaxOpenConns,
			MaxIdleConns:    pc.MaxIdleConns,
			ConnMaxLifetime: pc.ConnMaxLifetime,
			AutoMigrate:     pc.AutoMigrate,
			SlowThreshold:   pc.SlowThreshold,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL storage: %w", err)
		}
		return repo, nil

	case "memory":
		return storage.NewMemoryStorage(), nil

	default:
		return nil, cli.NewConfigError("storage.backend", fmt.Sprintf("unsupported backend %q", cfg.Storage.Backend))
	}
}

// retentionConfig converts the retention section for the sweeper and
// scheduler.
func retentionConfig(cfg *config.Config) *retention.Config {
	return &retention.Config{
		WindowSize:         cfg.Retention.WindowSize,
		Schedule:           cfg.Retention.Schedule,
		ArchiveBeforeEvict: cfg.Retention.ArchiveBeforeEvict,
		ArchivePath:        cfg.Retention.ArchivePath,
		LockTTL:            cfg.Retention.Lock.TTL,
	}
}

func newPrinter(cmd *cobra.Command) (*cli.Printer, error) {
	format, err := cli.ParseOutputFormat(output)
	if err != nil {
		return nil, err
	}
	return cli.NewPrinter(cmd.OutOrStdout(), format)
}
