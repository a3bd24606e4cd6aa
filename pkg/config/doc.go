// Package config provides configuration management for Vigil.
//
// Configuration is loaded from a YAML file with environment variable
// overrides, validated, and optionally watched for changes.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// Fields absent from the file keep their defaults (see defaults.go). An empty
// path yields the defaults with environment overrides applied.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention VIGIL_SECTION_FIELD:
//
//   - VIGIL_RETENTION_WINDOW_SIZE overrides retention.window_size
//   - VIGIL_STORAGE_POSTGRES_DSN overrides storage.postgres.dsn
//   - VIGIL_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher reloads the file after it changes and hands the new configuration
// to a callback. The run command uses it to apply a new retention window and
// log level without a restart:
//
//	w, err := config.NewWatcher(path, 0, nil)
//	go w.Watch(ctx, func(cfg *config.Config) {
//	    scheduler.SetWindowSize(cfg.Retention.WindowSize)
//	})
//	defer w.Stop()
//
// An invalid file is logged and ignored.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8090"
//
//	storage:
//	  backend: "sqlite"
//	  sqlite:
//	    path: "data/vigil.db"
//
//	retention:
//	  window_size: 24
//	  schedule: "*/15 * * * *"
//	  lock:
//	    enabled: true
//	    redis_address: "redis:6379"
//
//	telemetry:
//	  logging:
//	    level: "info"
//	    format: "json"
package config
