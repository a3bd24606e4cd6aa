package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// TestValidate tests validation rules field by field.
func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{
			name:   "defaults are valid",
			modify: func(*Config) {},
		},
		{
			name:      "zero window",
			modify:    func(c *Config) { c.Retention.WindowSize = 0 },
			wantField: "retention.window_size",
		},
		{
			name:      "bad cron",
			modify:    func(c *Config) { c.Retention.Schedule = "*/15 * *" },
			wantField: "retention.schedule",
		},
		{
			name:   "empty schedule disables sweeps",
			modify: func(c *Config) { c.Retention.Schedule = "" },
		},
		{
			name: "archive without path",
			modify: func(c *Config) {
				c.Retention.ArchiveBeforeEvict = true
				c.Retention.ArchivePath = ""
			},
			wantField: "retention.archive_path",
		},
		{
			name: "lock without redis address",
			modify: func(c *Config) {
				c.Retention.Lock.Enabled = true
				c.Retention.Lock.RedisAddress = ""
			},
			wantField: "retention.lock.redis_address",
		},
		{
			name: "lock with zero ttl",
			modify: func(c *Config) {
				c.Retention.Lock.Enabled = true
				c.Retention.Lock.TTL = 0
			},
			wantField: "retention.lock.ttl",
		},
		{
			name:      "postgres without dsn",
			modify:    func(c *Config) { c.Storage.Backend = "postgres" },
			wantField: "storage.postgres.dsn",
		},
		{
			name:      "unknown sqlite driver",
			modify:    func(c *Config) { c.Storage.SQLite.Driver = "sqlcipher" },
			wantField: "storage.sqlite.driver",
		},
		{
			name:      "listen address without port",
			modify:    func(c *Config) { c.Server.ListenAddress = "localhost" },
			wantField: "server.listen_address",
		},
		{
			name:      "invalid log level",
			modify:    func(c *Config) { c.Telemetry.Logging.Level = "verbose" },
			wantField: "telemetry.logging.level",
		},
		{
			name: "invalid redact pattern",
			modify: func(c *Config) {
				c.Telemetry.Logging.RedactPatterns = []RedactPattern{{Name: "bad", Pattern: "("}}
			},
			wantField: "telemetry.logging.redact_patterns[0].pattern",
		},
		{
			name: "tracing without endpoint",
			modify: func(c *Config) {
				c.Telemetry.Tracing.Enabled = true
			},
			wantField: "telemetry.tracing.endpoint",
		},
		{
			name:      "sample ratio out of range",
			modify:    func(c *Config) { c.Telemetry.Tracing.SampleRatio = 1.5 },
			wantField: "telemetry.tracing.sample_ratio",
		},
		{
			name:      "relative readiness path",
			modify:    func(c *Config) { c.Telemetry.Health.ReadinessPath = "ready" },
			wantField: "telemetry.health.readiness_path",
		},
		{
			name:      "check timeout too long",
			modify:    func(c *Config) { c.Telemetry.Health.CheckTimeout = 2 * time.Minute },
			wantField: "telemetry.health.check_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := Validate(cfg)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() errors = %v, want field %q", verr.Errors, tt.wantField)
			}
		})
	}
}

// TestValidationError_Error tests message formatting for one and many errors.
func TestValidationError_Error(t *testing.T) {
	one := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if got := one.Error(); got != "configuration validation failed: a: bad" {
		t.Errorf("Error() = %q", got)
	}

	many := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	got := many.Error()
	if !strings.Contains(got, "2 errors") || !strings.Contains(got, "  - b: worse") {
		t.Errorf("Error() = %q", got)
	}
}
