package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/vigil/pkg/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

// TestNew tests level and format parsing.
func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid JSON config", Config{Level: "info", Format: "json", RedactPII: true}, false},
		{"valid text config", Config{Level: "debug", Format: "text"}, false},
		{"console maps to text", Config{Level: "warn", Format: "console"}, false},
		{"defaults", Config{}, false},
		{"invalid log level", Config{Level: "invalid", Format: "json"}, true},
		{"invalid format", Config{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Writer = &bytes.Buffer{}
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

// TestLogger_JSONOutput tests structured output with redaction.
func TestLogger_JSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", RedactPII: true, Writer: buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("sweep completed",
		"owner", "alice@example.com",
		"evicted", 3,
		"dsn", "postgres://vigil:secret@db/vigil",
		"error", errors.New("owner bob@example.org failed"),
	)

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	entry := lines[0]

	if entry["msg"] != "sweep completed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["owner"] != "***@example.com" {
		t.Errorf("owner = %v, want redacted email", entry["owner"])
	}
	if entry["evicted"] != float64(3) {
		t.Errorf("evicted = %v, want 3", entry["evicted"])
	}
	if entry["dsn"] != "***" {
		t.Errorf("dsn = %v, want ***", entry["dsn"])
	}
	if entry["error"] != "owner ***@example.org failed" {
		t.Errorf("error = %v", entry["error"])
	}
}

// TestLogger_NoRedaction tests that values pass through when disabled.
func TestLogger_NoRedaction(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", Writer: buf})
	if err != nil {
		t.Fatal(err)
	}
	if logger.Redactor() != nil {
		t.Error("Redactor() != nil with RedactPII disabled")
	}

	logger.Info("created", "owner", "alice@example.com")

	if entry := decodeLines(t, buf)[0]; entry["owner"] != "alice@example.com" {
		t.Errorf("owner = %v, want unredacted", entry["owner"])
	}
}

// TestLogger_SetLevel tests runtime level changes on derived loggers.
func TestLogger_SetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", Writer: buf})
	if err != nil {
		t.Fatal(err)
	}
	component := logger.With("component", "retention.sweeper")

	component.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at info level: %s", buf.String())
	}

	if err := logger.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if logger.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", logger.Level())
	}

	component.Debug("visible")
	lines := decodeLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "visible" || lines[0]["component"] != "retention.sweeper" {
		t.Errorf("lines = %v", lines)
	}

	if err := logger.SetLevel("loud"); err == nil {
		t.Error("SetLevel(\"loud\") error = nil, want error")
	}
}

// TestLogger_ContextFields tests request, owner and trace enrichment.
func TestLogger_ContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", Writer: buf})
	if err != nil {
		t.Fatal(err)
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x01, 0x02},
		SpanID:  trace.SpanID{0x03},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithRequestID(ctx, "req-42")
	ctx = WithOwner(ctx, "alice")

	logger.InfoContext(ctx, "handled")
	logger.Info("no context")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["request_id"] != "req-42" || lines[0]["owner_key"] != "alice" {
		t.Errorf("context fields = %v", lines[0])
	}
	if lines[0]["trace_id"] != sc.TraceID().String() || lines[0]["span_id"] != sc.SpanID().String() {
		t.Errorf("trace fields = %v", lines[0])
	}
	if _, ok := lines[1]["request_id"]; ok {
		t.Errorf("request_id present without context: %v", lines[1])
	}
}

// TestConfigFrom tests conversion from the application configuration.
func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.LoggingConfig{
		Level:          "warn",
		Format:         "text",
		AddSource:      true,
		RedactPII:      true,
		RedactPatterns: []config.RedactPattern{{Name: "n", Pattern: "x", Replacement: "y"}},
	})
	if cfg.Level != "warn" || cfg.Format != "text" || !cfg.AddSource || !cfg.RedactPII || len(cfg.RedactPatterns) != 1 {
		t.Errorf("ConfigFrom() = %+v", cfg)
	}
}
