package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/vigil/pkg/config"
)

// TestNew tests tracer creation.
func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		config      *config.TracingConfig
		wantErr     bool
		wantEnabled bool
	}{
		{name: "nil config", config: nil, wantErr: true},
		{
			name:   "disabled tracing",
			config: &config.TracingConfig{Enabled: false, ServiceName: "test-service"},
		},
		{
			name: "enabled with ratio sampler",
			config: &config.TracingConfig{
				Enabled:     true,
				Sampler:     "ratio",
				SampleRatio: 0.5,
				Endpoint:    "localhost:4317",
				ServiceName: "test-service",
				OTLP:        config.OTLPConfig{Insecure: true, Timeout: time.Second},
			},
			wantEnabled: true,
		},
		{
			name: "invalid sampler",
			config: &config.TracingConfig{
				Enabled:  true,
				Sampler:  "sometimes",
				Endpoint: "localhost:4317",
				OTLP:     config.OTLPConfig{Insecure: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := New(tt.config, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer tracer.Shutdown(context.Background())

			if tracer.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.wantEnabled)
			}

			_, span := tracer.Start(context.Background(), "op")
			span.End()
		})
	}
}

// TestTracer_ExportsSpans tests span export and attribute helpers.
func TestTracer_ExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(&config.TracingConfig{
		Enabled:     true,
		Sampler:     SamplerAlways,
		ServiceName: "vigil-test",
	}, "test", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.Start(context.Background(), "GET /v1/owners/{key}")
	SetRequestAttributes(span, http.MethodGet, "GET /v1/owners/{key}", "req-1")
	SetOwner(span, "alice")
	SetStatusCode(span, http.StatusInternalServerError)
	SetError(span, errors.New("storage unavailable"))

	if TraceID(ctx) == "" {
		t.Error("TraceID() is empty inside a sampled span")
	}
	span.End()

	if err := tracer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]

	if got.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", got.Status.Code)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range got.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if attrs[AttrOwnerKey].AsString() != "alice" {
		t.Errorf("%s = %v", AttrOwnerKey, attrs[AttrOwnerKey])
	}
	if attrs[AttrRequestID].AsString() != "req-1" {
		t.Errorf("%s = %v", AttrRequestID, attrs[AttrRequestID])
	}
	if attrs["http.status_code"].AsInt64() != 500 {
		t.Errorf("http.status_code = %v", attrs["http.status_code"])
	}
	if len(got.Events) == 0 {
		t.Error("error event not recorded")
	}
}

// TestTracer_NamedTracer tests that named tracers share the provider.
func TestTracer_NamedTracer(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(&config.TracingConfig{Enabled: true, Sampler: SamplerAlways}, "test", exporter)
	if err != nil {
		t.Fatal(err)
	}
	defer tracer.Shutdown(context.Background())

	_, span := tracer.Tracer("mercator-hq/vigil/retention").Start(context.Background(), "retention.sweep_all")
	span.End()
	_ = tracer.Flush(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].InstrumentationScope.Name != "mercator-hq/vigil/retention" {
		t.Errorf("spans = %+v", spans)
	}
}

// TestCreateSampler tests sampler strategies.
func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.25, false},
		{"", 0.1, false},
		{SamplerRatio, 1.5, true},
		{"sometimes", 0, true},
	}

	for _, tt := range tests {
		sampler, err := createSampler(tt.strategy, tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("createSampler(%q, %v) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
		}
		if !tt.wantErr && sampler == nil {
			t.Errorf("createSampler(%q) returned nil", tt.strategy)
		}
	}
}

// TestPropagation tests traceparent extraction and injection.
func TestPropagation(t *testing.T) {
	tracer, err := NewWithExporter(&config.TracingConfig{Enabled: true, Sampler: SamplerAlways}, "test", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tracer.Shutdown(context.Background())

	headers := http.Header{}
	headers.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	ctx := Extract(context.Background(), headers)
	sc := trace.SpanContextFromContext(ctx)
	if sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("extracted trace ID = %s", sc.TraceID())
	}

	ctx, span := tracer.Start(ctx, "child")
	defer span.End()

	out := http.Header{}
	Inject(ctx, out)
	if got := out.Get("traceparent"); len(got) != 55 || got[3:35] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("injected traceparent = %q", got)
	}
}
