package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/starmod/pkg/fault"
)

func testLogger(t *testing.T) *Logger {
	t.Helper()
	return newLogger(io.Discard, LoggingConfig{Level: "debug", Format: "json"})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "no service name", modify: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "log level"},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "log format"},
		{
			name: "bad exporter",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: "trace exporter",
		},
		{
			name: "otlp without endpoint",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "endpoint",
		},
		{name: "sampling rate", modify: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: "sampling rate"},
		{
			name: "metrics without address",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
			wantErr: "listen address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, LoggingConfig{Level: "info", Format: "json"})

	l.NewComponentLogger("loader").WithRequireID("r-1").WithModule("/a").Info("Module loaded")
	l.Debug("dropped below level")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1:\n%s", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for key, want := range map[string]string{
		"component":  "loader",
		"require_id": "r-1",
		"module":     "/a",
		"message":    "Module loaded",
		"level":      "info",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starmod.log")

	l, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	l.Info("hello")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestLogger_Context(t *testing.T) {
	l := testLogger(t)
	ctx := l.WithContext(context.Background())
	if FromContext(ctx) != l {
		t.Error("FromContext() did not return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext() without a logger returned nil")
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]string{
		"trace": "trace", "debug": "debug", "warn": "warn",
		"error": "error", "bogus": "info", "": "info",
	} {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestOperation(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	metrics, _ := NewMetrics(MetricsConfig{})

	tel := &Telemetry{
		Logger:  testLogger(t),
		Tracer:  &Tracer{provider: provider, tracer: provider.Tracer("test")},
		Metrics: metrics,
		Config:  DefaultConfig(),
	}
	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Fatal("FromTelemetryContext() did not return the stored telemetry")
	}

	op := StartOperation(ctx, "greeter")
	if TraceID(op.Ctx) == "" {
		t.Error("operation context carries no trace id")
	}
	op.End(fault.Newf(fault.ModuleNotFound, "cannot locate module %q", "greeter"))

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	span := ended[0]
	if span.Name() != "loader.require" {
		t.Errorf("span name = %q", span.Name())
	}

	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["require.identifier"] != "greeter" || attrs["fault.kind"] != "module_not_found" {
		t.Errorf("span attributes = %v", attrs)
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestOperationWithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "x")
	if op.Span != nil {
		t.Error("operation without telemetry has a span")
	}
	if d := op.End(errors.New("boom")); d < 0 {
		t.Errorf("End() = %v", d)
	}
}

func TestNewTracerDisabled(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "starmod", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	if tr.Trace() == nil {
		t.Fatal("Trace() = nil")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
