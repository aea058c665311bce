package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadRuntime_Defaults(t *testing.T) {
	t.Setenv("FX_HISTORY_DB", "/tmp/history.db")

	rt, err := LoadRuntime()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rt.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", rt.LogLevel)
	}
	if rt.LockBackend != "file" {
		t.Errorf("expected file lock backend, got %s", rt.LockBackend)
	}
	if rt.LockRetries != 10 || rt.LockRetryDelay != time.Second {
		t.Errorf("unexpected lock retry settings %d/%s", rt.LockRetries, rt.LockRetryDelay)
	}
	if !rt.Interactive {
		t.Error("expected interactive by default")
	}
	if rt.HistoryDB != "/tmp/history.db" {
		t.Errorf("unexpected history db %s", rt.HistoryDB)
	}
}

func TestLoadRuntime_Overrides(t *testing.T) {
	t.Setenv("FX_LOG_LEVEL", "debug")
	t.Setenv("FX_LOCK_BACKEND", "redis")
	t.Setenv("FX_REDIS_ADDR", "localhost:6379")
	t.Setenv("FX_LOCK_RETRY_DELAY", "250ms")
	t.Setenv("FX_INTERACTIVE", "false")

	rt, err := LoadRuntime()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.LogLevel != "debug" || rt.LockBackend != "redis" || rt.RedisAddr != "localhost:6379" {
		t.Errorf("overrides not applied: %+v", rt)
	}
	if rt.LockRetryDelay != 250*time.Millisecond {
		t.Errorf("unexpected delay %s", rt.LockRetryDelay)
	}
	if rt.Interactive {
		t.Error("expected non-interactive")
	}
	if rt.HistoryDB == "" {
		t.Error("expected a default history db path")
	}
}

func TestLoadRuntime_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad level", map[string]string{"FX_LOG_LEVEL": "verbose"}},
		{"redis without address", map[string]string{"FX_LOCK_BACKEND": "redis"}},
		{"otlp without endpoint", map[string]string{"FX_TRACE_EXPORTER": "otlp"}},
		{"zero retries", map[string]string{"FX_LOCK_RETRIES": "0"}},
		{"unparsable duration", map[string]string{"FX_LOCK_RETRY_DELAY": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadRuntime(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRuntime_Telemetry(t *testing.T) {
	rt := &Runtime{
		LogLevel:         "warn",
		LogFormat:        "json",
		TelemetryEnabled: true,
		TraceExporter:    "stdout",
		MetricsAddr:      "127.0.0.1:9464",
	}

	cfg := rt.Telemetry("1.2.3")
	if cfg.ServiceVersion != "1.2.3" {
		t.Errorf("unexpected version %s", cfg.ServiceVersion)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "stdout" {
		t.Errorf("unexpected tracing config %+v", cfg.Tracing)
	}
	if cfg.Metrics.ListenAddress != "127.0.0.1:9464" {
		t.Errorf("unexpected metrics address %s", cfg.Metrics.ListenAddress)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("derived config is invalid: %v", err)
	}

	rt.TelemetryEnabled = false
	cfg = rt.Telemetry("1.2.3")
	if cfg.Tracing.Enabled || cfg.Events.Enabled || cfg.Metrics.Enabled {
		t.Error("expected telemetry disabled")
	}
}

func TestUsage(t *testing.T) {
	usage := Usage()
	for _, name := range []string{"FX_LOG_LEVEL", "FX_LOCK_BACKEND", "FX_HISTORY_DB"} {
		if !strings.Contains(usage, name) {
			t.Errorf("usage does not mention %s", name)
		}
	}
}
