package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log JSON %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger()
	if logger == nil || logger.Logger == nil {
		t.Fatal("NewLogger() returned an unusable logger")
	}
}

func TestLogLevelFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected slog.Level
	}{
		{"debug level", "DEBUG", slog.LevelDebug},
		{"info level", "INFO", slog.LevelInfo},
		{"warn level", "WARN", slog.LevelWarn},
		{"warning level", "WARNING", slog.LevelWarn},
		{"error level", "ERROR", slog.LevelError},
		{"lowercase debug", "debug", slog.LevelDebug},
		{"padded", " error ", slog.LevelError},
		{"invalid level", "LOUD", slog.LevelInfo},
		{"empty value", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(LevelEnvVar, tt.envValue)
			if level := getLogLevelFromEnv(); level != tt.expected {
				t.Errorf("getLogLevelFromEnv() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func TestCorrelationID(t *testing.T) {
	t.Run("generated IDs are unique hex", func(t *testing.T) {
		id1 := GenerateCorrelationID()
		id2 := GenerateCorrelationID()
		if len(id1) != 16 || len(id2) != 16 {
			t.Errorf("expected 16 hex characters, got %q and %q", id1, id2)
		}
		if id1 == id2 {
			t.Error("GenerateCorrelationID() returned duplicate IDs")
		}
	})

	t.Run("round trip through context", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "helm-7")
		if got := GetCorrelationID(ctx); got != "helm-7" {
			t.Errorf("GetCorrelationID() = %q, want %q", got, "helm-7")
		}
	})

	t.Run("missing from context", func(t *testing.T) {
		if got := GetCorrelationID(context.Background()); got != "" {
			t.Errorf("GetCorrelationID() = %q, want empty", got)
		}
	})

	t.Run("empty ID is generated", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "")
		if got := GetCorrelationID(ctx); len(got) != 16 {
			t.Errorf("auto-generated correlation ID %q has wrong length", got)
		}
	})
}

func TestSanitizeAttributes(t *testing.T) {
	tests := []struct {
		name     string
		attr     slog.Attr
		expected string
	}{
		{"password field", slog.String("password", "hunter2"), "[REDACTED]"},
		{"token field", slog.String("auth_token", "bearer"), "[REDACTED]"},
		{"case insensitive", slog.String("API_SECRET", "x"), "[REDACTED]"},
		{"pilot name kept", slog.String("pilot", "nemo"), "nemo"},
		{"session kept", slog.String("session_state", "running"), "running"},
		{"whole words only", slog.String("author", "bushnell"), "bushnell"},
		{"dotted key", slog.String("helm.credentials", "x"), "[REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeAttributes(nil, tt.attr).Value.String(); got != tt.expected {
				t.Errorf("sanitizeAttributes() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, slog.LevelDebug)
	ctx := WithCorrelationID(context.Background(), "test-id-123")

	tests := []struct {
		name  string
		log   func()
		level string
	}{
		{"info", func() { logger.Info(ctx, "surfaced", "depth", 0.0) }, "INFO"},
		{"warn", func() { logger.Warn(ctx, "surfaced", "depth", 0.0) }, "WARN"},
		{"debug", func() { logger.Debug(ctx, "surfaced", "depth", 0.0) }, "DEBUG"},
		{"error", func() { logger.Error(ctx, "surfaced", errors.New("flooded"), "depth", 0.0) }, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			entry := decodeEntry(t, &buf)
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %v", entry["level"], tt.level)
			}
			if entry["msg"] != "surfaced" {
				t.Errorf("msg = %v", entry["msg"])
			}
			if entry["correlation_id"] != "test-id-123" {
				t.Errorf("correlation_id = %v", entry["correlation_id"])
			}
			if tt.level == "ERROR" && entry["error"] != "flooded" {
				t.Errorf("error = %v, want flooded", entry["error"])
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, slog.LevelWarn)

	logger.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Errorf("info entry written at WARN level: %s", buf.String())
	}
	logger.Warn(context.Background(), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn entry missing at WARN level")
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, slog.LevelInfo).Component("engine")

	logger.Info(context.Background(), "tick")
	if entry := decodeEntry(t, &buf); entry["component"] != "engine" {
		t.Errorf("component = %v, want engine", entry["component"])
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "context") != nil {
		t.Error("WrapError(nil) should return nil")
	}

	base := errors.New("disk full")
	tests := []struct {
		op   string
		kv   []any
		want string
	}{
		{"write sample", nil, "write sample: disk full"},
		{"write sample", []any{"tick", 42}, "write sample tick=42: disk full"},
		{"open", []any{"path", "a.db", "mode", "rw"}, "open path=a.db mode=rw: disk full"},
		{"open", []any{"dangling"}, "open dangling: disk full"},
	}
	for _, tt := range tests {
		wrapped := WrapError(base, tt.op, tt.kv...)
		if wrapped.Error() != tt.want {
			t.Errorf("WrapError() = %q, want %q", wrapped.Error(), tt.want)
		}
		if !errors.Is(wrapped, base) {
			t.Error("WrapError() should preserve the original error")
		}
	}
}

func TestLogWithoutCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, slog.LevelInfo)

	logger.Info(context.Background(), "test message")
	if strings.Contains(buf.String(), "correlation_id") {
		t.Error("log should not contain correlation_id when none is set")
	}
}
