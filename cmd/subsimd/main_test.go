package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/go-subsim/pkg/config"
	"github.com/opd-ai/go-subsim/pkg/engine"
	"github.com/opd-ai/go-subsim/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewLoggerWithWriter(io.Discard, slog.LevelError)
}

func TestLoadSimConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := loadSimConfig(filepath.Join(dir, "absent.json"), quietLogger())
		if err != nil {
			t.Fatalf("loadSimConfig() failed: %v", err)
		}
		if cfg.Network.ServerAddress != config.DefaultConfig().Network.ServerAddress {
			t.Errorf("address = %q, want default", cfg.Network.ServerAddress)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := filepath.Join(dir, "config.json")
		if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
			t.Fatal(err)
		}
		t.Setenv(config.EnvWarningDepth, "80")
		t.Setenv(config.EnvServerPort, "5000")

		cfg, err := loadSimConfig(path, quietLogger())
		if err != nil {
			t.Fatalf("loadSimConfig() failed: %v", err)
		}
		if cfg.Hull.WarningDepth != 80 {
			t.Errorf("warning depth = %v, want 80", cfg.Hull.WarningDepth)
		}
		if !strings.HasSuffix(cfg.Network.ServerAddress, ":5000") {
			t.Errorf("address = %q, want port 5000", cfg.Network.ServerAddress)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := loadSimConfig(path, quietLogger()); err == nil {
			t.Error("expected an error for a malformed file")
		}
	})
}

func newTestDaemon(t *testing.T) *daemon {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Network.UpdateRate = 200
	cfg.DiveLog.Enabled = true
	cfg.DiveLog.Path = ""
	cfg.DiveLog.SampleEvery = 1

	env := config.DefaultEnvironmentConfig()
	env.ShutdownTimeout = 2 * time.Second

	d, err := newDaemon(cfg, env, quietLogger())
	if err != nil {
		t.Fatalf("newDaemon() failed: %v", err)
	}
	t.Cleanup(func() { d.close(context.Background(), quietLogger()) })
	return d
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDaemon_Checks(t *testing.T) {
	d := newTestDaemon(t)
	want := []string{"depth_safety", "divelog", "memory", "network", "resource", "session"}
	got := d.checker.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("checks = %v, want %v", got, want)
	}
}

func TestDaemon_OpsHandler(t *testing.T) {
	d := newTestDaemon(t)
	h := d.opsHandler()

	if rec := get(t, h, "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready before start = %d, want 503", rec.Code)
	}

	if err := d.server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for get(t, h, "/ready").Code != http.StatusOK {
		if time.Now().After(deadline) {
			t.Fatalf("/ready never became healthy: %s", get(t, h, "/ready").Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec := get(t, h, "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}

	rec := get(t, h, StatePath)
	if rec.Code != http.StatusOK {
		t.Fatalf("/state = %d", rec.Code)
	}
	var state engine.SessionState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.WarningDepth != config.DefaultConfig().Hull.WarningDepth {
		t.Errorf("state warning depth = %v", state.WarningDepth)
	}

	post := httptest.NewRecorder()
	h.ServeHTTP(post, httptest.NewRequest(http.MethodPost, StatePath, nil))
	if post.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /state = %d, want 405", post.Code)
	}

	body := get(t, h, "/metrics").Body.String()
	for _, name := range []string{"subsim_ticks_total", "subsim_http_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestDaemon_DiveLogRecordsTelemetry(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		samples, err := d.diveLog.Samples(5)
		if err != nil {
			t.Fatalf("Samples() failed: %v", err)
		}
		if len(samples) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no telemetry recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
