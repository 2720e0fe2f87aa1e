package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"platter/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, path, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatalf("expected no config file, got %s", path)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7415" {
		t.Fatalf("unexpected api bind: %s", cfg.Paths.APIBind)
	}
	if cfg.Units.Core != "owntone.service" || cfg.Units.Pipe != "owntone-record_player-input.service" {
		t.Fatalf("unexpected units: %+v", cfg.Units)
	}
	if cfg.Owntone.Endpoint != "http://127.0.0.1:3689/api" {
		t.Fatalf("unexpected endpoint: %s", cfg.Owntone.Endpoint)
	}
	if cfg.PollInterval() != 1500*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.WaitActiveTimeout() != 25*time.Second {
		t.Fatalf("unexpected wait-active timeout: %s", cfg.WaitActiveTimeout())
	}
}

func TestLoadParsesCustomFile(t *testing.T) {
	path := writeConfig(t, `
[paths]
api_bind = "0.0.0.0:9000"

[units]
core = "audio.service"
pipe = "capture.service"

[owntone]
endpoint = "http://owntone.local:3689/api/"

[logging]
format = "JSON"
level = "Debug"
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected file at %s, got %s exists=%v", path, resolved, exists)
	}
	if cfg.Paths.APIBind != "0.0.0.0:9000" {
		t.Fatalf("unexpected api bind: %s", cfg.Paths.APIBind)
	}
	if cfg.Units.Core != "audio.service" || cfg.Units.Pipe != "capture.service" {
		t.Fatalf("unexpected units: %+v", cfg.Units)
	}
	// Trailing slash is trimmed during normalization.
	if cfg.Owntone.Endpoint != "http://owntone.local:3689/api" {
		t.Fatalf("unexpected endpoint: %s", cfg.Owntone.Endpoint)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected lowercased logging config, got %+v", cfg.Logging)
	}
}

func TestLoadRejectsSameUnitNames(t *testing.T) {
	path := writeConfig(t, `
[units]
core = "owntone.service"
pipe = "owntone.service"
`)

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for identical unit names")
	}
}

func TestLoadRejectsNonHTTPEndpoint(t *testing.T) {
	path := writeConfig(t, `
[owntone]
endpoint = "ftp://owntone.local/api"
`)

	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "owntone.endpoint") {
		t.Fatalf("expected endpoint error, got %v", err)
	}
}

func TestLoadRejectsUnknownLogFormat(t *testing.T) {
	path := writeConfig(t, `
[logging]
format = "yaml"
`)

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}

func TestLoadRejectsNegativeNotificationTimeout(t *testing.T) {
	path := writeConfig(t, `
[notifications]
request_timeout = -1
`)

	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "notifications.request_timeout") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestNonPositiveTimingsFallBackToDefaults(t *testing.T) {
	path := writeConfig(t, `
[reconciler]
poll_interval_millis = 0
wait_active_timeout = -3
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PollInterval() != 1500*time.Millisecond {
		t.Fatalf("expected default poll interval, got %s", cfg.PollInterval())
	}
	if cfg.WaitActiveTimeout() != 25*time.Second {
		t.Fatalf("expected default wait-active timeout, got %s", cfg.WaitActiveTimeout())
	}
}

func TestExpandPathResolvesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	expanded, err := config.ExpandPath("~/data/platter")
	if err != nil {
		t.Fatalf("ExpandPath returned error: %v", err)
	}
	if expanded != filepath.Join(home, "data", "platter") {
		t.Fatalf("unexpected expansion: %s", expanded)
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config is invalid: %v", err)
	}
}

func TestEnsureDirectoriesCreatesTree(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "data", "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}
}
