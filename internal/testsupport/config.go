// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"platter/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test
// and timings short enough for tests to exercise timeout paths.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Reconciler.PollIntervalMillis = 10
	cfg.Reconciler.WaitActiveTimeout = 1
	cfg.Reconciler.WaitOutputsTimeout = 1
	cfg.Reconciler.OutputsRetryMillis = 5
	cfg.Monitor.SoundHotplug = false

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithUnits overrides the managed unit names on the test config.
func WithUnits(core, pipe string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Units.Core = core
		cfg.Units.Pipe = pipe
	}
}

// WithOwntoneEndpoint points the audio client at a test server.
func WithOwntoneEndpoint(endpoint string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Owntone.Endpoint = endpoint
	}
}
