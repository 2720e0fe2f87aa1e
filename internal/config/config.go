package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Units names the two systemd units managed as one logical pair.
type Units struct {
	Core string `toml:"core"`
	Pipe string `toml:"pipe"`
}

// Owntone contains connection settings for the audio server control API.
type Owntone struct {
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Reconciler contains polling intervals and startup timeouts, in seconds
// unless noted.
type Reconciler struct {
	PollIntervalMillis   int `toml:"poll_interval_millis"`
	WaitActiveTimeout    int `toml:"wait_active_timeout"`
	WaitOutputsTimeout   int `toml:"wait_outputs_timeout"`
	OutputsRetryMillis   int `toml:"outputs_retry_millis"`
	SubscriberBufferSize int `toml:"subscriber_buffer_size"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Lifecycle      bool   `toml:"lifecycle"`
	Defaults       bool   `toml:"defaults"`
	Errors         bool   `toml:"errors"`
}

// Monitor contains configuration for the udev sound-card monitor.
type Monitor struct {
	SoundHotplug bool `toml:"sound_hotplug"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Platter.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Units: systemd unit names for the audio server and the capture pipe
//   - Owntone: audio server control API endpoint and timeout
//   - Reconciler: poll cadence and activation timeouts
//   - Notifications: ntfy push notification settings
//   - Monitor: udev sound-card hotplug detection
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Units         Units         `toml:"units"`
	Owntone       Owntone       `toml:"owntone"`
	Reconciler    Reconciler    `toml:"reconciler"`
	Notifications Notifications `toml:"notifications"`
	Monitor       Monitor       `toml:"monitor"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/platter/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("platter.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval returns the reconciler tick cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Reconciler.PollIntervalMillis) * time.Millisecond
}

// WaitActiveTimeout returns how long a unit start waits for the unit to
// report active.
func (c *Config) WaitActiveTimeout() time.Duration {
	return time.Duration(c.Reconciler.WaitActiveTimeout) * time.Second
}

// WaitOutputsTimeout bounds the post-activation wait for a non-empty output
// list from the audio server.
func (c *Config) WaitOutputsTimeout() time.Duration {
	return time.Duration(c.Reconciler.WaitOutputsTimeout) * time.Second
}

// OutputsRetryInterval returns the retry cadence while waiting for outputs.
func (c *Config) OutputsRetryInterval() time.Duration {
	return time.Duration(c.Reconciler.OutputsRetryMillis) * time.Millisecond
}

// OwntoneTimeout bounds every audio-server HTTP call.
func (c *Config) OwntoneTimeout() time.Duration {
	return time.Duration(c.Owntone.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
