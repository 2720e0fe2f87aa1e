package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUnits(); err != nil {
		return err
	}
	if err := c.validateOwntone(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUnits() error {
	if c.Units.Core == "" {
		return errors.New("units.core must be set")
	}
	if c.Units.Pipe == "" {
		return errors.New("units.pipe must be set")
	}
	if c.Units.Core == c.Units.Pipe {
		return errors.New("units.core and units.pipe must name different units")
	}
	return nil
}

func (c *Config) validateOwntone() error {
	if !strings.HasPrefix(c.Owntone.Endpoint, "http://") && !strings.HasPrefix(c.Owntone.Endpoint, "https://") {
		return fmt.Errorf("owntone.endpoint must be an http(s) URL, got %q", c.Owntone.Endpoint)
	}
	return nil
}

func (c *Config) validateTimings() error {
	return ensurePositiveMap(map[string]int{
		"owntone.timeout_seconds":           c.Owntone.TimeoutSeconds,
		"reconciler.poll_interval_millis":   c.Reconciler.PollIntervalMillis,
		"reconciler.wait_active_timeout":    c.Reconciler.WaitActiveTimeout,
		"reconciler.wait_outputs_timeout":   c.Reconciler.WaitOutputsTimeout,
		"reconciler.outputs_retry_millis":   c.Reconciler.OutputsRetryMillis,
		"reconciler.subscriber_buffer_size": c.Reconciler.SubscriberBufferSize,
		"notifications.request_timeout":     c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be greater than zero", key)
		}
	}
	return nil
}
