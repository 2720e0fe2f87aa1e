package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeUnits()
	c.normalizeOwntone()
	c.normalizeReconciler()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeUnits() {
	c.Units.Core = strings.TrimSpace(c.Units.Core)
	if c.Units.Core == "" {
		c.Units.Core = defaultCoreUnit
	}
	c.Units.Pipe = strings.TrimSpace(c.Units.Pipe)
	if c.Units.Pipe == "" {
		c.Units.Pipe = defaultPipeUnit
	}
}

func (c *Config) normalizeOwntone() {
	c.Owntone.Endpoint = strings.TrimRight(strings.TrimSpace(c.Owntone.Endpoint), "/")
	if c.Owntone.Endpoint == "" {
		c.Owntone.Endpoint = defaultOwntoneEndpoint
	}
	if c.Owntone.TimeoutSeconds <= 0 {
		c.Owntone.TimeoutSeconds = defaultOwntoneTimeout
	}
}

func (c *Config) normalizeReconciler() {
	if c.Reconciler.PollIntervalMillis <= 0 {
		c.Reconciler.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Reconciler.WaitActiveTimeout <= 0 {
		c.Reconciler.WaitActiveTimeout = defaultWaitActiveTimeout
	}
	if c.Reconciler.WaitOutputsTimeout <= 0 {
		c.Reconciler.WaitOutputsTimeout = defaultWaitOutputsTimeout
	}
	if c.Reconciler.OutputsRetryMillis <= 0 {
		c.Reconciler.OutputsRetryMillis = defaultOutputsRetryMillis
	}
	if c.Reconciler.SubscriberBufferSize <= 0 {
		c.Reconciler.SubscriberBufferSize = defaultSubscriberBuffer
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
