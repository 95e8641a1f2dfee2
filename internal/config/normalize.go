package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDaemon()
	c.normalizeProcessor()
	c.normalizeWatch()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("ANTMAN_STATE_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.StateDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("ANTMAN_LOG_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.LogDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = c.Paths.StateDir + "/logs"
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDaemon() {
	c.Daemon.Mode = strings.ToLower(strings.TrimSpace(c.Daemon.Mode))
	if c.Daemon.Mode == "" {
		c.Daemon.Mode = ModeInterval
	}
	if c.Daemon.StartTimeoutSeconds == 0 {
		c.Daemon.StartTimeoutSeconds = defaultStartTimeoutSeconds
	}
}

func (c *Config) normalizeProcessor() {
	c.Processor.Kind = strings.ToLower(strings.TrimSpace(c.Processor.Kind))
	if c.Processor.Kind == "" {
		c.Processor.Kind = defaultProcessorKind
	}
	c.Processor.Command = strings.TrimSpace(c.Processor.Command)
	if c.Processor.MaxAttempts == 0 {
		c.Processor.MaxAttempts = defaultMaxAttempts
	}
}

func (c *Config) normalizeWatch() {
	if c.Watch.DebounceMS < 0 {
		c.Watch.DebounceMS = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
}
