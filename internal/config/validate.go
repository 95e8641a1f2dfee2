package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateProcessor(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDaemon() error {
	switch c.Daemon.Mode {
	case ModeInterval:
		if c.Daemon.PassIntervalSeconds <= 0 {
			return errors.New("daemon.pass_interval_seconds must be positive")
		}
	case ModeOnce:
	default:
		return fmt.Errorf("daemon.mode %q is not one of %q, %q", c.Daemon.Mode, ModeInterval, ModeOnce)
	}
	if c.Daemon.StopGraceSeconds < 0 {
		return errors.New("daemon.stop_grace_seconds must not be negative")
	}
	if c.Daemon.StartTimeoutSeconds <= 0 {
		return errors.New("daemon.start_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateProcessor() error {
	switch c.Processor.Kind {
	case ProcessorExec:
		if c.Processor.Command == "" {
			return errors.New("processor.command must be set when processor.kind is exec")
		}
	case ProcessorDrapto, ProcessorNone:
	default:
		return fmt.Errorf("processor.kind %q is not one of %q, %q, %q", c.Processor.Kind, ProcessorExec, ProcessorDrapto, ProcessorNone)
	}
	if c.Processor.TimeoutSeconds < 0 {
		return errors.New("processor.timeout_seconds must not be negative")
	}
	if c.Processor.Workers < 0 {
		return errors.New("processor.workers must not be negative")
	}
	if c.Processor.MaxAttempts < 1 {
		return errors.New("processor.max_attempts must be at least 1")
	}
	return nil
}
