package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Daemon contains run loop timing.
type Daemon struct {
	Mode                string `toml:"mode"`
	PassIntervalSeconds int    `toml:"pass_interval_seconds"`
	StopGraceSeconds    int    `toml:"stop_grace_seconds"`
	StartTimeoutSeconds int    `toml:"start_timeout_seconds"`
}

// Processor selects and tunes the shrink backend.
type Processor struct {
	Kind           string   `toml:"kind"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	StdoutToOutput bool     `toml:"stdout_to_output"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Workers        int      `toml:"workers"`
	MaxAttempts    int      `toml:"max_attempts"`
}

// Watch controls filesystem notifications between passes.
type Watch struct {
	Notify     bool `toml:"notify"`
	DebounceMS int  `toml:"debounce_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	MaxSizeMB     int    `toml:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups"`
	Compress      bool   `toml:"compress"`
}

// Config encapsulates all configuration values for antman.
//
// Configuration sections by subsystem:
//   - Paths: state database and log directories
//   - Daemon: pass repetition, stop grace period, start timeout
//   - Processor: the collaborator that shrinks individual files
//   - Watch: filesystem nudges between passes
//   - Logging: log format, level, rotation and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Daemon    Daemon    `toml:"daemon"`
	Processor Processor `toml:"processor"`
	Watch     Watch     `toml:"watch"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
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

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("antman.toml")
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

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatePath returns the SQLite database holding daemon state.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// StateLockPath returns the advisory lock serializing state updates.
func (c *Config) StateLockPath() string {
	return filepath.Join(c.Paths.StateDir, "state.lock")
}

// InstanceLockPath returns the lock held by the running daemon.
func (c *Config) InstanceLockPath() string {
	return filepath.Join(c.Paths.StateDir, "antman.lock")
}

// RunOnce reports whether the daemon exits after a single pass.
func (c *Config) RunOnce() bool {
	return c.Daemon.Mode == ModeOnce
}

// PassInterval returns the wait between passes in interval mode.
func (c *Config) PassInterval() time.Duration {
	return time.Duration(c.Daemon.PassIntervalSeconds) * time.Second
}

// StopGrace returns how long stop waits before force killing.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Daemon.StopGraceSeconds) * time.Second
}

// ProcessorGrace is how long a cancelled external command may run after
// SIGTERM. It is half the stop grace so the daemon can reap its children
// and exit before stop resorts to SIGKILL.
func (c *Config) ProcessorGrace() time.Duration {
	return c.StopGrace() / 2
}

// StartTimeout bounds how long shrink waits for the child to record its PID.
func (c *Config) StartTimeout() time.Duration {
	return time.Duration(c.Daemon.StartTimeoutSeconds) * time.Second
}

// ProcessorTimeout bounds a single file dispatch. Zero disables the bound.
func (c *Config) ProcessorTimeout() time.Duration {
	return time.Duration(c.Processor.TimeoutSeconds) * time.Second
}

// WatchDebounce returns the quiet period before a filesystem nudge fires.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// WorkerCount resolves the processor pool size.
func (c *Config) WorkerCount() int {
	if c.Processor.Workers > 0 {
		return c.Processor.Workers
	}
	return min(defaultWorkers, runtime.NumCPU())
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
