package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"antman/internal/config"
	"antman/internal/control"
	"antman/internal/lifecycle"
	"antman/internal/logging"
	"antman/internal/state"
)

var errConflictingFlags = errors.New("--start and --stop cannot be combined")

// backendFactory builds the lifecycle backend used by `shrink` and `stop`.
// daemonArgs are the arguments the detached daemon is launched with.
type backendFactory func(c *commandContext, daemonArgs []string) (lifecycle.Backend, error)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	newBackend backendFactory
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		newBackend: processBackend,
	}
}

func processBackend(_ *commandContext, daemonArgs []string) (lifecycle.Backend, error) {
	return lifecycle.NewProcessBackend(daemonArgs...)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// daemonArgs forwards the settings file to the detached daemon.
func (c *commandContext) daemonArgs(once bool) []string {
	args := []string{"daemon"}
	if path := c.configFlagValue(); path != "" {
		args = append(args, "--config", path)
	}
	if once {
		args = append(args, "--once")
	}
	return args
}

// controlLogger reports warnings (stale repairs, forced kills) on stderr.
func controlLogger(cfg *config.Config) *slog.Logger {
	logger, err := logging.New(logging.Options{
		Level:            "warn",
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// withClient opens the State Store for the duration of fn.
func (c *commandContext) withClient(daemonArgs []string, fn func(*control.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := state.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	backend, err := c.newBackend(c, daemonArgs)
	if err != nil {
		return err
	}
	return fn(control.New(cfg, store, backend, controlLogger(cfg)))
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func formatPID(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", pid)
}
