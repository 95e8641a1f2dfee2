package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"antman/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The processor defaults to the dry-run backend and the daemon to a single pass.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Daemon.Mode = config.ModeOnce
	cfgVal.Daemon.StopGraceSeconds = 1
	cfgVal.Daemon.StartTimeoutSeconds = 2
	cfgVal.Processor.Kind = config.ProcessorNone
	cfgVal.Processor.Workers = 2
	cfgVal.Watch.Notify = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithIntervalMode keeps the daemon looping with the given pass interval.
func WithIntervalMode(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.Mode = config.ModeInterval
		b.cfg.Daemon.PassIntervalSeconds = seconds
	}
}

// WithWorkers overrides the processor pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processor.Workers = n
	}
}

// WithExecProcessor configures the exec backend with command and args.
func WithExecProcessor(command string, stdoutToOutput bool, args ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processor.Kind = config.ProcessorExec
		b.cfg.Processor.Command = command
		b.cfg.Processor.Args = args
		b.cfg.Processor.StdoutToOutput = stdoutToOutput
	}
}

// WithStubScript writes an executable shell script named name into a bin
// directory prepended to PATH.
func WithStubScript(name, body string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", name, err)
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// WatchDir creates and returns a fresh directory under the config base.
func WatchDir(t testing.TB, cfg *config.Config) string {
	t.Helper()
	dir := filepath.Join(BaseDir(cfg), "watch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir watch dir: %v", err)
	}
	return dir
}
