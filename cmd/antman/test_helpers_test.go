package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"antman/internal/config"
	"antman/internal/lifecycle"
	"antman/internal/testsupport"
)

// inProcessBackend runs the daemon loop in a goroutine of the test process
// instead of forking. The daemon records os.Getpid(), so that is the PID
// the backend reports.
type inProcessBackend struct {
	mu       sync.Mutex
	cfg      *config.Config
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	launches int
}

func (b *inProcessBackend) factory(c *commandContext, daemonArgs []string) (lifecycle.Backend, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	copied := *cfg
	if slices.Contains(daemonArgs, "--once") {
		copied.Daemon.Mode = config.ModeOnce
	}
	b.mu.Lock()
	b.cfg = &copied
	b.mu.Unlock()
	return b, nil
}

func (b *inProcessBackend) Launch(context.Context) (lifecycle.Launched, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	exited := make(chan error, 1)
	b.cancel = cancel
	b.done = done
	b.running = true
	b.launches++
	cfg := b.cfg

	go func() {
		err := runDaemon(ctx, cfg, io.Discard)
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		close(done)
		exited <- err
	}()
	return lifecycle.Launched{PID: os.Getpid(), Exited: exited}, nil
}

func (b *inProcessBackend) Alive(pid int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running && pid == os.Getpid()
}

func (b *inProcessBackend) Terminate(int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

func (b *inProcessBackend) Kill(pid int) error {
	return b.Terminate(pid)
}

func (b *inProcessBackend) launchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.launches
}

// wait blocks until the last launched daemon has returned.
func (b *inProcessBackend) wait(t *testing.T) {
	t.Helper()
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit")
	}
}

type cliEnv struct {
	cfg        *config.Config
	configPath string
	watchDir   string
	backend    *inProcessBackend
}

func setupCLIEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)

	configPath := filepath.Join(base, "antman.toml")
	writeTestConfig(t, configPath, cfg)

	env := &cliEnv{
		cfg:        cfg,
		configPath: configPath,
		watchDir:   testsupport.WatchDir(t, cfg),
		backend:    &inProcessBackend{},
	}
	t.Cleanup(func() {
		_ = env.backend.Terminate(0)
		env.backend.wait(t)
	})
	return env
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := buildRootCommand(e.backend.factory)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("antman %s: %v (stderr: %s)", strings.Join(args, " "), err, stderr)
	}
	return out
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
