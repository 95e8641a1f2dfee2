// Package control implements the non-daemon side of antman: the operations
// behind `set`, `info`, `shrink` and `stop`. Every call is synchronous and
// works whether or not a daemon is running.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"antman/internal/config"
	"antman/internal/lifecycle"
	"antman/internal/preflight"
	"antman/internal/state"
	"antman/internal/whitelist"
)

// ErrInvalidPath reports a `set` argument that cannot be used.
var ErrInvalidPath = errors.New("invalid path")

// recentPassLimit bounds the pass history shown by Info.
const recentPassLimit = 5

// Client bundles the State Store and Lifecycle Manager for one invocation.
type Client struct {
	cfg     *config.Config
	store   *state.Store
	manager *lifecycle.Manager
}

// New builds a client over an open store.
func New(cfg *config.Config, store *state.Store, backend lifecycle.Backend, logger *slog.Logger, opts ...lifecycle.ManagerOption) *Client {
	return &Client{
		cfg:     cfg,
		store:   store,
		manager: lifecycle.NewManager(cfg, store, backend, logger, opts...),
	}
}

// Manager exposes the lifecycle manager.
func (c *Client) Manager() *lifecycle.Manager {
	return c.manager
}

// SetWatchDirectory records dir after checking it is an existing directory.
// The stored value is absolute.
func (c *Client) SetWatchDirectory(ctx context.Context, dir string) (string, error) {
	abs, err := absPath(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s does not exist", ErrInvalidPath, abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, abs)
	}
	if _, err := c.store.SetWatchDirectory(ctx, abs); err != nil {
		return "", err
	}
	return abs, nil
}

// SetWhitelist replaces the whitelist with the kinds listed in raw. An empty
// raw clears it.
func (c *Client) SetWhitelist(ctx context.Context, raw string) ([]string, error) {
	tokens := whitelist.Normalize(whitelist.Parse(raw))
	if _, err := c.store.SetWhitelist(ctx, tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// SetLogFile records the daemon log destination. An empty path restores the
// default under the configured log directory. The change applies the next
// time a daemon starts.
func (c *Client) SetLogFile(ctx context.Context, path string) (string, error) {
	var abs string
	if strings.TrimSpace(path) != "" {
		var err error
		abs, err = absPath(path)
		if err != nil {
			return "", err
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			return "", fmt.Errorf("%w: %s is a directory", ErrInvalidPath, abs)
		}
		if info, err := os.Stat(filepath.Dir(abs)); err != nil || !info.IsDir() {
			return "", fmt.Errorf("%w: parent directory of %s does not exist", ErrInvalidPath, abs)
		}
	}
	if _, err := c.store.SetLogFile(ctx, abs); err != nil {
		return "", err
	}
	return abs, nil
}

// PID returns the recorded daemon PID or state.NoPID.
func (c *Client) PID(ctx context.Context) (int, error) {
	return c.manager.PID(ctx)
}

// Start launches the daemon unless one is already running.
func (c *Client) Start(ctx context.Context) (lifecycle.StartResult, error) {
	return c.manager.Start(ctx)
}

// Stop terminates the daemon if one is running.
func (c *Client) Stop(ctx context.Context) (lifecycle.StopResult, error) {
	return c.manager.Stop(ctx)
}

// Info is a read-only snapshot for the `info` summary.
type Info struct {
	State      state.DaemonState
	Status     lifecycle.Status
	Passes     []state.PassRecord
	Signatures int
	StatePath  string
	Checks     []preflight.Result
}

// Info gathers the state record, daemon liveness and recent passes. It does
// not repair a stale record.
func (c *Client) Info(ctx context.Context) (Info, error) {
	st, err := c.store.Read(ctx)
	if err != nil {
		return Info{}, err
	}
	status, err := c.manager.Status(ctx)
	if err != nil {
		return Info{}, err
	}
	passes, err := c.store.RecentPasses(ctx, recentPassLimit)
	if err != nil {
		return Info{}, err
	}
	count, err := c.store.SignatureCount(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{
		State:      st,
		Status:     status,
		Passes:     passes,
		Signatures: count,
		StatePath:  c.store.Path(),
		Checks:     preflight.RunAll(c.cfg, st.WatchDirectory),
	}, nil
}

func absPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	abs, err := config.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return abs, nil
}
