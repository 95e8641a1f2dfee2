// Package lifecycle owns the single daemon instance.
//
// The Manager runs inside control invocations: it decides whether a daemon
// is alive from the PID recorded in the State Store, launches a detached one
// through a Backend and stops it with a graceful signal followed by a forced
// kill. The Daemon runs inside the detached process: it takes the instance
// lock, records its PID before the first pass, loops shrink passes and clears
// its PID on the way out.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

var (
	// ErrNotConfigured reports a missing or unusable watch directory.
	ErrNotConfigured = errors.New("watch directory not configured")
	// ErrAlreadyRunning is returned by a daemon that lost the instance lock
	// to another daemon.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrSignal reports that a termination signal could not be delivered;
	// the daemon may still be running.
	ErrSignal = errors.New("signal delivery failed")
)

// State is the lifecycle phase observed by a Manager or Daemon.
type State int32

const (
	NotRunning State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case NotRunning:
		return "not_running"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State   { return State(b.v.Load()) }
func (b *stateBox) store(s State) { b.v.Store(int32(s)) }

// CheckWatchDirectory verifies dir is set and names an existing directory.
func CheckWatchDirectory(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: run `antman set -w <dir>` first", ErrNotConfigured)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotConfigured, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotConfigured, dir)
	}
	return nil
}
