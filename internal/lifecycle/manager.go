package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"antman/internal/config"
	"antman/internal/logging"
	"antman/internal/state"
)

// StartState reports how Start concluded.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
	// RepairedStale is set when a dead PID record was cleared first.
	RepairedStale bool
	// Finished is set when the daemon completed its work and exited
	// cleanly before Start observed it, as a quick once-mode pass can.
	Finished bool
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	// WasRunning is false when no live daemon was recorded.
	WasRunning       bool
	StopAcknowledged bool
	ForcedKill       bool
	RepairedStale    bool
	PID              int
}

// Status is a point-in-time view of the daemon record.
type Status struct {
	PID     int
	Running bool
	Stale   bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithPollInterval sets how often Start and Stop re-read the State Store.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.poll = d
		}
	}
}

// Manager drives the daemon from control invocations.
type Manager struct {
	cfg     *config.Config
	store   *state.Store
	backend Backend
	logger  *slog.Logger
	poll    time.Duration
	state   stateBox
}

// NewManager builds a Manager over the shared State Store.
func NewManager(cfg *config.Config, store *state.Store, backend Backend, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:     cfg,
		store:   store,
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "lifecycle"),
		poll:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the phase last observed by this Manager.
func (m *Manager) State() State {
	return m.state.load()
}

// PID returns the recorded PID verbatim, NoPID when unset. No liveness
// check is made.
func (m *Manager) PID(ctx context.Context) (int, error) {
	st, err := m.store.Read(ctx)
	if err != nil {
		return state.NoPID, err
	}
	if !st.HasPID() {
		return state.NoPID, nil
	}
	return st.PID, nil
}

// Status checks the recorded PID without repairing anything.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	st, err := m.store.Read(ctx)
	if err != nil {
		return Status{PID: state.NoPID}, err
	}
	if !st.HasPID() {
		m.state.store(NotRunning)
		return Status{PID: state.NoPID}, nil
	}
	if m.backend.Alive(st.PID) {
		m.state.store(Running)
		return Status{PID: st.PID, Running: true}, nil
	}
	m.state.store(NotRunning)
	return Status{PID: st.PID, Stale: true}, nil
}

// Start launches the daemon unless a live one is recorded. A dead record is
// repaired first. The watch directory is validated before anything is
// spawned. Start returns once the child has recorded its PID.
func (m *Manager) Start(ctx context.Context) (StartResult, error) {
	st, err := m.store.Read(ctx)
	if err != nil {
		return StartResult{}, err
	}

	var result StartResult
	if st.HasPID() {
		if m.backend.Alive(st.PID) {
			m.state.store(Running)
			return StartResult{State: StartStateAlreadyRunning, PID: st.PID}, nil
		}
		if err := m.repairStale(ctx, st.PID); err != nil {
			return StartResult{}, err
		}
		result.RepairedStale = true
	}

	if err := CheckWatchDirectory(st.WatchDirectory); err != nil {
		return result, err
	}

	m.state.store(Starting)
	launched, err := m.backend.Launch(ctx)
	if err != nil {
		m.state.store(NotRunning)
		return result, err
	}
	m.logger.Debug("daemon launched", logging.Int(logging.FieldPID, launched.PID))

	pid, finished, err := m.awaitRecorded(ctx, launched)
	if err != nil {
		m.state.store(NotRunning)
		return result, err
	}
	result.PID = pid
	result.State = StartStateStarted
	result.Finished = finished
	if pid != launched.PID {
		result.State = StartStateAlreadyRunning
	}
	if finished {
		m.state.store(NotRunning)
	} else {
		m.state.store(Running)
	}
	return result, nil
}

// awaitRecorded polls until the child's PID appears. A child that exits
// because another daemon won the instance lock yields that daemon's PID; a
// child that exits cleanly is reported as finished.
func (m *Manager) awaitRecorded(ctx context.Context, launched Launched) (int, bool, error) {
	timeout := m.cfg.StartTimeout()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	started := time.Now().Add(-time.Second)
	exited := launched.Exited
	for {
		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case waitErr := <-exited:
			st, err := m.store.Read(ctx)
			if err != nil {
				return 0, false, err
			}
			if st.HasPID() && st.PID != launched.PID && m.backend.Alive(st.PID) {
				return st.PID, false, nil
			}
			if waitErr == nil && st.LastRunAt != nil && !st.LastRunAt.Before(started) {
				return launched.PID, true, nil
			}
			if waitErr == nil {
				waitErr = errors.New("exit status 0 without completing a pass")
			}
			return 0, false, fmt.Errorf("daemon exited during startup: %w (see %s)", waitErr, m.logHint())
		case <-ticker.C:
			st, err := m.store.Read(ctx)
			if err != nil {
				continue
			}
			if st.PID == launched.PID {
				return launched.PID, false, nil
			}
		case <-deadline.C:
			_ = m.backend.Terminate(launched.PID)
			return 0, false, fmt.Errorf("daemon did not record its pid within %s (see %s)", timeout, m.logHint())
		}
	}
}

// Stop terminates the recorded daemon. Nothing recorded, or a dead record,
// is a successful no-op; the dead record is cleared.
func (m *Manager) Stop(ctx context.Context) (StopResult, error) {
	st, err := m.store.Read(ctx)
	if err != nil {
		return StopResult{}, err
	}
	if !st.HasPID() {
		m.state.store(NotRunning)
		return StopResult{PID: state.NoPID}, nil
	}
	pid := st.PID
	if !m.backend.Alive(pid) {
		if err := m.repairStale(ctx, pid); err != nil {
			return StopResult{}, err
		}
		m.state.store(NotRunning)
		return StopResult{PID: pid, RepairedStale: true}, nil
	}

	result := StopResult{WasRunning: true, PID: pid}
	m.state.store(Stopping)
	if err := m.backend.Terminate(pid); err != nil {
		m.state.store(Running)
		return result, fmt.Errorf("%w: %v", ErrSignal, err)
	}
	result.StopAcknowledged = true

	if m.awaitCleared(ctx, pid, m.cfg.StopGrace()) {
		m.state.store(NotRunning)
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	logging.WarnWithContext(m.logger, "daemon ignored graceful stop; killing", "daemon_force_kill",
		logging.Int(logging.FieldPID, pid),
		logging.Duration("grace", m.cfg.StopGrace()),
		logging.String(logging.FieldImpact, "files in flight keep their original content"),
	)
	if err := m.backend.Kill(pid); err != nil {
		m.state.store(Running)
		return result, fmt.Errorf("%w: %v", ErrSignal, err)
	}
	result.ForcedKill = true
	if _, err := m.store.ClearPID(context.WithoutCancel(ctx), pid); err != nil {
		return result, fmt.Errorf("clear pid after kill: %w", err)
	}
	m.state.store(NotRunning)
	return result, nil
}

// awaitCleared waits for the daemon to clear its own record. A process
// that died without clearing is cleaned up here.
func (m *Manager) awaitCleared(ctx context.Context, pid int, grace time.Duration) bool {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			st, err := m.store.Read(ctx)
			if err == nil && st.PID != pid {
				return true
			}
			if !m.backend.Alive(pid) {
				if _, err := m.store.ClearPID(ctx, pid); err == nil {
					return true
				}
			}
		}
	}
}

func (m *Manager) repairStale(ctx context.Context, pid int) error {
	cleared, err := m.store.ClearPID(ctx, pid)
	if err != nil {
		return fmt.Errorf("clear stale pid %d: %w", pid, err)
	}
	if cleared {
		logging.WarnWithContext(m.logger, "cleared stale daemon record", "stale_pid_repaired",
			logging.Int(logging.FieldPID, pid),
			logging.String(logging.FieldImpact, "previous daemon ended without cleanup"),
			logging.String(logging.FieldErrorHint, "check the daemon log for a crash"),
		)
	}
	return nil
}

func (m *Manager) logHint() string {
	st, err := m.store.Read(context.Background())
	if err == nil && st.LogFile != "" {
		return st.LogFile
	}
	return logging.DefaultLogPath(m.cfg)
}
