package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"

	"antman/internal/config"
	"antman/internal/logging"
	"antman/internal/state"
)

// PassRunner executes one shrink pass.
type PassRunner interface {
	RunPass(ctx context.Context) (state.PassRecord, error)
}

// scratchSweeper is implemented by runners that can clear scratch files a
// previous daemon left behind.
type scratchSweeper interface {
	SweepScratch(ctx context.Context) int
}

// Daemon is the run loop of the detached process.
type Daemon struct {
	cfg    *config.Config
	store  *state.Store
	runner PassRunner
	logger *slog.Logger
	pid    int
	now    func() time.Time
	state  stateBox
}

// NewDaemon wires the run loop for the current process.
func NewDaemon(cfg *config.Config, store *state.Store, runner PassRunner, logger *slog.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		store:  store,
		runner: runner,
		logger: logging.NewComponentLogger(logger, "daemon"),
		pid:    os.Getpid(),
		now:    time.Now,
	}
}

// State returns the current phase of the run loop.
func (d *Daemon) State() State {
	return d.state.load()
}

// Run holds the instance lock and loops passes until ctx ends, or after a
// single pass in once mode. It returns ErrAlreadyRunning without touching
// the PID record when another daemon holds the lock.
func (d *Daemon) Run(ctx context.Context) error {
	d.state.store(Starting)
	defer d.state.store(NotRunning)

	lock := flock.New(d.cfg.InstanceLockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := d.store.RecordPID(ctx, d.pid, d.now()); err != nil {
		return fmt.Errorf("record pid: %w", err)
	}
	defer d.clearPID(ctx)

	if sweeper, ok := d.runner.(scratchSweeper); ok {
		sweeper.SweepScratch(ctx)
	}
	if closer, ok := d.runner.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	d.state.store(Running)
	d.logger.Info("daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int(logging.FieldPID, d.pid),
		logging.String("mode", d.cfg.Daemon.Mode),
		logging.Int("workers", d.cfg.WorkerCount()),
		logging.String("processor", d.cfg.Processor.Kind),
	)

	notifier := d.startNotifier(ctx)
	if notifier != nil {
		defer notifier.Close()
	}

	for {
		if _, err := d.runner.RunPass(ctx); err != nil && ctx.Err() == nil {
			d.logger.Debug("pass ended with error", logging.Error(err))
		}
		if ctx.Err() != nil || d.cfg.RunOnce() {
			break
		}
		if !d.wait(ctx, notifier) {
			break
		}
	}

	d.state.store(Stopping)
	d.logger.Info("daemon stopping",
		logging.String(logging.FieldEventType, "daemon_stopping"),
		logging.Int(logging.FieldPID, d.pid),
	)
	return nil
}

// wait blocks until the next pass is due. It reports false when ctx ended.
func (d *Daemon) wait(ctx context.Context, notifier *Notifier) bool {
	var nudges <-chan struct{}
	if notifier != nil {
		d.refreshWatch(ctx, notifier)
		nudges = notifier.Nudges()
	}
	timer := time.NewTimer(d.cfg.PassInterval())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-nudges:
		d.logger.Debug("pass nudged by filesystem activity")
		return true
	}
}

func (d *Daemon) startNotifier(ctx context.Context) *Notifier {
	if !d.cfg.Watch.Notify || d.cfg.RunOnce() {
		return nil
	}
	n, err := NewNotifier(d.cfg.WatchDebounce(), d.logger, d.cfg.Paths.StateDir, d.cfg.Paths.LogDir)
	if err != nil {
		logging.WarnWithContext(d.logger, "filesystem notifications unavailable", "notify_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "changes are picked up on the pass interval only"),
		)
		return nil
	}
	go n.Run(ctx)
	return n
}

func (d *Daemon) refreshWatch(ctx context.Context, n *Notifier) {
	st, err := d.store.Read(ctx)
	if err != nil {
		return
	}
	n.IgnoreLogFile(st.LogFile)
	if st.WatchDirectory == "" {
		return
	}
	if err := n.Watch(st.WatchDirectory); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Debug("watch refresh failed",
			logging.String(logging.FieldPath, st.WatchDirectory),
			logging.Error(err),
		)
	}
}

func (d *Daemon) clearPID(ctx context.Context) {
	if _, err := d.store.ClearPID(context.WithoutCancel(ctx), d.pid); err != nil {
		logging.ErrorWithContext(d.logger, "failed to clear daemon pid", "pid_clear_failed",
			logging.Error(err),
			logging.Int(logging.FieldPID, d.pid),
			logging.String(logging.FieldImpact, "next start or stop repairs the stale record"),
			logging.String(logging.FieldErrorHint, "check state directory permissions"),
		)
	}
}
