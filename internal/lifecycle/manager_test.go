package lifecycle_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"antman/internal/config"
	"antman/internal/lifecycle"
	"antman/internal/logging"
	"antman/internal/state"
	"antman/internal/testsupport"
)

type managerFixture struct {
	cfg     *config.Config
	store   *state.Store
	backend *fakeBackend
	mgr     *lifecycle.Manager
}

func newManagerFixture(t *testing.T, configured bool) managerFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if configured {
		_, err := store.SetWatchDirectory(context.Background(), testsupport.WatchDir(t, cfg))
		require.NoError(t, err)
	}
	backend := newFakeBackend(store)
	mgr := lifecycle.NewManager(cfg, store, backend, logging.NewNop(), lifecycle.WithPollInterval(10*time.Millisecond))
	return managerFixture{cfg: cfg, store: store, backend: backend, mgr: mgr}
}

func (f managerFixture) recordedPID(t *testing.T) int {
	t.Helper()
	pid, err := f.mgr.PID(context.Background())
	require.NoError(t, err)
	return pid
}

func TestStartRequiresWatchDirectory(t *testing.T) {
	f := newManagerFixture(t, false)

	_, err := f.mgr.Start(context.Background())
	require.ErrorIs(t, err, lifecycle.ErrNotConfigured)
	require.Zero(t, f.backend.launchCount())
	require.Equal(t, state.NoPID, f.recordedPID(t))
}

func TestStartRejectsMissingOrFileWatchDirectory(t *testing.T) {
	f := newManagerFixture(t, false)
	ctx := context.Background()

	_, err := f.store.SetWatchDirectory(ctx, filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	_, err = f.mgr.Start(ctx)
	require.ErrorIs(t, err, lifecycle.ErrNotConfigured)

	file := filepath.Join(t.TempDir(), "plain")
	testsupport.WriteText(t, file, "x")
	_, err = f.store.SetWatchDirectory(ctx, file)
	require.NoError(t, err)
	_, err = f.mgr.Start(ctx)
	require.ErrorIs(t, err, lifecycle.ErrNotConfigured)
	require.Zero(t, f.backend.launchCount())
}

func TestStartLaunchesAndIsIdempotent(t *testing.T) {
	f := newManagerFixture(t, true)
	ctx := context.Background()

	res, err := f.mgr.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StartStateStarted, res.State)
	require.Equal(t, 4242, res.PID)
	require.Equal(t, 4242, f.recordedPID(t))
	require.Equal(t, lifecycle.Running, f.mgr.State())

	res, err = f.mgr.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StartStateAlreadyRunning, res.State)
	require.Equal(t, 4242, res.PID)
	require.Equal(t, 1, f.backend.launchCount())
}

func TestStartRepairsStaleRecord(t *testing.T) {
	f := newManagerFixture(t, true)
	ctx := context.Background()

	_, err := f.store.RecordPID(ctx, 777, time.Now())
	require.NoError(t, err)

	res, err := f.mgr.Start(ctx)
	require.NoError(t, err)
	require.True(t, res.RepairedStale)
	require.Equal(t, lifecycle.StartStateStarted, res.State)
	require.Equal(t, 4242, f.recordedPID(t))
}

func TestStartReportsEarlyChildExit(t *testing.T) {
	f := newManagerFixture(t, true)
	f.backend.exitErr = errChildCrashed

	_, err := f.mgr.Start(context.Background())
	require.ErrorIs(t, err, errChildCrashed)
	require.Equal(t, lifecycle.NotRunning, f.mgr.State())
	require.Equal(t, state.NoPID, f.recordedPID(t))
}

func TestStartAcceptsCleanOnceModeExit(t *testing.T) {
	f := newManagerFixture(t, true)
	f.backend.finish = true

	res, err := f.mgr.Start(context.Background())
	require.NoError(t, err)
	require.True(t, res.Finished)
	require.Equal(t, lifecycle.StartStateStarted, res.State)
	require.Equal(t, lifecycle.NotRunning, f.mgr.State())
}

func TestStartTimesOutWhenPIDNeverRecorded(t *testing.T) {
	f := newManagerFixture(t, true)
	f.cfg.Daemon.StartTimeoutSeconds = 1
	f.backend.skipRecord = true

	_, err := f.mgr.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not record its pid")
	require.Equal(t, []int{4242}, f.backend.terminated)
}

func TestStopWithoutDaemonIsNoop(t *testing.T) {
	f := newManagerFixture(t, true)

	res, err := f.mgr.Stop(context.Background())
	require.NoError(t, err)
	require.False(t, res.WasRunning)
	require.Empty(t, f.backend.terminated)
}

func TestStopClearsStaleRecord(t *testing.T) {
	f := newManagerFixture(t, true)
	ctx := context.Background()
	_, err := f.store.RecordPID(ctx, 555, time.Now())
	require.NoError(t, err)

	res, err := f.mgr.Stop(ctx)
	require.NoError(t, err)
	require.True(t, res.RepairedStale)
	require.False(t, res.WasRunning)
	require.Equal(t, state.NoPID, f.recordedPID(t))
	require.Empty(t, f.backend.terminated)
}

func TestStopGraceful(t *testing.T) {
	f := newManagerFixture(t, true)
	ctx := context.Background()
	_, err := f.mgr.Start(ctx)
	require.NoError(t, err)

	res, err := f.mgr.Stop(ctx)
	require.NoError(t, err)
	require.True(t, res.WasRunning)
	require.True(t, res.StopAcknowledged)
	require.False(t, res.ForcedKill)
	require.Equal(t, 4242, res.PID)
	require.Equal(t, state.NoPID, f.recordedPID(t))
	require.Equal(t, lifecycle.NotRunning, f.mgr.State())
	require.Empty(t, f.backend.killed)
}

func TestStopForceKillsAfterGrace(t *testing.T) {
	f := newManagerFixture(t, true)
	ctx := context.Background()
	_, err := f.mgr.Start(ctx)
	require.NoError(t, err)
	f.backend.ignoreTerm = true

	res, err := f.mgr.Stop(ctx)
	require.NoError(t, err)
	require.True(t, res.ForcedKill)
	require.Equal(t, []int{4242}, f.backend.killed)
	require.Equal(t, state.NoPID, f.recordedPID(t))
}

func TestStopReportsSignalFailure(t *testing.T) {
	f := newManagerFixture(t, true)
	ctx := context.Background()
	_, err := f.mgr.Start(ctx)
	require.NoError(t, err)
	f.backend.termErr = errors.New("operation not permitted")

	_, err = f.mgr.Stop(ctx)
	require.ErrorIs(t, err, lifecycle.ErrSignal)
	require.Equal(t, 4242, f.recordedPID(t))
	require.Equal(t, lifecycle.Running, f.mgr.State())
}

func TestPIDIsVerbatim(t *testing.T) {
	f := newManagerFixture(t, true)
	ctx := context.Background()
	require.Equal(t, state.NoPID, f.recordedPID(t))

	_, err := f.store.RecordPID(ctx, 31337, time.Now())
	require.NoError(t, err)
	require.Equal(t, 31337, f.recordedPID(t))

	status, err := f.mgr.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Stale)
	require.False(t, status.Running)
	require.Equal(t, 31337, f.recordedPID(t))
}

func TestStartAndStopFromManyCallers(t *testing.T) {
	f := newManagerFixture(t, true)
	ctx := context.Background()
	_, err := f.mgr.Start(ctx)
	require.NoError(t, err)

	errs := make(chan error, 4)
	for range 4 {
		go func() {
			res, err := f.mgr.Start(ctx)
			if err == nil && res.State != lifecycle.StartStateAlreadyRunning {
				err = errors.New("second instance launched")
			}
			errs <- err
		}()
	}
	for range 4 {
		require.NoError(t, <-errs)
	}
	require.Equal(t, 1, f.backend.launchCount())
}
