package state_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"antman/internal/state"
	"antman/internal/testsupport"
)

func TestOpenSeedsEmptyState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	st, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, state.NoPID, st.PID)
	require.False(t, st.HasPID())
	require.Empty(t, st.WatchDirectory)
	require.Empty(t, st.Whitelist)
	require.False(t, st.CreatedAt.IsZero())
	require.Nil(t, st.LastRunAt)
}

func TestOpenIsReentrant(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	_, err := first.SetWatchDirectory(context.Background(), "/data")
	require.NoError(t, err)

	second := testsupport.MustOpenStore(t, cfg)
	st, err := second.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/data", st.WatchDirectory)
}

func TestOpenFailsWhenStateDirUnusable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := state.OpenPath(filepath.Join(blocker, "state.db"), filepath.Join(blocker, "state.lock"))
	require.Error(t, err)
	require.True(t, errors.Is(err, state.ErrStoreUnavailable), "got %v", err)
}

func TestSettersPersistAndBumpModified(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	before, err := store.Read(ctx)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = store.SetWatchDirectory(ctx, "/srv/data")
	require.NoError(t, err)
	_, err = store.SetWhitelist(ctx, []string{"fastq", "png"})
	require.NoError(t, err)
	after, err := store.SetLogFile(ctx, "/var/log/antman.log")
	require.NoError(t, err)

	require.Equal(t, "/srv/data", after.WatchDirectory)
	require.Equal(t, []string{"fastq", "png"}, after.Whitelist)
	require.Equal(t, "/var/log/antman.log", after.LogFile)
	require.True(t, after.ModifiedAt.After(before.ModifiedAt))

	read, err := store.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, after.Whitelist, read.Whitelist)
	require.Equal(t, before.CreatedAt, read.CreatedAt)
}

func TestUpdateErrorLeavesStateUnchanged(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	_, err := store.SetWatchDirectory(ctx, "/keep")
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = store.Update(ctx, func(st *state.DaemonState) error {
		st.WatchDirectory = "/discard"
		return boom
	})
	require.ErrorIs(t, err, boom)

	st, err := store.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "/keep", st.WatchDirectory)
}

func TestClearPIDComparesBeforeClearing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	started := time.Now()
	st, err := store.RecordPID(ctx, 4242, started)
	require.NoError(t, err)
	require.Equal(t, 4242, st.PID)
	require.NotNil(t, st.StartedAt)

	cleared, err := store.ClearPID(ctx, 1111)
	require.NoError(t, err)
	require.False(t, cleared, "a different pid must not clear the record")

	st, err = store.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, 4242, st.PID)

	cleared, err = store.ClearPID(ctx, 4242)
	require.NoError(t, err)
	require.True(t, cleared)

	st, err = store.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, state.NoPID, st.PID)
	require.Nil(t, st.StartedAt)

	_, err = store.RecordPID(ctx, 0, started)
	require.Error(t, err)
}

func TestPIDBookkeepingKeepsModifiedTimestamp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	before, err := store.Read(ctx)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = store.RecordPID(ctx, 99, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.MarkRun(ctx, time.Now()))

	after, err := store.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, before.ModifiedAt, after.ModifiedAt)
	require.NotNil(t, after.LastRunAt)
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	second := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const perStore = 20
	var wg sync.WaitGroup
	for _, store := range []*state.Store{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perStore {
				_, err := store.Update(ctx, func(st *state.DaemonState) error {
					st.Whitelist = append(st.Whitelist, "x")
					return nil
				})
				if err != nil {
					t.Errorf("update: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	st, err := first.Read(ctx)
	require.NoError(t, err)
	require.Len(t, st.Whitelist, 2*perStore, "every read-modify-write must observe the previous one")
}
