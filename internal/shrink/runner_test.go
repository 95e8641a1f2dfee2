package shrink_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"antman/internal/fileutil"
	"antman/internal/logging"
	"antman/internal/processor"
	"antman/internal/shrink"
	"antman/internal/state"
	"antman/internal/testsupport"
)

func halving() processor.Processor {
	return &processor.Exec{
		Command:        "sh",
		Args:           []string{"-c", `n=$(($(wc -c < "$0") / 2)); head -c "$n" "$0"`, "{input}"},
		StdoutToOutput: true,
	}
}

func TestRunPassShrinksWhitelistedFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	watch := testsupport.WatchDir(t, cfg)
	ctx := context.Background()

	testsupport.WriteFile(t, filepath.Join(watch, "a.fastq"), 1000)
	testsupport.WriteFile(t, filepath.Join(watch, "nested", "b.FASTQ"), 400)
	testsupport.WriteFile(t, filepath.Join(watch, "keep.txt"), 100)

	_, err := store.SetWatchDirectory(ctx, watch)
	require.NoError(t, err)
	_, err = store.SetWhitelist(ctx, []string{"fastq"})
	require.NoError(t, err)

	runner := shrink.NewRunner(cfg, store, halving(), logging.NewNop())
	rec, err := runner.RunPass(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rec.RunID)
	require.Equal(t, watch, rec.Root)
	require.Empty(t, rec.Aborted)
	require.Equal(t, state.PassCounts{Ineligible: 1, Succeeded: 2}, rec.Counts)
	require.EqualValues(t, 700, rec.SavedBytes)

	info, err := os.Stat(filepath.Join(watch, "a.fastq"))
	require.NoError(t, err)
	require.EqualValues(t, 500, info.Size())
	info, err = os.Stat(filepath.Join(watch, "keep.txt"))
	require.NoError(t, err)
	require.EqualValues(t, 100, info.Size())

	st, err := store.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastRunAt)

	passes, err := store.RecentPasses(ctx, 5)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	require.Equal(t, rec.RunID, passes[0].RunID)

	// Unchanged results are not processed again.
	rec, err = runner.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, state.PassCounts{Ineligible: 1, Skipped: 2}, rec.Counts)
	require.Zero(t, rec.SavedBytes)
}

func TestRunPassPicksUpWhitelistChanges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	watch := testsupport.WatchDir(t, cfg)
	ctx := context.Background()

	testsupport.WriteFile(t, filepath.Join(watch, "x.log"), 64)
	_, err := store.SetWatchDirectory(ctx, watch)
	require.NoError(t, err)

	runner := shrink.NewRunner(cfg, store, halving(), logging.NewNop())
	rec, err := runner.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, state.PassCounts{Ineligible: 1}, rec.Counts)

	_, err = store.SetWhitelist(ctx, []string{"log"})
	require.NoError(t, err)
	rec, err = runner.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, state.PassCounts{Succeeded: 1}, rec.Counts)
}

func TestRunPassAbortsWithoutWatchDirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	runner := shrink.NewRunner(cfg, store, processor.None{}, logging.NewNop())
	rec, err := runner.RunPass(context.Background())
	require.ErrorIs(t, err, shrink.ErrNoWatchDirectory)
	require.Equal(t, shrink.ErrNoWatchDirectory.Error(), rec.Aborted)

	passes, err := store.RecentPasses(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	require.NotEmpty(t, passes[0].Aborted)
}

func TestRunPassAbortsWhenRootMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	watch := testsupport.WatchDir(t, cfg)
	ctx := context.Background()

	_, err := store.SetWatchDirectory(ctx, watch)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(watch))

	runner := shrink.NewRunner(cfg, store, processor.None{}, logging.NewNop())
	rec, err := runner.RunPass(ctx)
	require.Error(t, err)
	require.NotEmpty(t, rec.Aborted)
	require.Zero(t, rec.Counts.Total())
}

func TestRunPassPrunesVanishedSignatures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	watch := testsupport.WatchDir(t, cfg)
	ctx := context.Background()

	gone := filepath.Join(watch, "gone.fastq")
	testsupport.WriteFile(t, gone, 200)
	_, err := store.SetWatchDirectory(ctx, watch)
	require.NoError(t, err)
	_, err = store.SetWhitelist(ctx, []string{"fastq"})
	require.NoError(t, err)

	runner := shrink.NewRunner(cfg, store, halving(), logging.NewNop())
	_, err = runner.RunPass(ctx)
	require.NoError(t, err)
	_, ok, err := store.Signature(ctx, gone)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, os.Remove(gone))
	_, err = runner.RunPass(ctx)
	require.NoError(t, err)
	_, ok, err = store.Signature(ctx, gone)
	require.NoError(t, err)
	require.False(t, ok)
}

type countingProcessor struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingProcessor) Process(_ context.Context, path string) (processor.Result, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[filepath.Base(path)]++
	c.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return processor.Result{}, err
	}
	if err := os.Truncate(path, info.Size()/2); err != nil {
		return processor.Result{}, err
	}
	return processor.Result{Path: path, OriginalSize: info.Size(), ResultSize: info.Size() / 2}, nil
}

func TestRunPassNeverDispatchesIneligibleFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	watch := testsupport.WatchDir(t, cfg)
	ctx := context.Background()

	testsupport.WriteFile(t, filepath.Join(watch, "reads.fastq"), 512)
	testsupport.WriteFile(t, filepath.Join(watch, "notes.txt"), 512)
	testsupport.WriteFile(t, filepath.Join(watch, "sub", "image.png"), 512)
	_, err := store.SetWatchDirectory(ctx, watch)
	require.NoError(t, err)
	_, err = store.SetWhitelist(ctx, []string{"fastq"})
	require.NoError(t, err)

	proc := &countingProcessor{}
	runner := shrink.NewRunner(cfg, store, proc, logging.NewNop())
	for range 3 {
		rec, err := runner.RunPass(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, rec.Counts.Ineligible)
	}
	require.Equal(t, map[string]int{"reads.fastq": 1}, proc.calls)
}

func TestRunPassSkipsLogFileInsideWatchRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	watch := testsupport.WatchDir(t, cfg)
	ctx := context.Background()

	logFile := filepath.Join(watch, "antman.log")
	testsupport.WriteFile(t, logFile, 512)
	testsupport.WriteFile(t, filepath.Join(watch, "antman-2026-10-19T08-00-00.000.log"), 512)
	testsupport.WriteFile(t, filepath.Join(watch, "run.log"), 512)
	_, err := store.SetWatchDirectory(ctx, watch)
	require.NoError(t, err)
	_, err = store.SetWhitelist(ctx, []string{"log"})
	require.NoError(t, err)
	_, err = store.SetLogFile(ctx, logFile)
	require.NoError(t, err)

	proc := &countingProcessor{}
	rec, err := shrink.NewRunner(cfg, store, proc, logging.NewNop()).RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, state.PassCounts{Succeeded: 1}, rec.Counts)
	require.Equal(t, map[string]int{"run.log": 1}, proc.calls)
}

func TestSweepScratchRemovesLeftovers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	watch := testsupport.WatchDir(t, cfg)
	ctx := context.Background()

	keep := filepath.Join(watch, "a.fastq")
	testsupport.WriteFile(t, keep, 64)
	testsupport.WriteText(t, filepath.Join(watch, fileutil.TempPrefix+"1-a.fastq"), "partial")
	testsupport.WriteText(t, filepath.Join(watch, "sub", fileutil.TempPrefix+"drapto-9", "out.mkv"), "partial")
	_, err := store.SetWatchDirectory(ctx, watch)
	require.NoError(t, err)

	runner := shrink.NewRunner(cfg, store, processor.None{}, logging.NewNop())
	require.Equal(t, 2, runner.SweepScratch(ctx))
	require.FileExists(t, keep)
	require.NoFileExists(t, filepath.Join(watch, fileutil.TempPrefix+"1-a.fastq"))
	require.NoDirExists(t, filepath.Join(watch, "sub", fileutil.TempPrefix+"drapto-9"))
	require.Zero(t, runner.SweepScratch(ctx))
	require.NoError(t, runner.Close())
}
