// Package shrink runs one pass: it reads the current daemon state, scans the
// watch directory, dispatches eligible files to the processor pool and
// records the pass summary.
package shrink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"antman/internal/config"
	"antman/internal/fileutil"
	"antman/internal/logging"
	"antman/internal/pool"
	"antman/internal/processor"
	"antman/internal/scanner"
	"antman/internal/state"
	"antman/internal/whitelist"
)

// ErrNoWatchDirectory aborts a pass when no watch directory is recorded.
var ErrNoWatchDirectory = errors.New("watch directory not set")

// Runner executes passes against a State Store.
type Runner struct {
	cfg    *config.Config
	store  *state.Store
	proc   processor.Processor
	pool   *pool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner wires the scanner and pool around proc.
func NewRunner(cfg *config.Config, store *state.Store, proc processor.Processor, logger *slog.Logger) *Runner {
	logger = logging.NewComponentLogger(logger, "shrink")
	return &Runner{
		cfg:   cfg,
		store: store,
		proc:  proc,
		pool: pool.New(proc, store, pool.Options{
			Workers: cfg.WorkerCount(),
			Timeout: cfg.ProcessorTimeout(),
			Logger:  logger,
		}),
		logger: logger,
		now:    time.Now,
	}
}

// RunPass performs one full pass. Whitelist and watch directory are read
// once at the start; changes made meanwhile apply to the next pass. Root
// problems abort only this pass: the record notes why and the error is
// returned for the caller to log.
func (r *Runner) RunPass(ctx context.Context) (state.PassRecord, error) {
	rec := state.PassRecord{RunID: uuid.NewString(), StartedAt: r.now()}
	ctx = logging.WithRunID(ctx, rec.RunID)
	logger := logging.WithContext(ctx, r.logger)

	st, err := r.store.Read(ctx)
	if err != nil {
		return rec, fmt.Errorf("read daemon state: %w", err)
	}
	rec.Root = st.WatchDirectory

	var passErr error
	var result pool.Result
	if strings.TrimSpace(st.WatchDirectory) == "" {
		passErr = ErrNoWatchDirectory
	} else {
		filter := whitelist.New(st.Whitelist)
		if filter.Empty() {
			logger.Info("whitelist empty; no file is eligible",
				logging.String(logging.FieldEventType, "whitelist_empty"))
		}
		logFile := st.LogFile
		sc := scanner.New(filter, r.store, r.cfg.Processor.MaxAttempts,
			scanner.WithExclude(r.cfg.Paths.StateDir, r.cfg.Paths.LogDir),
			scanner.WithSkipFile(func(path string) bool { return logging.IsLogFile(logFile, path) }),
			scanner.WithLogger(r.logger),
		)
		logger.Debug("pass started",
			logging.String(logging.FieldPath, st.WatchDirectory),
			logging.String("whitelist", whitelist.String(st.Whitelist)),
			logging.Int("workers", r.pool.Workers()),
		)
		result, passErr = r.pool.Run(ctx, sc.Scan(ctx, st.WatchDirectory))
	}

	rec.FinishedAt = r.now()
	rec.Counts = result.Counts
	rec.SavedBytes = result.SavedBytes
	switch {
	case passErr == nil:
	case ctx.Err() != nil:
		rec.Aborted = "stopped"
	default:
		rec.Aborted = passErr.Error()
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := r.store.RecordPass(persistCtx, rec); err != nil {
		logging.WarnWithContext(logger, "pass history not recorded", "pass_record_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "info will not show this pass"),
		)
	}
	if err := r.store.MarkRun(persistCtx, rec.FinishedAt); err != nil {
		logging.WarnWithContext(logger, "last run time not recorded", "pass_record_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "info shows a stale last run time"),
		)
	}
	if passErr == nil {
		r.pruneSignatures(persistCtx, logger, st.WatchDirectory)
	}

	attrs := []logging.Attr{
		logging.Int("ineligible", rec.Counts.Ineligible),
		logging.Int("skipped", rec.Counts.Skipped),
		logging.Int("succeeded", rec.Counts.Succeeded),
		logging.Int("failed", rec.Counts.Failed),
		logging.String("saved", humanize.IBytes(uint64(max(rec.SavedBytes, 0)))),
		logging.Duration("elapsed", rec.FinishedAt.Sub(rec.StartedAt)),
	}
	if rec.Aborted != "" {
		attrs = append(attrs, logging.String("aborted", rec.Aborted))
		logging.WarnWithContext(logger, "pass aborted", "pass_aborted", append(attrs,
			logging.String(logging.FieldImpact, "remaining files wait for the next pass"),
			logging.String(logging.FieldErrorHint, "check that the watch directory exists (antman set -w)"),
		)...)
	} else {
		attrs = append(attrs, logging.String(logging.FieldEventType, "pass_finished"))
		logger.Info("pass finished", logging.Args(attrs...)...)
	}
	return rec, passErr
}

// pruneSignatures forgets files under root that no longer exist.
func (r *Runner) pruneSignatures(ctx context.Context, logger *slog.Logger, root string) {
	prefix := filepath.Clean(root) + string(filepath.Separator)
	removed, err := r.store.PruneSignatures(ctx, func(path string) bool {
		if !strings.HasPrefix(path, prefix) {
			return true
		}
		_, statErr := os.Lstat(path)
		return statErr == nil
	})
	if err != nil {
		logger.Debug("signature prune failed", logging.Error(err))
		return
	}
	if removed > 0 {
		logger.Debug("signatures pruned", logging.Int("removed", removed))
	}
}

// SweepScratch removes scratch entries a killed daemon left under the watch
// root. It runs before the first pass, while the instance lock is held.
func (r *Runner) SweepScratch(ctx context.Context) int {
	st, err := r.store.Read(ctx)
	if err != nil || strings.TrimSpace(st.WatchDirectory) == "" {
		return 0
	}
	root := filepath.Clean(st.WatchDirectory)
	skip := map[string]bool{
		filepath.Clean(r.cfg.Paths.StateDir): true,
		filepath.Clean(r.cfg.Paths.LogDir):   true,
	}

	var removed int
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}
		if d.IsDir() && skip[path] {
			return fs.SkipDir
		}
		if !fileutil.IsTemp(d.Name()) {
			return nil
		}
		if err := os.RemoveAll(path); err != nil {
			r.logger.Debug("scratch entry not removed", logging.String(logging.FieldPath, path), logging.Error(err))
			return nil
		}
		removed++
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if removed > 0 {
		r.logger.Info("stale scratch entries removed",
			logging.String(logging.FieldEventType, "scratch_swept"),
			logging.String(logging.FieldPath, root),
			logging.Int("removed", removed),
		)
	}
	return removed
}

// Close stops any external work the processor still has running.
func (r *Runner) Close() error {
	if c, ok := r.proc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
