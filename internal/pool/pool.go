// Package pool dispatches shrink candidates to a processor with bounded
// concurrency and records what happened to each file.
package pool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"antman/internal/fileutil"
	"antman/internal/logging"
	"antman/internal/processor"
	"antman/internal/scanner"
	"antman/internal/state"
)

// Status is the per-file result of a pass.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ReasonDryRun marks files the dry-run backend saw but did not touch.
const ReasonDryRun = "dry_run"

// Outcome records what happened to one scanned file.
type Outcome struct {
	Path         string
	Eligible     bool
	Status       Status
	Reason       string
	OriginalSize int64
	ResultSize   int64
}

// Result aggregates the outcomes of one pass.
type Result struct {
	Outcomes   []Outcome
	Counts     state.PassCounts
	SavedBytes int64
}

func (r *Result) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch {
	case !o.Eligible:
		r.Counts.Ineligible++
	case o.Status == StatusSkipped:
		r.Counts.Skipped++
	case o.Status == StatusSucceeded:
		r.Counts.Succeeded++
		r.SavedBytes += o.OriginalSize - o.ResultSize
	default:
		r.Counts.Failed++
	}
}

// SignatureRecorder persists per-file signatures.
type SignatureRecorder interface {
	PutSignature(ctx context.Context, sig state.Signature) error
}

// Options tunes a Pool.
type Options struct {
	// Workers bounds concurrent dispatches. Values below 1 mean 1.
	Workers int
	// Timeout bounds a single dispatch. Zero disables it.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Pool runs a processor over candidates.
type Pool struct {
	proc     processor.Processor
	recorder SignatureRecorder
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
}

// New builds a pool. recorder may be nil, in which case nothing is persisted.
func New(proc processor.Processor, recorder SignatureRecorder, opts Options) *Pool {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		proc:     proc,
		recorder: recorder,
		workers:  workers,
		timeout:  opts.Timeout,
		logger:   logging.NewComponentLogger(opts.Logger, "pool"),
	}
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int {
	return p.workers
}

// Run consumes candidates until the sequence ends, yields an error, or ctx
// is cancelled. At most Workers dispatches run at once; the producer blocks
// while every worker is busy. A failing file never stops its siblings. Run
// waits for in-flight work before returning; the error is the scan error
// or ctx's error, and the Result covers every file seen until then.
func (p *Pool) Run(ctx context.Context, candidates iter.Seq2[scanner.Candidate, error]) (Result, error) {
	var (
		mu      sync.Mutex
		result  Result
		runErr  error
		workers errgroup.Group
	)
	workers.SetLimit(p.workers)
	record := func(o Outcome) {
		mu.Lock()
		result.add(o)
		mu.Unlock()
	}

	for candidate, err := range candidates {
		if err != nil {
			runErr = err
			break
		}
		if ctx.Err() != nil {
			break
		}
		if !candidate.Dispatchable() {
			record(Outcome{
				Path:         candidate.Path,
				Eligible:     candidate.Eligible,
				Status:       StatusSkipped,
				Reason:       candidate.SkipReason,
				OriginalSize: candidate.Size,
				ResultSize:   candidate.Size,
			})
			continue
		}
		workers.Go(func() error {
			record(p.dispatch(ctx, candidate))
			return nil
		})
	}
	_ = workers.Wait()

	if runErr == nil {
		runErr = ctx.Err()
	}
	slices.SortFunc(result.Outcomes, func(a, b Outcome) int { return cmp.Compare(a.Path, b.Path) })
	return result, runErr
}

func (p *Pool) dispatch(ctx context.Context, c scanner.Candidate) Outcome {
	fileCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fileCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	logger := logging.WithContext(ctx, p.logger)
	res, err := p.proc.Process(fileCtx, c.Path)
	if errors.Is(err, processor.ErrDryRun) {
		logger.Debug("dry run; file left alone", logging.String(logging.FieldPath, c.Path))
		return Outcome{Path: c.Path, Eligible: true, Status: StatusSkipped, Reason: ReasonDryRun, OriginalSize: c.Size, ResultSize: c.Size}
	}
	if err == nil && res.ResultSize >= res.OriginalSize {
		err = fmt.Errorf("%w: %d -> %d bytes", processor.ErrNoReduction, res.OriginalSize, res.ResultSize)
	}
	if err != nil {
		return p.fail(ctx, logger, c, err)
	}

	outcome := Outcome{
		Path:         c.Path,
		Eligible:     true,
		Status:       StatusSucceeded,
		OriginalSize: res.OriginalSize,
		ResultSize:   res.ResultSize,
	}
	resultPath := res.Path
	if resultPath == "" {
		resultPath = c.Path
	}
	p.recordSuccess(ctx, logger, resultPath, res)
	logger.Info("file shrunk",
		logging.String(logging.FieldPath, resultPath),
		logging.Int64("original_bytes", res.OriginalSize),
		logging.Int64("result_bytes", res.ResultSize),
		logging.String(logging.FieldEventType, "file_shrunk"),
	)
	return outcome
}

func (p *Pool) fail(ctx context.Context, logger *slog.Logger, c scanner.Candidate, err error) Outcome {
	reason := err.Error()
	switch {
	case ctx.Err() != nil:
		// Stopping is not the file's fault; leave its signature untouched.
		return Outcome{Path: c.Path, Eligible: true, Status: StatusFailed, Reason: "interrupted", OriginalSize: c.Size, ResultSize: c.Size}
	case errors.Is(err, context.DeadlineExceeded):
		reason = fmt.Sprintf("timed out after %s", p.timeout)
	}

	outcome := Outcome{Path: c.Path, Eligible: true, Status: StatusFailed, Reason: reason, OriginalSize: c.Size, ResultSize: c.Size}
	sigOutcome := state.OutcomeFailed
	if processor.IsPermanent(err) {
		sigOutcome = state.OutcomeNoGain
	}
	p.put(ctx, logger, state.Signature{
		Path:         c.Path,
		Size:         c.Size,
		ModTimeNS:    c.ModTime.UnixNano(),
		Digest:       c.Digest,
		Outcome:      sigOutcome,
		Reason:       reason,
		Attempts:     c.PriorAttempts + 1,
		OriginalSize: c.Size,
		ResultSize:   c.Size,
	})

	logging.WarnWithContext(logger, "file not shrunk", "file_failed",
		logging.String(logging.FieldPath, c.Path),
		logging.String("reason", reason),
		logging.Int("attempt", c.PriorAttempts+1),
		logging.String(logging.FieldImpact, "file left unchanged"),
		logging.String(logging.FieldErrorHint, "check the processor command and file permissions"),
	)
	return outcome
}

func (p *Pool) recordSuccess(ctx context.Context, logger *slog.Logger, path string, res processor.Result) {
	info, err := os.Stat(path)
	if err != nil {
		logger.Debug("result vanished before it could be recorded", logging.String(logging.FieldPath, path), logging.Error(err))
		return
	}
	p.put(ctx, logger, state.Signature{
		Path:         path,
		Size:         info.Size(),
		ModTimeNS:    info.ModTime().UnixNano(),
		Outcome:      state.OutcomeSucceeded,
		OriginalSize: res.OriginalSize,
		ResultSize:   res.ResultSize,
	})
}

// put fills the digest and persists sig. Persistence failures are logged;
// the file is simply reconsidered next pass.
func (p *Pool) put(ctx context.Context, logger *slog.Logger, sig state.Signature) {
	if p.recorder == nil {
		return
	}
	if sig.Digest == "" {
		if digest, err := fileutil.Digest(sig.Path); err == nil {
			sig.Digest = digest
		}
	}
	if err := p.recorder.PutSignature(context.WithoutCancel(ctx), sig); err != nil {
		logging.WarnWithContext(logger, "signature not recorded", "signature_write_failed",
			logging.String(logging.FieldPath, sig.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file will be reconsidered next pass"),
		)
	}
}
