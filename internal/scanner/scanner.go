// Package scanner walks the watch directory and classifies every regular file
// as a shrink candidate.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"antman/internal/fileutil"
	"antman/internal/logging"
	"antman/internal/state"
	"antman/internal/whitelist"
)

var (
	// ErrRootUnavailable reports a watch root that is missing or not a
	// directory when a scan begins.
	ErrRootUnavailable = errors.New("watch root unavailable")
	// ErrRootVanished reports a watch root removed while a scan was running.
	ErrRootVanished = errors.New("watch root vanished during scan")
)

// Skip reasons for eligible files that are not dispatched.
const (
	SkipUnchanged        = "unchanged"
	SkipNoGain           = "no_gain"
	SkipRetriesExhausted = "retries_exhausted"
	SkipNotWhitelisted   = "not_whitelisted"
)

// Candidate is one regular file seen by a scan.
type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time
	// Eligible is false for files outside the whitelist.
	Eligible bool
	// SkipReason is set when the file must not be dispatched.
	SkipReason string
	// PriorAttempts counts earlier failed dispatches of the same content.
	PriorAttempts int
	// Digest is filled when the scan had to hash the file.
	Digest string
}

// Dispatchable reports whether the candidate should reach the processor.
func (c Candidate) Dispatchable() bool {
	return c.Eligible && c.SkipReason == ""
}

// SignatureIndex looks up what an earlier pass recorded for a path.
type SignatureIndex interface {
	Signature(ctx context.Context, path string) (state.Signature, bool, error)
}

// Scanner produces candidates for one pass.
type Scanner struct {
	filter      whitelist.Filter
	index       SignatureIndex
	maxAttempts int
	exclude     []string
	skip        []func(path string) bool
	logger      *slog.Logger
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithExclude skips the given directories (and everything beneath them).
func WithExclude(dirs ...string) Option {
	return func(s *Scanner) {
		for _, dir := range dirs {
			if dir = strings.TrimSpace(dir); dir != "" {
				s.exclude = append(s.exclude, filepath.Clean(dir))
			}
		}
	}
}

// WithSkipFile drops regular files for which match reports true. They are
// not yielded at all, not even as ineligible.
func WithSkipFile(match func(path string) bool) Option {
	return func(s *Scanner) {
		if match != nil {
			s.skip = append(s.skip, match)
		}
	}
}

// WithLogger sets the logger used for per-entry warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// New builds a scanner. index may be nil, in which case nothing is skipped
// as unchanged.
func New(filter whitelist.Filter, index SignatureIndex, maxAttempts int, opts ...Option) *Scanner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	s := &Scanner{filter: filter, index: index, maxAttempts: maxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "scanner")
	return s
}

// Scan lazily walks root in lexical order. The sequence is finite and ends
// early when the consumer stops, ctx is cancelled, or the root disappears.
// A root that is missing at the start yields ErrRootUnavailable; one that
// vanishes mid-walk yields ErrRootVanished. Both end the sequence.
func (s *Scanner) Scan(ctx context.Context, root string) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		root = filepath.Clean(root)
		if err := checkRoot(root); err != nil {
			yield(Candidate{}, err)
			return
		}

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if path == root || checkRoot(root) != nil {
					return fmt.Errorf("%w: %s: %w", ErrRootVanished, root, err)
				}
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				logging.WarnWithContext(s.logger, "directory unreadable; contents skipped", "scan_entry_unreadable",
					logging.String(logging.FieldPath, path),
					logging.Error(err),
					logging.String(logging.FieldImpact, "files below this directory are not processed this pass"),
					logging.String(logging.FieldErrorHint, "check directory permissions"),
				)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != root && (fileutil.IsTemp(d.Name()) || s.excluded(path)) {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || fileutil.IsTemp(d.Name()) || s.skipped(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			candidate := s.classify(ctx, path, info)
			if !yield(candidate, nil) {
				return fs.SkipAll
			}
			return nil
		})
		if walkErr == nil {
			if err := checkRoot(root); err != nil {
				walkErr = fmt.Errorf("%w: %w", ErrRootVanished, err)
			}
		}
		if walkErr != nil {
			yield(Candidate{}, walkErr)
		}
	}
}

func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRootUnavailable, root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootUnavailable, root)
	}
	return nil
}

func (s *Scanner) excluded(path string) bool {
	for _, dir := range s.exclude {
		if path == dir {
			return true
		}
	}
	return false
}

func (s *Scanner) skipped(path string) bool {
	for _, match := range s.skip {
		if match(path) {
			return true
		}
	}
	return false
}

func (s *Scanner) classify(ctx context.Context, path string, info fs.FileInfo) Candidate {
	c := Candidate{Path: path, Size: info.Size(), ModTime: info.ModTime()}
	if !s.filter.IsEligible(info.Name()) {
		c.SkipReason = SkipNotWhitelisted
		return c
	}
	c.Eligible = true
	if s.index == nil {
		return c
	}

	sig, ok, err := s.index.Signature(ctx, path)
	if err != nil {
		s.logger.Debug("signature lookup failed; file will be dispatched",
			logging.String(logging.FieldPath, path), logging.Error(err))
		return c
	}
	if !ok || !s.matches(&c, sig) {
		return c
	}

	switch sig.Outcome {
	case state.OutcomeSucceeded:
		c.SkipReason = SkipUnchanged
	case state.OutcomeNoGain:
		c.SkipReason = SkipNoGain
	case state.OutcomeFailed:
		c.PriorAttempts = sig.Attempts
		if sig.Attempts >= s.maxAttempts {
			c.SkipReason = SkipRetriesExhausted
		}
	}
	return c
}

// matches compares the file with its stored signature. Size and mtime
// settle most files; when only the mtime moved the content hash decides.
func (s *Scanner) matches(c *Candidate, sig state.Signature) bool {
	if c.Size != sig.Size {
		return false
	}
	if c.ModTime.UnixNano() == sig.ModTimeNS {
		return true
	}
	if sig.Digest == "" {
		return false
	}
	digest, err := fileutil.Digest(c.Path)
	if err != nil {
		return false
	}
	c.Digest = digest
	return digest == sig.Digest
}
