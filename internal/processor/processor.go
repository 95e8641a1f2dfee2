// Package processor holds the collaborators that shrink a single file.
//
// A Processor receives one eligible path and either leaves a smaller file
// behind or reports why it could not. Every backend follows the same
// contract: the original is only replaced once a smaller result exists, a
// result that is not smaller is reported as ErrNoReduction, and cancellation
// of ctx stops any external work the backend started.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"antman/internal/config"
)

var (
	// ErrNoReduction reports a processed file that did not get smaller. It is
	// a deterministic outcome: the same content is not retried. Callers also
	// apply it to a nil-error Result whose size did not drop.
	ErrNoReduction = errors.New("no size reduction")
	// ErrDryRun is returned by None. The file was seen but not processed, so
	// it is neither a success nor a failure and nothing is recorded for it.
	ErrDryRun = errors.New("dry run")
)

// Result describes a successful shrink.
type Result struct {
	// Path is the file left behind, which may differ from the input when a
	// backend changes the container.
	Path         string
	OriginalSize int64
	ResultSize   int64
}

// Saved returns the bytes reclaimed.
func (r Result) Saved() int64 {
	return r.OriginalSize - r.ResultSize
}

// Processor shrinks one file.
type Processor interface {
	Process(ctx context.Context, path string) (Result, error)
}

// IsPermanent reports failures that will repeat for unchanged content.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNoReduction)
}

// New builds the backend selected by cfg.Processor.Kind.
func New(cfg *config.Config, logger *slog.Logger) (Processor, error) {
	switch cfg.Processor.Kind {
	case config.ProcessorExec:
		return &Exec{
			Command:        cfg.Processor.Command,
			Args:           cfg.Processor.Args,
			StdoutToOutput: cfg.Processor.StdoutToOutput,
			Grace:          cfg.ProcessorGrace(),
			Logger:         logger,
		}, nil
	case config.ProcessorDrapto:
		return NewDrapto(logger), nil
	case config.ProcessorNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("processor: unsupported kind %q", cfg.Processor.Kind)
	}
}
