package processor

import (
	"context"
	"fmt"
	"os"
)

// None is the dry-run backend. It checks that the file is readable and
// reports ErrDryRun without touching it.
type None struct{}

// Process implements Processor.
func (None) Process(_ context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat input: %w", err)
	}
	return Result{Path: path, OriginalSize: info.Size(), ResultSize: info.Size()}, ErrDryRun
}
