package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"

	"antman/internal/fileutil"
	"antman/internal/logging"
)

// encodeFunc encodes inputPath into outputDir and returns the produced file.
type encodeFunc func(ctx context.Context, inputPath, outputDir string) (string, error)

// Drapto re-encodes video files with the drapto library. The encode runs in a
// scratch directory beside the input; a smaller result replaces the original
// as <stem>.mkv.
type Drapto struct {
	encode encodeFunc
	logger *slog.Logger
}

// NewDrapto returns the drapto backend.
func NewDrapto(logger *slog.Logger) *Drapto {
	return &Drapto{encode: draptoEncode, logger: logging.NewComponentLogger(logger, "drapto")}
}

func draptoEncode(ctx context.Context, inputPath, outputDir string) (string, error) {
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return "", err
	}
	if _, err := encoder.EncodeWithReporter(ctx, inputPath, outputDir, nil); err != nil {
		return "", err
	}
	return filepath.Join(outputDir, mkvName(inputPath)), nil
}

func mkvName(inputPath string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return stem + ".mkv"
}

// Process implements Processor.
func (d *Drapto) Process(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat input: %w", err)
	}

	scratch, err := os.MkdirTemp(filepath.Dir(path), fileutil.TempPrefix+"drapto-*")
	if err != nil {
		return Result{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	encoded, err := d.encode(ctx, path, scratch)
	if err != nil {
		return Result{}, fmt.Errorf("drapto encode: %w", err)
	}
	out, err := os.Stat(encoded)
	if err != nil {
		return Result{}, fmt.Errorf("stat encoded output: %w", err)
	}
	if out.Size() >= info.Size() {
		return Result{}, fmt.Errorf("%w: %d -> %d bytes", ErrNoReduction, info.Size(), out.Size())
	}

	target := filepath.Join(filepath.Dir(path), mkvName(path))
	if target != path {
		if _, err := os.Stat(target); err == nil {
			return Result{}, fmt.Errorf("encoded output %s already exists", target)
		}
	}
	if err := fileutil.ReplaceFile(encoded, target); err != nil {
		return Result{}, fmt.Errorf("move encoded output: %w", err)
	}
	if target != path {
		if err := os.Remove(path); err != nil {
			d.logger.Warn("original kept after encode",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "drapto_original_kept"),
				logging.String(logging.FieldErrorHint, "remove the original manually"),
				logging.String(logging.FieldImpact, "both original and encoded files occupy disk space"),
			)
		}
	}
	return Result{Path: target, OriginalSize: info.Size(), ResultSize: out.Size()}, nil
}
