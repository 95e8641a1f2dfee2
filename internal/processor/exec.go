package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"antman/internal/fileutil"
	"antman/internal/logging"
)

const stderrTailBytes = 2048

// Exec runs an external command per file. Arguments may reference {input}
// (the file being shrunk) and {output} (a scratch path beside it). With
// StdoutToOutput the command's stdout is written to the scratch path. When
// neither applies the command is expected to rewrite {input} in place.
type Exec struct {
	Command        string
	Args           []string
	StdoutToOutput bool
	// Grace is how long a cancelled command may take to exit after SIGTERM
	// before its process group is killed.
	Grace  time.Duration
	Logger *slog.Logger

	mu     sync.Mutex
	groups map[int]struct{}
}

// Close kills every process group this Exec started that is still running.
func (e *Exec) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for pgid := range e.groups {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	return nil
}

func (e *Exec) track(pgid int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.groups == nil {
		e.groups = make(map[int]struct{})
	}
	e.groups[pgid] = struct{}{}
}

func (e *Exec) untrack(pgid int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.groups, pgid)
}

func (e *Exec) usesOutput() bool {
	if e.StdoutToOutput {
		return true
	}
	for _, arg := range e.Args {
		if strings.Contains(arg, "{output}") {
			return true
		}
	}
	return false
}

// Process implements Processor.
func (e *Exec) Process(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat input: %w", err)
	}
	result := Result{Path: path, OriginalSize: info.Size()}

	var outputPath string
	if e.usesOutput() {
		tmp, err := os.CreateTemp(filepath.Dir(path), fileutil.TempPrefix+"*-"+filepath.Base(path))
		if err != nil {
			return Result{}, fmt.Errorf("create scratch file: %w", err)
		}
		outputPath = tmp.Name()
		_ = tmp.Close()
		defer func() { _ = os.Remove(outputPath) }()
	}

	if err := e.run(ctx, path, outputPath); err != nil {
		return Result{}, err
	}

	if outputPath == "" {
		after, err := os.Stat(path)
		if err != nil {
			return Result{}, fmt.Errorf("stat result: %w", err)
		}
		result.ResultSize = after.Size()
		if result.ResultSize >= result.OriginalSize {
			return Result{}, fmt.Errorf("%w: %d -> %d bytes", ErrNoReduction, result.OriginalSize, result.ResultSize)
		}
		return result, nil
	}

	out, err := os.Stat(outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat output: %w", err)
	}
	if out.Size() == 0 && result.OriginalSize > 0 {
		return Result{}, errors.New("command produced an empty output")
	}
	if out.Size() >= result.OriginalSize {
		return Result{}, fmt.Errorf("%w: %d -> %d bytes", ErrNoReduction, result.OriginalSize, out.Size())
	}
	if err := os.Chmod(outputPath, info.Mode().Perm()); err != nil {
		return Result{}, fmt.Errorf("preserve mode: %w", err)
	}
	if err := fileutil.ReplaceFile(outputPath, path); err != nil {
		return Result{}, fmt.Errorf("replace original: %w", err)
	}
	result.ResultSize = out.Size()
	return result, nil
}

func (e *Exec) run(ctx context.Context, inputPath, outputPath string) error {
	args := make([]string, len(e.Args))
	for i, arg := range e.Args {
		arg = strings.ReplaceAll(arg, "{input}", inputPath)
		args[i] = strings.ReplaceAll(arg, "{output}", outputPath)
	}

	cmd := exec.CommandContext(ctx, e.Command, args...) //nolint:gosec
	cmd.SysProcAttr = processGroupAttr()
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = e.Grace

	var stderr tailBuffer
	cmd.Stderr = &stderr
	if e.StdoutToOutput {
		out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("open scratch file: %w", err)
		}
		defer out.Close()
		cmd.Stdout = out
	}

	logging.NewComponentLogger(e.Logger, "processor").Debug("running shrink command",
		logging.String("command", e.Command),
		logging.String(logging.FieldPath, inputPath),
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %w", e.Command, err)
	}
	pgid := cmd.Process.Pid
	e.track(pgid)
	defer e.untrack(pgid)

	err := cmd.Wait()
	if err != nil || ctx.Err() != nil {
		// Children may outlive the leader after a timeout.
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", e.Command, ctxErr)
	}
	if err != nil {
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			return fmt.Errorf("%s: %w: %s", e.Command, err, tail)
		}
		return fmt.Errorf("%s: %w", e.Command, err)
	}
	return nil
}

// tailBuffer keeps the last stderrTailBytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > stderrTailBytes {
		p = p[len(p)-stderrTailBytes:]
	}
	if over := t.buf.Len() + len(p) - stderrTailBytes; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
