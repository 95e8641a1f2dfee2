package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// DaemonEnvVar marks the environment of a daemon launched by a Backend.
const DaemonEnvVar = "ANTMAN_DAEMONIZED"

// Launched describes a freshly spawned daemon process.
type Launched struct {
	PID int
	// Exited receives the wait result if the process ends. It may never
	// fire when the launching process exits first.
	Exited <-chan error
}

// Backend spawns, checks and signals daemon processes.
type Backend interface {
	Launch(ctx context.Context) (Launched, error)
	Alive(pid int) bool
	Terminate(pid int) error
	Kill(pid int) error
}

// ProcessBackend re-executes the current binary as a detached daemon.
type ProcessBackend struct {
	// Executable defaults to os.Executable().
	Executable string
	// Args follow the executable, normally {"daemon", "--config", path}.
	Args []string
}

// NewProcessBackend resolves the running executable.
func NewProcessBackend(args ...string) (*ProcessBackend, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return &ProcessBackend{Executable: exe, Args: slices.Clone(args)}, nil
}

// Launch starts the daemon in its own session with stdio detached.
func (b *ProcessBackend) Launch(ctx context.Context) (Launched, error) {
	if strings.TrimSpace(b.Executable) == "" {
		return Launched{}, errors.New("launch daemon: executable path is empty")
	}
	if err := ctx.Err(); err != nil {
		return Launched{}, err
	}

	cmd := exec.Command(b.Executable, b.Args...)
	cmd.Env = append(os.Environ(), DaemonEnvVar+"=1")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return Launched{}, fmt.Errorf("launch daemon: %w", err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()
	return Launched{PID: cmd.Process.Pid, Exited: exited}, nil
}

// Alive reports whether pid is a live process running this executable.
// A recycled PID owned by another program counts as dead.
func (b *ProcessBackend) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	if statuses, err := proc.Status(); err == nil && slices.Contains(statuses, process.Zombie) {
		return false
	}
	want := filepath.Base(b.Executable)
	if want == "" || want == "." {
		return true
	}
	if exe, err := proc.Exe(); err == nil && exe != "" {
		return filepath.Base(strings.TrimSuffix(exe, " (deleted)")) == want
	}
	name, err := proc.Name()
	if err != nil {
		// Identity unknown; trust the signal check.
		return true
	}
	return sameCommandName(name, want)
}

// Terminate requests a graceful shutdown.
func (b *ProcessBackend) Terminate(pid int) error {
	return signalPID(pid, unix.SIGTERM)
}

// Kill forces the process down.
func (b *ProcessBackend) Kill(pid int) error {
	return signalPID(pid, unix.SIGKILL)
}

func signalPID(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("signal %s: invalid pid %d", sig, pid)
	}
	if pid == os.Getpid() {
		return fmt.Errorf("signal %s: refusing to signal current process (pid %d)", sig, pid)
	}
	err := unix.Kill(pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal %s to pid %d: %w", sig, pid, err)
}

// comm names are truncated by the kernel.
const commNameLimit = 15

func sameCommandName(name, want string) bool {
	if name == want {
		return true
	}
	return len(name) == commNameLimit && strings.HasPrefix(want, name)
}
