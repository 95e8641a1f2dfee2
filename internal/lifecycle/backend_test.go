package lifecycle

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitExit(t *testing.T, l Launched) error {
	t.Helper()
	select {
	case err := <-l.Exited:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
		return nil
	}
}

func TestProcessBackendLaunchMarksEnvironment(t *testing.T) {
	b := &ProcessBackend{
		Executable: "/bin/sh",
		Args:       []string{"-c", `test "$` + DaemonEnvVar + `" = 1`},
	}
	launched, err := b.Launch(context.Background())
	require.NoError(t, err)
	require.Positive(t, launched.PID)
	require.NoError(t, waitExit(t, launched))
}

func TestProcessBackendLaunchRequiresExecutable(t *testing.T) {
	_, err := (&ProcessBackend{}).Launch(context.Background())
	require.Error(t, err)
}

func TestProcessBackendAliveChecksIdentity(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	if resolved, err := filepath.EvalSymlinks(sleep); err == nil {
		sleep = resolved
	}

	b := &ProcessBackend{Executable: sleep, Args: []string{"30"}}
	launched, err := b.Launch(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Kill(launched.PID) })

	require.True(t, b.Alive(launched.PID))

	other := &ProcessBackend{Executable: filepath.Join(t.TempDir(), "antman")}
	require.False(t, other.Alive(launched.PID), "a different executable must not claim the pid")

	require.NoError(t, b.Terminate(launched.PID))
	require.Error(t, waitExit(t, launched), "sleep should report the SIGTERM")
	require.False(t, b.Alive(launched.PID))
	require.NoError(t, b.Terminate(launched.PID), "signalling a vanished pid is not an error")
}

func TestSignalPIDRejectsSelfAndInvalid(t *testing.T) {
	b := &ProcessBackend{}
	require.Error(t, b.Terminate(os.Getpid()))
	require.Error(t, b.Kill(0))
	require.False(t, b.Alive(0))
}

func TestSameCommandName(t *testing.T) {
	tests := []struct {
		name, want string
		match      bool
	}{
		{"antman", "antman", true},
		{"antman-nightly-", "antman-nightly-build", true},
		{"antman-nightly", "antman-nightly-build", false},
		{"gzip", "antman", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.match, sameCommandName(tt.name, tt.want), "%s vs %s", tt.name, tt.want)
	}
}
