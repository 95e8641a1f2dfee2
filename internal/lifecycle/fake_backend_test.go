package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"antman/internal/lifecycle"
	"antman/internal/state"
)

// fakeBackend simulates detached daemons against a real State Store.
type fakeBackend struct {
	store *state.Store

	mu       sync.Mutex
	nextPID  int
	alive    map[int]bool
	launches int

	// skipRecord leaves the child running without recording its PID.
	skipRecord bool
	// exitErr makes the child exit right after launch.
	exitErr error
	// finish makes the child complete one pass and exit cleanly without
	// the manager ever seeing its PID.
	finish bool
	// ignoreTerm keeps the child alive after SIGTERM.
	ignoreTerm bool
	termErr    error

	terminated []int
	killed     []int
}

func newFakeBackend(store *state.Store) *fakeBackend {
	return &fakeBackend{store: store, nextPID: 4242, alive: make(map[int]bool)}
}

var _ lifecycle.Backend = (*fakeBackend)(nil)

func (f *fakeBackend) Launch(context.Context) (lifecycle.Launched, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pid := f.nextPID
	f.nextPID++
	f.launches++
	exited := make(chan error, 1)

	if f.exitErr != nil {
		exited <- f.exitErr
		return lifecycle.Launched{PID: pid, Exited: exited}, nil
	}
	if f.finish {
		go func() {
			_ = f.store.MarkRun(context.Background(), time.Now())
			exited <- nil
		}()
		return lifecycle.Launched{PID: pid, Exited: exited}, nil
	}
	f.alive[pid] = true
	if !f.skipRecord {
		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = f.store.RecordPID(context.Background(), pid, time.Now())
		}()
	}
	return lifecycle.Launched{PID: pid, Exited: exited}, nil
}

func (f *fakeBackend) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeBackend) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.termErr != nil {
		return f.termErr
	}
	f.terminated = append(f.terminated, pid)
	if f.ignoreTerm {
		return nil
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = f.store.ClearPID(context.Background(), pid)
		f.mu.Lock()
		f.alive[pid] = false
		f.mu.Unlock()
	}()
	return nil
}

func (f *fakeBackend) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pid)
	f.alive[pid] = false
	return nil
}

func (f *fakeBackend) setAlive(pid int, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = alive
}

func (f *fakeBackend) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

var errChildCrashed = errors.New("exit status 2")
