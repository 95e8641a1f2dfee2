package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

const daemonStateColumns = "pid, watch_directory, whitelist, log_file, created_at, modified_at, started_at, last_run_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDaemonState(row rowScanner) (DaemonState, error) {
	var (
		pid        int
		watchDir   string
		whitelist  string
		logFile    string
		createdRaw string
		modRaw     string
		startedRaw sql.NullString
		lastRunRaw sql.NullString
	)
	if err := row.Scan(&pid, &watchDir, &whitelist, &logFile, &createdRaw, &modRaw, &startedRaw, &lastRunRaw); err != nil {
		return DaemonState{}, err
	}
	if pid <= 0 {
		pid = NoPID
	}
	return DaemonState{
		PID:            pid,
		WatchDirectory: watchDir,
		Whitelist:      decodeWhitelist(whitelist),
		LogFile:        logFile,
		CreatedAt:      parseTimeString(createdRaw),
		ModifiedAt:     parseTimeString(modRaw),
		StartedAt:      parseNullTime(startedRaw),
		LastRunAt:      parseNullTime(lastRunRaw),
	}, nil
}

// Read returns the current daemon record.
func (s *Store) Read(ctx context.Context) (DaemonState, error) {
	ctx = ensureContext(ctx)
	var st DaemonState
	err := retryOnBusy(ctx, func() error {
		var scanErr error
		row := s.db.QueryRowContext(ctx, "SELECT "+daemonStateColumns+" FROM daemon_state WHERE id = 1")
		st, scanErr = scanDaemonState(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return DaemonState{PID: NoPID}, nil
	}
	if err != nil {
		return DaemonState{}, fmt.Errorf("read daemon state: %w", err)
	}
	return st, nil
}

// Update applies fn to the daemon record inside an exclusive read-modify-write.
// Returning an error from fn aborts the update and leaves the record unchanged.
func (s *Store) Update(ctx context.Context, fn func(*DaemonState) error) (DaemonState, error) {
	ctx = ensureContext(ctx)
	var result DaemonState
	err := s.withLock(ctx, func() error {
		return retryOnBusy(ctx, func() error {
			var err error
			result, err = s.updateTx(ctx, fn)
			return err
		})
	})
	if err != nil {
		return DaemonState{}, err
	}
	return result, nil
}

func (s *Store) updateTx(ctx context.Context, fn func(*DaemonState) error) (DaemonState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DaemonState{}, fmt.Errorf("begin state tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanDaemonState(tx.QueryRowContext(ctx, "SELECT "+daemonStateColumns+" FROM daemon_state WHERE id = 1"))
	if err != nil {
		return DaemonState{}, fmt.Errorf("read daemon state: %w", err)
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return DaemonState{}, err
	}
	if next.PID <= 0 {
		next.PID = NoPID
	}
	if configChanged(current, next) {
		next.ModifiedAt = time.Now().UTC()
	}

	whitelist, err := encodeWhitelist(next.Whitelist)
	if err != nil {
		return DaemonState{}, fmt.Errorf("encode whitelist: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE daemon_state SET pid = ?, watch_directory = ?, whitelist = ?, log_file = ?,
		 modified_at = ?, started_at = ?, last_run_at = ? WHERE id = 1`,
		next.PID, next.WatchDirectory, whitelist, next.LogFile,
		formatTime(next.ModifiedAt), nullableTime(next.StartedAt), nullableTime(next.LastRunAt),
	)
	if err != nil {
		return DaemonState{}, fmt.Errorf("write daemon state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return DaemonState{}, fmt.Errorf("commit daemon state: %w", err)
	}
	return next, nil
}

// configChanged reports whether operator-visible configuration moved.
// PID bookkeeping alone does not bump the modified timestamp.
func configChanged(before, after DaemonState) bool {
	return before.WatchDirectory != after.WatchDirectory ||
		before.LogFile != after.LogFile ||
		!slices.Equal(before.Whitelist, after.Whitelist)
}

// SetWatchDirectory records the directory the daemon scans.
func (s *Store) SetWatchDirectory(ctx context.Context, dir string) (DaemonState, error) {
	return s.Update(ctx, func(st *DaemonState) error {
		st.WatchDirectory = dir
		return nil
	})
}

// SetWhitelist replaces the whitelist. Tokens are stored as given; callers
// normalize them first.
func (s *Store) SetWhitelist(ctx context.Context, tokens []string) (DaemonState, error) {
	return s.Update(ctx, func(st *DaemonState) error {
		st.Whitelist = slices.Clone(tokens)
		return nil
	})
}

// SetLogFile records the daemon log file. Empty restores the default.
func (s *Store) SetLogFile(ctx context.Context, path string) (DaemonState, error) {
	return s.Update(ctx, func(st *DaemonState) error {
		st.LogFile = path
		return nil
	})
}

// RecordPID stores the daemon PID and its start time.
func (s *Store) RecordPID(ctx context.Context, pid int, startedAt time.Time) (DaemonState, error) {
	if pid <= 0 {
		return DaemonState{}, fmt.Errorf("record pid: invalid pid %d", pid)
	}
	return s.Update(ctx, func(st *DaemonState) error {
		st.PID = pid
		started := startedAt.UTC()
		st.StartedAt = &started
		return nil
	})
}

// ClearPID resets the PID to NoPID when it still equals expected. Passing
// NoPID clears unconditionally. It reports whether the record changed.
func (s *Store) ClearPID(ctx context.Context, expected int) (bool, error) {
	cleared := false
	_, err := s.Update(ctx, func(st *DaemonState) error {
		cleared = false
		if st.PID == NoPID {
			return nil
		}
		if expected != NoPID && st.PID != expected {
			return nil
		}
		st.PID = NoPID
		st.StartedAt = nil
		cleared = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return cleared, nil
}

// MarkRun records the completion time of the latest pass.
func (s *Store) MarkRun(ctx context.Context, at time.Time) error {
	_, err := s.Update(ctx, func(st *DaemonState) error {
		t := at.UTC()
		st.LastRunAt = &t
		return nil
	})
	return err
}
