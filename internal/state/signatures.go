package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const signatureColumns = "path, size, mod_time_ns, digest, outcome, reason, attempts, original_size, result_size, updated_at"

func scanSignature(row rowScanner) (Signature, error) {
	var (
		sig        Signature
		outcome    string
		updatedRaw string
	)
	if err := row.Scan(&sig.Path, &sig.Size, &sig.ModTimeNS, &sig.Digest, &outcome, &sig.Reason,
		&sig.Attempts, &sig.OriginalSize, &sig.ResultSize, &updatedRaw); err != nil {
		return Signature{}, err
	}
	sig.Outcome = Outcome(outcome)
	sig.UpdatedAt = parseTimeString(updatedRaw)
	return sig, nil
}

// Signature returns the stored signature for path. The boolean is false when
// the file has never been recorded.
func (s *Store) Signature(ctx context.Context, path string) (Signature, bool, error) {
	ctx = ensureContext(ctx)
	var sig Signature
	err := retryOnBusy(ctx, func() error {
		var scanErr error
		sig, scanErr = scanSignature(s.db.QueryRowContext(ctx,
			"SELECT "+signatureColumns+" FROM file_signatures WHERE path = ?", path))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Signature{}, false, nil
	}
	if err != nil {
		return Signature{}, false, fmt.Errorf("read signature %s: %w", path, err)
	}
	return sig, true, nil
}

// PutSignature inserts or replaces the signature for sig.Path.
func (s *Store) PutSignature(ctx context.Context, sig Signature) error {
	if sig.Path == "" {
		return errors.New("put signature: path is required")
	}
	if sig.UpdatedAt.IsZero() {
		sig.UpdatedAt = time.Now()
	}
	err := s.execWithRetry(ctx,
		`INSERT INTO file_signatures (`+signatureColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET size = excluded.size, mod_time_ns = excluded.mod_time_ns,
		 digest = excluded.digest, outcome = excluded.outcome, reason = excluded.reason,
		 attempts = excluded.attempts, original_size = excluded.original_size,
		 result_size = excluded.result_size, updated_at = excluded.updated_at`,
		sig.Path, sig.Size, sig.ModTimeNS, sig.Digest, string(sig.Outcome), sig.Reason,
		sig.Attempts, sig.OriginalSize, sig.ResultSize, formatTime(sig.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put signature %s: %w", sig.Path, err)
	}
	return nil
}

// DeleteSignature forgets path.
func (s *Store) DeleteSignature(ctx context.Context, path string) error {
	if err := s.execWithRetry(ctx, "DELETE FROM file_signatures WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete signature %s: %w", path, err)
	}
	return nil
}

// PruneSignatures removes signatures whose path keep rejects. It returns the
// number of rows removed.
func (s *Store) PruneSignatures(ctx context.Context, keep func(path string) bool) (int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM file_signatures ORDER BY path")
	if err != nil {
		return 0, fmt.Errorf("list signatures: %w", err)
	}
	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan signature: %w", err)
		}
		if !keep(path) {
			stale = append(stale, path)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, path := range stale {
		if err := s.DeleteSignature(ctx, path); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// SignatureCount returns how many files are tracked.
func (s *Store) SignatureCount(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM file_signatures").Scan(&count); err != nil {
		return 0, fmt.Errorf("count signatures: %w", err)
	}
	return count, nil
}
