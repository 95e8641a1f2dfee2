package state

import (
	"context"
	"errors"
	"fmt"
)

// maxPassHistory bounds the pass_history table.
const maxPassHistory = 50

// RecordPass stores a finished pass and trims old history.
func (s *Store) RecordPass(ctx context.Context, rec PassRecord) error {
	if rec.RunID == "" {
		return errors.New("record pass: run id is required")
	}
	err := s.execWithRetry(ctx,
		`INSERT OR REPLACE INTO pass_history
		 (run_id, root, started_at, finished_at, ineligible, skipped, succeeded, failed, saved_bytes, aborted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Root, formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
		rec.Counts.Ineligible, rec.Counts.Skipped, rec.Counts.Succeeded, rec.Counts.Failed,
		rec.SavedBytes, rec.Aborted,
	)
	if err != nil {
		return fmt.Errorf("record pass %s: %w", rec.RunID, err)
	}
	err = s.execWithRetry(ctx,
		`DELETE FROM pass_history WHERE run_id NOT IN
		 (SELECT run_id FROM pass_history ORDER BY started_at DESC LIMIT ?)`, maxPassHistory)
	if err != nil {
		return fmt.Errorf("trim pass history: %w", err)
	}
	return nil
}

// RecentPasses returns up to limit passes, newest first.
func (s *Store) RecentPasses(ctx context.Context, limit int) ([]PassRecord, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = maxPassHistory
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, root, started_at, finished_at, ineligible, skipped, succeeded, failed, saved_bytes, aborted
		 FROM pass_history ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	var out []PassRecord
	for rows.Next() {
		var (
			rec         PassRecord
			startedRaw  string
			finishedRaw string
		)
		if err := rows.Scan(&rec.RunID, &rec.Root, &startedRaw, &finishedRaw,
			&rec.Counts.Ineligible, &rec.Counts.Skipped, &rec.Counts.Succeeded, &rec.Counts.Failed,
			&rec.SavedBytes, &rec.Aborted); err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		rec.StartedAt = parseTimeString(startedRaw)
		rec.FinishedAt = parseTimeString(finishedRaw)
		out = append(out, rec)
	}
	return out, rows.Err()
}
