package state

import (
	"slices"
	"time"
)

// NoPID is the sentinel stored when no daemon is believed alive.
const NoPID = -1

// DaemonState is the persisted daemon record.
type DaemonState struct {
	PID            int
	WatchDirectory string
	Whitelist      []string
	LogFile        string
	CreatedAt      time.Time
	ModifiedAt     time.Time
	StartedAt      *time.Time
	LastRunAt      *time.Time
}

// HasPID reports whether a daemon PID is recorded.
func (s DaemonState) HasPID() bool {
	return s.PID > 0
}

// Clone returns a deep copy so callers can mutate freely.
func (s DaemonState) Clone() DaemonState {
	out := s
	out.Whitelist = slices.Clone(s.Whitelist)
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		out.LastRunAt = &t
	}
	return out
}

// Outcome is the last recorded result for a file.
type Outcome string

const (
	// OutcomeSucceeded marks a file produced by a successful shrink.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed marks a file whose last dispatch failed and may be retried.
	OutcomeFailed Outcome = "failed"
	// OutcomeNoGain marks a file the processor could not make smaller.
	OutcomeNoGain Outcome = "no_gain"
)

// Signature identifies a file's content as last seen by a pass.
type Signature struct {
	Path         string
	Size         int64
	ModTimeNS    int64
	Digest       string
	Outcome      Outcome
	Reason       string
	Attempts     int
	OriginalSize int64
	ResultSize   int64
	UpdatedAt    time.Time
}

// PassCounts aggregates per-file outcomes of one pass.
type PassCounts struct {
	Ineligible int
	Skipped    int
	Succeeded  int
	Failed     int
}

// Total returns the number of files the pass looked at.
func (c PassCounts) Total() int {
	return c.Ineligible + c.Skipped + c.Succeeded + c.Failed
}

// PassRecord is the persisted summary of a pass.
type PassRecord struct {
	RunID      string
	Root       string
	StartedAt  time.Time
	FinishedAt time.Time
	Counts     PassCounts
	SavedBytes int64
	Aborted    string
}
