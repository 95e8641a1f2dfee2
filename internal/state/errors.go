package state

import "errors"

var (
	// ErrStoreUnavailable reports that the state directory or database could
	// not be opened. It is fatal for the invoking command only.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
