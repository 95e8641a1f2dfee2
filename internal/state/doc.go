// Package state persists antman's daemon state in SQLite.
//
// The Store holds a single daemon_state row (PID, watch directory, whitelist,
// log file and timestamps), the per-file signature index used to skip files
// that were already shrunk, and a short history of completed passes. Control
// commands and the daemon process share the same database file; every
// read-modify-write of the daemon row runs under an advisory file lock and a
// SQLite transaction so concurrent invocations serialize.
//
// The daemon does not need to be running for any Store operation. Schema
// changes bump schemaVersion; users delete state.db to adopt a new schema.
package state
