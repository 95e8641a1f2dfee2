// Package config loads, normalizes, and validates antman settings.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// ANTMAN_STATE_DIR. Settings describe how the daemon runs: where its state
// database lives, how often passes repeat, which processor shrinks files and
// how logs are written.
//
// The watch directory, whitelist and daemon PID are not settings. They are
// mutable daemon state owned by the state package and changed through the
// `antman set` command.
package config
