// Package preflight reports whether the daemon can do useful work: the watch
// directory must be traversable and writable, and the configured processor's
// binaries must resolve on PATH.
//
// Results are advisory. The daemon logs a snapshot at startup and `antman
// info` renders them; neither refuses to run on a failed check, since a pass
// surfaces the same problems per file.
package preflight
