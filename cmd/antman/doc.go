// Package main hosts the antman CLI entrypoint and command graph.
//
// The same binary is the control client and the daemon: `set`, `info`,
// `shrink` and `stop` read and write the State Store and drive the
// lifecycle manager, while the hidden `daemon` command is what `shrink`
// launches in the background. Keep this package lean; behavior lives in the
// internal packages.
package main
