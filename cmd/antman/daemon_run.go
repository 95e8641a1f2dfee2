package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"antman/internal/config"
	"antman/internal/lifecycle"
	"antman/internal/logging"
	"antman/internal/preflight"
	"antman/internal/processor"
	"antman/internal/shrink"
	"antman/internal/state"
)

// runDaemon wires the State Store, processor and pass runner into the run
// loop and blocks until ctx ends (or after one pass in once mode).
func runDaemon(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	store, err := state.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Read(ctx)
	if err != nil {
		return err
	}
	logger, err := daemonLogger(cfg, st.LogFile, stderr)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg, st.WatchDirectory)

	proc, err := processor.New(cfg, logger)
	if err != nil {
		return err
	}
	runner := shrink.NewRunner(cfg, store, proc, logger)
	d := lifecycle.NewDaemon(cfg, store, runner, logger)

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyRunning) {
			logging.WarnWithContext(logger, "another daemon holds the instance lock", "daemon_already_running",
				logging.String(logging.FieldImpact, "this process exits without scanning"),
				logging.String(logging.FieldErrorHint, "use `antman info` to see the running daemon"),
			)
		}
		return err
	}
	return nil
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config, watchDir string) {
	results := preflight.RunAll(cfg, watchDir)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("processor", cfg.Processor.Kind),
	}
	for _, r := range results {
		attrs = append(attrs, logging.Bool(checkKey(r.Name), r.Passed))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "readiness check failed", "readiness_check_failed",
			logging.String("check", r.Name),
			logging.String(logging.FieldErrorHint, r.Detail),
			logging.String(logging.FieldImpact, "files will fail until this is fixed"),
		)
	}
}

func checkKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_") + "_ok"
}

// daemonLogger writes to the daemon log file and, when attached to a
// terminal, mirrors records to stderr.
func daemonLogger(cfg *config.Config, logFile string, stderr io.Writer) (*slog.Logger, error) {
	logger, err := logging.NewFromConfig(cfg, logFile)
	if err != nil {
		return nil, err
	}
	if !shouldColorize(stderr) {
		return logger, nil
	}
	console, err := logging.NewHandler(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return logger, nil
	}
	return slog.New(logging.TeeHandler(logger.Handler(), console)), nil
}
