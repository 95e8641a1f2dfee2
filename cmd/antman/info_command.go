package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"antman/internal/config"
	"antman/internal/control"
	"antman/internal/lifecycle"
	"antman/internal/logging"
	"antman/internal/preflight"
	"antman/internal/state"
	"antman/internal/version"
	"antman/internal/whitelist"
)

func newInfoCommand(ctx *commandContext) *cobra.Command {
	var pidOnly bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show daemon settings and state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return ctx.withClient(nil, func(client *control.Client) error {
				if pidOnly {
					pid, err := client.PID(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(out, strconv.Itoa(pid))
					return nil
				}
				info, err := client.Info(cmd.Context())
				if err != nil {
					return err
				}
				renderInfo(out, ctx, info, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&pidOnly, "pid", "p", false, "Print the recorded daemon PID, or -1 when none")
	return cmd
}

func renderInfo(out io.Writer, ctx *commandContext, info control.Info, colorize bool) {
	cfg, _ := ctx.ensureConfig()
	st := info.State

	for _, line := range renderSectionHeader("antman "+version.String(), colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, daemonStatusLine(info.Status, st, colorize))
	fmt.Fprintln(out, watchDirectoryLine(st.WatchDirectory, colorize))
	if len(st.Whitelist) == 0 {
		fmt.Fprintln(out, renderStatusLine("Whitelist", statusWarn, "(empty) - nothing is processed", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Whitelist", statusOK, whitelist.String(st.Whitelist), colorize))
	}
	logFile := st.LogFile
	if logFile == "" {
		logFile = logging.DefaultLogPath(cfg)
	}
	fmt.Fprintln(out, renderStatusLine("Log file", statusInfo, logFile, colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Settings", colorize) {
		fmt.Fprintln(out, line)
	}
	settings := ctx.configPath
	if !ctx.configExists {
		settings += " (not found; defaults)"
	}
	fmt.Fprintln(out, renderStatusLine("Config file", statusInfo, settings, colorize))
	fmt.Fprintln(out, renderStatusLine("State database", statusInfo, info.StatePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Mode", statusInfo, modeDetail(cfg.Daemon.Mode, cfg.PassInterval()), colorize))
	fmt.Fprintln(out, renderStatusLine("Processor", statusInfo, fmt.Sprintf("%s (%d workers)", cfg.Processor.Kind, cfg.WorkerCount()), colorize))
	fmt.Fprintln(out, renderStatusLine("Tracked files", statusInfo, strconv.Itoa(info.Signatures), colorize))
	fmt.Fprintln(out, renderStatusLine("Created", statusInfo, formatTimestamp(&st.CreatedAt), colorize))
	fmt.Fprintln(out, renderStatusLine("Modified", statusInfo, formatTimestamp(&st.ModifiedAt), colorize))
	fmt.Fprintln(out, renderStatusLine("Last run", statusInfo, formatTimestamp(st.LastRunAt), colorize))
	fmt.Fprintln(out)

	if len(info.Checks) > 0 {
		for _, line := range renderSectionHeader("Readiness", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, check := range info.Checks {
			fmt.Fprintln(out, checkLine(check, colorize))
		}
		fmt.Fprintln(out)
	}

	for _, line := range renderSectionHeader("Recent Passes", colorize) {
		fmt.Fprintln(out, line)
	}
	if len(info.Passes) == 0 {
		fmt.Fprintln(out, "No passes recorded")
		return
	}
	rows, footer := passRows(info.Passes)
	fmt.Fprint(out, renderTable(
		[]string{"Started", "Skipped", "Succeeded", "Failed", "Saved", "Result"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
		footer...,
	))
	fmt.Fprintln(out)
}

func checkLine(check preflight.Result, colorize bool) string {
	switch {
	case check.Passed:
		return renderStatusLine(check.Name, statusOK, check.Detail, colorize)
	case check.Optional:
		return renderStatusLine(check.Name, statusWarn, check.Detail, colorize)
	default:
		return renderStatusLine(check.Name, statusError, check.Detail, colorize)
	}
}

func daemonStatusLine(status lifecycle.Status, st state.DaemonState, colorize bool) string {
	switch {
	case status.Running:
		detail := fmt.Sprintf("Running (pid %d)", status.PID)
		if st.StartedAt != nil {
			detail += ", started " + humanize.Time(*st.StartedAt)
		}
		return renderStatusLine("Daemon", statusOK, detail, colorize)
	case status.Stale:
		return renderStatusLine("Daemon", statusWarn,
			fmt.Sprintf("Not running; stale pid %d (cleared by the next shrink or stop)", status.PID), colorize)
	default:
		return renderStatusLine("Daemon", statusInfo, "Not running (run `antman shrink`)", colorize)
	}
}

func watchDirectoryLine(dir string, colorize bool) string {
	if dir == "" {
		return renderStatusLine("Watch directory", statusWarn, "Not set (run `antman set -w <dir>`)", colorize)
	}
	if err := lifecycle.CheckWatchDirectory(dir); err != nil {
		return renderStatusLine("Watch directory", statusError, dir+" (missing or not a directory)", colorize)
	}
	return renderStatusLine("Watch directory", statusOK, dir, colorize)
}

func modeDetail(mode string, interval time.Duration) string {
	if mode == config.ModeOnce {
		return "once (exit after one pass)"
	}
	return fmt.Sprintf("%s (every %s)", mode, interval)
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format(time.DateTime), humanize.Time(*t))
}

func passRows(passes []state.PassRecord) ([][]string, []string) {
	rows := make([][]string, 0, len(passes))
	var total state.PassCounts
	var saved int64
	for _, p := range passes {
		total.Ineligible += p.Counts.Ineligible
		total.Skipped += p.Counts.Skipped
		total.Succeeded += p.Counts.Succeeded
		total.Failed += p.Counts.Failed
		saved += max(p.SavedBytes, 0)
		result := "ok"
		if p.Aborted != "" {
			result = "aborted: " + p.Aborted
		}
		rows = append(rows, []string{
			p.StartedAt.Local().Format(time.DateTime),
			strconv.Itoa(p.Counts.Skipped + p.Counts.Ineligible),
			strconv.Itoa(p.Counts.Succeeded),
			strconv.Itoa(p.Counts.Failed),
			humanize.IBytes(uint64(max(p.SavedBytes, 0))),
			result,
		})
	}
	footer := []string{
		"Total",
		strconv.Itoa(total.Skipped + total.Ineligible),
		strconv.Itoa(total.Succeeded),
		strconv.Itoa(total.Failed),
		humanize.IBytes(uint64(saved)),
		"",
	}
	return rows, footer
}
