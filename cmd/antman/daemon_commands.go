package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"antman/internal/control"
	"antman/internal/lifecycle"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var once bool
	shrinkCmd := &cobra.Command{
		Use:   "shrink",
		Short: "Start the daemon (no-op when it is already running)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShrink(cmd, ctx, once)
		},
	}
	shrinkCmd.Flags().BoolVar(&once, "once", false, "Run a single pass and exit instead of looping")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon and wait until it has exited",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, ctx)
		},
	}

	return []*cobra.Command{shrinkCmd, stopCmd}
}

func runShrink(cmd *cobra.Command, ctx *commandContext, once bool) error {
	stdout := cmd.OutOrStdout()
	return ctx.withClient(ctx.daemonArgs(once), func(client *control.Client) error {
		result, err := client.Start(cmd.Context())
		if result.RepairedStale {
			fmt.Fprintln(stdout, "Cleared stale daemon record")
		}
		if err != nil {
			return err
		}
		switch {
		case result.State == lifecycle.StartStateAlreadyRunning:
			fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
		case result.Finished:
			fmt.Fprintf(stdout, "Daemon completed its pass and exited (pid %d)\n", result.PID)
		default:
			fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
		}
		return nil
	})
}

func runStop(cmd *cobra.Command, ctx *commandContext) error {
	stdout := cmd.OutOrStdout()
	return ctx.withClient(nil, func(client *control.Client) error {
		result, err := client.Stop(cmd.Context())
		if err != nil {
			return err
		}
		if result.RepairedStale {
			fmt.Fprintf(stdout, "Cleared stale daemon record (pid %d)\n", result.PID)
		}
		if !result.WasRunning {
			fmt.Fprintln(stdout, "Daemon is not running")
			return nil
		}
		if result.ForcedKill {
			fmt.Fprintf(stdout, "Daemon did not exit in time; killed (pid %d)\n", result.PID)
		}
		fmt.Fprintln(stdout, "Daemon stopped")
		return nil
	})
}
