package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"antman/internal/config"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the antman daemon in the foreground (internal)",
		Hidden:       true,
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if once {
				cfg.Daemon.Mode = config.ModeOnce
			}
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runDaemon(signalCtx, cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Exit after a single pass")
	return cmd
}
