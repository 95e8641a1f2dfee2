package main

import (
	"github.com/spf13/cobra"

	"antman/internal/version"
)

func newRootCommand() *cobra.Command {
	return buildRootCommand(nil)
}

// buildRootCommand assembles the command tree. A nil factory launches real
// detached processes.
func buildRootCommand(factory backendFactory) *cobra.Command {
	var configFlag string
	var startFlag bool
	var stopFlag bool

	ctx := newCommandContext(&configFlag)
	if factory != nil {
		ctx.newBackend = factory
	}

	rootCmd := &cobra.Command{
		Use:           "antman",
		Short:         "Watch a directory and shrink whitelisted files in the background",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			if cmd == cmd.Root() && !startFlag && !stopFlag {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case startFlag && stopFlag:
				return errConflictingFlags
			case startFlag:
				return runShrink(cmd, ctx, false)
			case stopFlag:
				return runStop(cmd, ctx)
			default:
				return cmd.Help()
			}
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.Flags().BoolVar(&startFlag, "start", false, "Start the daemon (same as `antman shrink`)")
	rootCmd.Flags().BoolVar(&stopFlag, "stop", false, "Stop the daemon (same as `antman stop`)")

	rootCmd.AddCommand(newSetCommand(ctx))
	rootCmd.AddCommand(newInfoCommand(ctx))
	for _, cmd := range newDaemonCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newDaemonRunCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
