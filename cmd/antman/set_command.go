package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"antman/internal/control"
	"antman/internal/logging"
	"antman/internal/whitelist"
)

func newSetCommand(ctx *commandContext) *cobra.Command {
	var watchDir string
	var kinds string
	var logFile string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the watch directory, whitelist or log file",
		Long: "Update daemon settings stored in the state database.\n\n" +
			"Whitelist and watch directory changes are picked up by a running daemon\n" +
			"on its next pass; a log file change applies the next time it starts.",
		Example: "  antman set -w /data/incoming\n  antman set -W fastq,bam,vcf\n  antman set -W \"\"",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("watch") && !flags.Changed("whitelist") && !flags.Changed("log") {
				return errors.New("nothing to set: pass -w <dir>, -W <kinds> or -l <file>")
			}
			out := cmd.OutOrStdout()
			return ctx.withClient(nil, func(client *control.Client) error {
				if flags.Changed("watch") {
					dir, err := client.SetWatchDirectory(cmd.Context(), watchDir)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Watch directory set to %s\n", dir)
				}
				if flags.Changed("whitelist") {
					tokens, err := client.SetWhitelist(cmd.Context(), kinds)
					if err != nil {
						return err
					}
					if len(tokens) == 0 {
						fmt.Fprintln(out, "Whitelist cleared; no file will be processed")
					} else {
						fmt.Fprintf(out, "Whitelist set to %s\n", whitelist.String(tokens))
					}
				}
				if flags.Changed("log") {
					path, err := client.SetLogFile(cmd.Context(), logFile)
					if err != nil {
						return err
					}
					if path == "" {
						cfg, _ := ctx.ensureConfig()
						path = logging.DefaultLogPath(cfg)
					}
					fmt.Fprintf(out, "Log file set to %s\n", path)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&watchDir, "watch", "w", "", "Directory to watch (must exist)")
	cmd.Flags().StringVarP(&kinds, "whitelist", "W", "", "File kinds to process, comma separated (empty clears)")
	cmd.Flags().StringVarP(&logFile, "log", "l", "", "Daemon log file (empty restores the default)")
	return cmd
}
