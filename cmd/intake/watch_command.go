package main

import (
	"github.com/spf13/cobra"

	"intake/internal/daemonrun"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "watch [directory]",
		Short: "Watch a directory and process files once they settle",
		Long: "Watch a directory and process each file once it has been quiet for the debounce window.\n" +
			"Every file is backed up to <root>/backup, moved through <root>/processing and archived\n" +
			"under <root>/complete with a unique suffix. The root defaults to the parent of the directory.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := cfg.SetWatchDirectory(args[0]); err != nil {
					return err
				}
			} else if err := cfg.ValidateWatch(); err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}
