package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"intake/internal/config"
	"intake/internal/history"
	"intake/internal/logging"
	"intake/internal/notifications"
	"intake/internal/pipeline"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var rootFlag string
	var skipHistory bool

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Run one file through backup, quarantine, dispatch and archive now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			source, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			root, err := resolveProcessRoot(cfg, filepath.Dir(source), rootFlag)
			if err != nil {
				return err
			}
			layout, err := pipeline.NewLayout(root, filepath.Dir(source))
			if err != nil {
				return err
			}
			if err := layout.EnsureDirectories(); err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stderr"},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			registry, err := pipeline.NewRegistry(cfg.Handlers.Extensions, pipeline.DefaultHandlers(logger)...)
			if err != nil {
				return err
			}

			job, procErr := pipeline.New(layout, registry, logger).Process(cmd.Context(), source)

			if !skipHistory {
				store, err := history.Open(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				if _, err := store.Record(cmd.Context(), job); err != nil {
					logging.WarnWithContext(logger, "failed to record job", "history_write_failed",
						logging.Error(err),
						logging.String(logging.FieldImpact, "job missing from intake history"),
					)
				}
			}

			if err := notifications.NewService(cfg).NotifyJob(cmd.Context(), job); err != nil {
				logging.WarnWithContext(logger, "job notification failed", "notification_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "job outcome not delivered to ntfy"),
				)
			}

			out := cmd.OutOrStdout()
			if procErr != nil {
				fmt.Fprintf(out, "Job %s aborted after %s: %v\n", job.ID, job.LastState, procErr)
				if hint := pipeline.Hint(procErr); hint != "" {
					fmt.Fprintf(out, "Hint: %s\n", hint)
				}
				return errors.New("file was not archived")
			}
			fmt.Fprintf(out, "Archived %s -> %s\n", job.Name(), job.ArchivePath)
			switch {
			case job.Unsupported:
				fmt.Fprintf(out, "No handler for %q; archived unchanged\n", job.Extension)
			case job.Summary != "":
				fmt.Fprintf(out, "%s: %s\n", job.Handler, job.Summary)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rootFlag, "root", "", "Directory holding backup/, processing/ and complete/ (defaults to the parent of the file's directory)")
	cmd.Flags().BoolVar(&skipHistory, "no-history", false, "Do not record the job in the history database")
	return cmd
}

// resolveProcessRoot picks the archive root for a one-shot run. An explicit
// flag wins; a file inside the configured watch directory uses the configured
// root; otherwise the parent of the file's directory is used.
func resolveProcessRoot(cfg *config.Config, sourceDir, flagValue string) (string, error) {
	if strings.TrimSpace(flagValue) != "" {
		return config.ExpandPath(strings.TrimSpace(flagValue))
	}
	if cfg != nil && cfg.Watch.Directory != "" && filepath.Clean(cfg.Watch.Directory) == filepath.Clean(sourceDir) {
		return cfg.RootDir(), nil
	}
	return filepath.Dir(sourceDir), nil
}
