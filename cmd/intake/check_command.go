package main

import (
	"fmt"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"intake/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check [directory]",
		Short: "Verify directories, permissions and watcher lock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				// Report the missing directory through the preflight line instead
				// of failing before anything is printed.
				_ = cfg.SetWatchDirectory(args[0])
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Environment", colorize) {
				fmt.Fprintln(out, line)
			}

			configDetail := ctx.configPath
			if !ctx.configSeen {
				configDetail += " (not found, defaults in use)"
			}
			fmt.Fprintln(out, renderStatusLine("Config", statusInfo, configDetail, colorize))

			results := preflight.RunAll(cfg)
			if cfg.Watch.Directory == "" {
				fmt.Fprintln(out, renderStatusLine("Watch directory", statusWarn, "not configured", colorize))
			}
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			lockKind, lockDetail := watcherLockState(cfg.LockPath())
			fmt.Fprintln(out, renderStatusLine("Watcher", lockKind, lockDetail, colorize))

			if failed := preflight.Failed(results); len(failed) > 0 {
				names := make([]string, 0, len(failed))
				for _, r := range failed {
					names = append(names, r.Name)
				}
				return fmt.Errorf("%d check(s) failed: %s", len(failed), strings.Join(names, ", "))
			}
			return nil
		},
	}
}

// watcherLockState reports whether another process holds the watcher lock.
func watcherLockState(path string) (statusKind, string) {
	lock := flock.New(path)
	ok, err := lock.TryRLock()
	if err != nil {
		return statusWarn, fmt.Sprintf("cannot inspect %s: %v", path, err)
	}
	if !ok {
		return statusInfo, "running (" + path + ")"
	}
	_ = lock.Unlock()
	return statusOK, "not running"
}
