package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"intake/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit    int
		outcomes []string
		fileName string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List processed files, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				records, err := store.List(cmd.Context(), history.ListOptions{
					Limit:    limit,
					Outcomes: outcomes,
					FileName: fileName,
				})
				if err != nil {
					return err
				}
				if asJSON {
					if records == nil {
						records = []*history.Record{}
					}
					return writeJSON(cmd, records)
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				table := renderTable(
					[]string{"Finished", "Job", "File", "Outcome", "Handler", "Duration", "Detail"},
					buildHistoryRows(records, colorize),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to show")
	cmd.Flags().StringSliceVar(&outcomes, "outcome", nil, "Only show jobs with these outcomes (archived, conflict, not_found, handler, infra)")
	cmd.Flags().StringVar(&fileName, "file", "", "Only show jobs for this file name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	cmd.AddCommand(newHistoryStatsCommand(ctx))
	cmd.AddCommand(newHistoryClearCommand(ctx))
	return cmd
}

func newHistoryStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if len(stats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded")
					return nil
				}
				outcomes := make([]string, 0, len(stats))
				for outcome := range stats {
					outcomes = append(outcomes, outcome)
				}
				sort.Strings(outcomes)
				rows := make([][]string, 0, len(outcomes))
				for _, outcome := range outcomes {
					rows = append(rows, []string{outcome, fmt.Sprintf("%d", stats[outcome])})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Outcome", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete job history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				var (
					removed int64
					err     error
				)
				if olderThan > 0 {
					removed, err = store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				} else {
					removed, err = store.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job record(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove jobs that finished longer ago than this (e.g. 720h)")
	return cmd
}

func buildHistoryRows(records []*history.Record, colorize bool) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		handler := rec.Handler
		if handler == "" {
			handler = "-"
		}
		rows = append(rows, []string{
			rec.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			shortJobID(rec.JobID),
			rec.FileName,
			colorOutcome(rec.Outcome, colorize),
			handler,
			formatDuration(rec.Duration),
			historyDetail(rec),
		})
	}
	return rows
}

func historyDetail(rec *history.Record) string {
	switch {
	case rec.Failed():
		return truncate(rec.ErrorMessage, 60)
	case rec.Unsupported:
		return "no handler"
	default:
		return truncate(rec.Summary, 60)
	}
}

func colorOutcome(outcome string, colorize bool) string {
	if !colorize {
		return outcome
	}
	switch outcome {
	case history.OutcomeArchived:
		return ansiGreen + outcome + ansiReset
	case "conflict", "not_found":
		return ansiYellow + outcome + ansiReset
	default:
		return ansiRed + outcome + ansiReset
	}
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}
