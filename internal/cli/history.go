// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-tasks/internal/storage"
	"github.com/jeranaias/rigrun-tasks/internal/tasks"
)

// =============================================================================
// HISTORY COMMAND
// =============================================================================

func historyCommand(root *Root) *cobra.Command {
	var (
		limit    int
		jsonOut  bool
		clearAll bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent runs",
		Long: `Show recent runs from the run log, newest first.

Give a run ID (or a unique prefix of one) to show a single run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return &UsageError{Field: "--limit", Value: fmt.Sprint(limit), Reason: "must be positive"}
			}

			path, err := root.cfg.HistoryPath()
			if err != nil {
				return err
			}
			runs, err := storage.Open(path, root.cfg.History.MaxEntries)
			if err != nil {
				return err
			}
			defer runs.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case clearAll:
				if err := runs.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, root.theme.Success.Render("Run history cleared."))
				return nil

			case len(args) == 1:
				if jsonOut {
					return outputJSON(out, "history", func() (any, error) {
						return runs.Get(ctx, args[0])
					})
				}
				rec, err := runs.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				fmt.Fprint(out, root.formatRun(rec))
				return nil
			}

			if jsonOut {
				return outputJSON(out, "history", func() (any, error) {
					return runs.Recent(ctx, limit)
				})
			}

			recent, err := runs.Recent(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, storage.FormatRunList(recent))

			counts, err := runs.Counts(ctx)
			if err != nil {
				return err
			}
			if line := formatCounts(counts); line != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, root.theme.Muted.Render(line))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "delete all recorded runs")
	return cmd
}

// formatRun renders one run record.
func (root *Root) formatRun(rec tasks.Record) string {
	var sb strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&sb, "%s %s\n", root.theme.Muted.Render(fmt.Sprintf("%-12s", label+":")), value)
	}

	row("ID", rec.TaskID)
	row("Task", rec.Description)
	row("Outcome", root.outcomeText(rec.Outcome))
	row("Progress", fmt.Sprintf("%d%%", rec.Progress))
	if !rec.StartedAt.IsZero() {
		row("Started", rec.StartedAt.Local().Format(time.DateTime))
	}
	if d := rec.Duration(); d > 0 {
		row("Duration", d.Round(time.Millisecond).String())
	}
	if rec.Error != "" {
		row("Error", rec.Error)
	}
	return sb.String()
}

func (root *Root) outcomeText(o tasks.Outcome) string {
	switch o {
	case tasks.OutcomeCompleted:
		return root.theme.Success.Render(o.String())
	case tasks.OutcomeFailed:
		return root.theme.Failure.Render(o.String())
	case tasks.OutcomeCanceled:
		return root.theme.Warning.Render(o.String())
	default:
		return o.String()
	}
}

// formatCounts renders "3 Completed, 1 Canceled" in a stable order.
func formatCounts(counts map[tasks.Outcome]int) string {
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)

	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if n := counts[tasks.Outcome(o)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	return strings.Join(parts, ", ")
}
