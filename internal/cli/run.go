// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-tasks/internal/config"
	"github.com/jeranaias/rigrun-tasks/internal/storage"
	"github.com/jeranaias/rigrun-tasks/internal/tasks"
	"github.com/jeranaias/rigrun-tasks/internal/ui"
)

// runFlags are shared by every run sub-command.
type runFlags struct {
	title         string
	cancelingText string
	cancelAfter   time.Duration
	plain         bool
	noHistory     bool
}

// =============================================================================
// RUN COMMANDS
// =============================================================================

func runCommand(root *Root) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a task behind the progress dialog",
		Long: `Run a task behind the progress dialog.

Press esc or c to cancel, q or ctrl+c to close. Both ask the task to stop;
the dialog stays up until it has. Without a terminal, progress is printed
as plain lines and SIGINT/SIGTERM cancel the task.`,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.title, "title", "", "dialog title (default: the task description)")
	pf.StringVar(&flags.cancelingText, "text", "", "status shown while canceling (default from config)")
	pf.DurationVar(&flags.cancelAfter, "cancel-after", 0, "cancel automatically after this long")
	pf.BoolVar(&flags.plain, "plain", false, "print progress lines even on a terminal")
	pf.BoolVar(&flags.noHistory, "no-history", false, "do not record the run in the run log")

	cmd.AddCommand(
		runSleepCommand(root, flags),
		runShellCommand(root, flags),
		runFailCommand(root, flags),
	)
	return cmd
}

func runSleepCommand(root *Root, flags *runFlags) *cobra.Command {
	var (
		duration time.Duration
		steps    int
	)

	cmd := &cobra.Command{
		Use:         "sleep",
		Short:       "Sleep through evenly spaced steps",
		Annotations: map[string]string{annotationOwnsTerminal: ""},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, duration = root.steppedDefaults(steps, duration)
			work, err := tasks.SleepWork(duration, steps, nil)
			if err != nil {
				return err
			}
			desc := fmt.Sprintf("sleep %s in %d steps", duration, steps)
			return root.runTask(cmd.Context(), flags, desc, work)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "total run time (default: steps x task.step_delay)")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (default: task.default_steps)")
	return cmd
}

func runFailCommand(root *Root, flags *runFlags) *cobra.Command {
	var (
		duration time.Duration
		steps    int
		at       int
	)

	cmd := &cobra.Command{
		Use:         "fail",
		Short:       "Step through work that fails partway",
		Annotations: map[string]string{annotationOwnsTerminal: ""},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, duration = root.steppedDefaults(steps, duration)
			work, err := tasks.FailWork(duration, steps, at, nil)
			if err != nil {
				return err
			}
			desc := fmt.Sprintf("fail at %d%%", at)
			return root.runTask(cmd.Context(), flags, desc, work)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "total run time if it never failed")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (default: task.default_steps)")
	cmd.Flags().IntVar(&at, "at", 50, "progress percentage at which the work fails")
	return cmd
}

func runShellCommand(root *Root, flags *runFlags) *cobra.Command {
	var (
		kill  bool
		shell string
	)

	cmd := &cobra.Command{
		Use:   "shell -- <command...>",
		Short: "Run a shell command, showing its output as the status",
		Long: `Run a shell command, showing its last output line as the status.

Shell commands cannot check for cancel requests. Unless --kill is given
(or task.kill_on_cancel is set) a canceled command still runs to the end
and the dialog waits for it.`,
		Annotations: map[string]string{annotationOwnsTerminal: ""},
		Args:        cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := tasks.ShellOptions{
				KillOnCancel: root.cfg.Task.KillOnCancel,
				Shell:        root.cfg.Task.Shell,
			}
			if cmd.Flags().Changed("kill") {
				opts.KillOnCancel = kill
			}
			if shell != "" {
				opts.Shell = shell
			}

			command := strings.Join(args, " ")
			work, err := tasks.ShellWork(command, opts)
			if err != nil {
				return err
			}
			return root.runTask(cmd.Context(), flags, command, work)
		},
	}

	cmd.Flags().BoolVar(&kill, "kill", false, "kill the command when canceled")
	cmd.Flags().StringVar(&shell, "shell", "", "shell to run the command with")
	return cmd
}

// steppedDefaults fills unset step flags from the config.
func (root *Root) steppedDefaults(steps int, duration time.Duration) (int, time.Duration) {
	if steps <= 0 {
		steps = root.cfg.Task.DefaultSteps
	}
	if duration <= 0 {
		duration = time.Duration(steps) * root.cfg.Task.StepDelay.Duration
	}
	return steps, duration
}

// =============================================================================
// TASK EXECUTION
// =============================================================================

// runTask runs work under a coordinator until it has stopped, records the
// run and maps its outcome to an error.
func (root *Root) runTask(ctx context.Context, flags *runFlags, description string, work tasks.WorkFunc) error {
	cfg := root.cfg
	log := root.logger.Component("run")

	task := tasks.NewTask(description, work,
		tasks.WithLogger(root.logger.Component("task")),
		tasks.WithProgressCoalescing(cfg.Task.CoalesceProgress),
	)

	title := flags.title
	if title == "" {
		title = description
	}
	cancelingText := flags.cancelingText
	if cancelingText == "" {
		cancelingText = cfg.Task.CancelingText
	}

	opts := ui.RunOptions{
		Title:         title,
		CancelingText: cancelingText,
		CancelAfter:   flags.cancelAfter,
		ShowSpinner:   cfg.UI.ShowSpinner,
		ProgressWidth: cfg.UI.ProgressWidth,
		AltScreen:     cfg.UI.AltScreen,
		Theme:         cfg.UI.Theme,
		Profile:       root.profile,
		Input:         root.stdin,
		Output:        root.stdout,
		Logger:        root.logger.Component("coordinator"),
	}

	useDialog := !flags.plain && interactive(root.stdin, root.stdout)
	log.Info().
		Str("task", task.ID).
		Str("description", description).
		Bool("dialog", useDialog).
		Msg("running task")

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	var (
		g       errgroup.Group
		outcome tasks.Outcome
	)
	g.Go(func() error {
		root.watchConfig(watchCtx)
		return nil
	})
	g.Go(func() error {
		defer stopWatch()
		var err error
		if useDialog {
			outcome, err = ui.Run(ctx, task, opts)
		} else {
			outcome, err = ui.RunHeadless(ctx, task, opts)
		}
		return err
	})
	runErr := g.Wait()

	rec := tasks.RecordOf(task)
	if outcome != tasks.OutcomeUnknown {
		rec.Outcome = outcome
	}
	if !flags.noHistory {
		root.recordRun(rec)
	}

	log.Info().
		Str("task", task.ID).
		Str("outcome", rec.Outcome.String()).
		Dur("took", task.Duration()).
		Msg("task stopped")

	if runErr != nil {
		return runErr
	}

	switch outcome {
	case tasks.OutcomeCompleted:
		return nil
	case tasks.OutcomeFailed:
		return fmt.Errorf("%s: %w", description, task.Err())
	case tasks.OutcomeCanceled:
		return ErrCanceled
	default:
		return errors.New("task never started")
	}
}

// recordRun stores rec in the run log. Failures are logged, not returned:
// the run itself already happened.
func (root *Root) recordRun(rec tasks.Record) {
	if !root.cfg.History.Enabled {
		return
	}
	log := root.logger.Component("history")

	path, err := root.cfg.HistoryPath()
	if err != nil {
		log.Warn().Err(err).Msg("no run log path")
		return
	}
	runs, err := storage.Open(path, root.cfg.History.MaxEntries)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open run log")
		return
	}
	defer runs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runs.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("failed to record run")
	}
}

// watchConfig applies config file changes while a task runs. Only the log
// level takes effect mid-run; everything else is picked up by the next run.
func (root *Root) watchConfig(ctx context.Context) {
	log := root.logger.Component("config")

	path := root.configFile()
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		log.Debug().Str("path", path).Msg("no config file to watch")
		return
	}

	w := config.NewWatcher(path,
		func(cfg *config.Config) {
			config.SetGlobal(cfg)
			if root.logLevel != "" {
				return
			}
			if err := root.logger.SetLevel(cfg.Log.Level); err != nil {
				log.Warn().Err(err).Msg("ignoring log level from reloaded config")
				return
			}
			log.Info().Str("level", cfg.Log.Level).Msg("config reloaded")
		},
		func(err error) {
			log.Warn().Err(err).Msg("config watch")
		},
	)
	if err := w.Run(ctx); err != nil {
		log.Debug().Err(err).Msg("config watcher stopped")
	}
}
