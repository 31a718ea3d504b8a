// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-tasks/internal/coordinator"
	"github.com/jeranaias/rigrun-tasks/internal/loop"
	"github.com/jeranaias/rigrun-tasks/internal/tasks"
)

// RunOptions configures Run and RunHeadless.
type RunOptions struct {
	Title         string
	CancelingText string

	// CancelAfter raises a cancel signal once the task has run this long.
	CancelAfter time.Duration

	ShowSpinner   bool
	ProgressWidth int
	AltScreen     bool

	// Theme is "auto", "dark" or "light".
	Theme   string
	Profile termenv.Profile

	Input  io.Reader
	Output io.Writer

	Logger zerolog.Logger
}

func (o *RunOptions) output() io.Writer {
	if o.Output == nil {
		return os.Stdout
	}
	return o.Output
}

// =============================================================================
// INTERACTIVE RUN
// =============================================================================

// Run shows task in a modal progress dialog and blocks until the task has
// stopped. The bubbletea event loop is the coordinator's foreground loop.
// Cancelling ctx closes the dialog, which cancels the task; Run still waits
// for the task to stop.
func Run(ctx context.Context, task *tasks.Task, opts RunOptions) (tasks.Outcome, error) {
	out := opts.output()
	log := opts.Logger.With().Str("component", "dialog").Logger()

	dialog := NewDialog(NewTheme(out, opts.Theme, opts.Profile), DialogOptions{
		Title:         opts.Title,
		ShowSpinner:   opts.ShowSpinner,
		ProgressWidth: opts.ProgressWidth,
	})

	box := loop.NewMailbox()
	coord := coordinator.New(box,
		coordinator.WithPresenter(dialog),
		coordinator.WithCancelingText(opts.CancelingText),
		coordinator.WithLogger(opts.Logger),
	)
	dialog.Bind(coord)

	programOpts := []tea.ProgramOption{
		tea.WithOutput(out),
		tea.WithoutSignalHandler(),
	}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.AltScreen {
		programOpts = append(programOpts, tea.WithAltScreen())
	}
	program := tea.NewProgram(dialog, programOpts...)
	programDone := make(chan struct{})

	if opts.CancelAfter > 0 {
		timer := time.AfterFunc(opts.CancelAfter, func() {
			log.Debug().Dur("after", opts.CancelAfter).Msg("cancel timer fired")
			coord.Cancel()
		})
		defer timer.Stop()
	}

	var (
		g       errgroup.Group
		outcome = tasks.OutcomeUnknown
	)

	// Pump posted functions into the program one at a time.
	g.Go(func() error {
		pump(box, program, programDone)
		return nil
	})

	g.Go(func() error {
		_, err := program.Run()
		close(programDone)
		if coord.State() != coordinator.StateFinished {
			log.Debug().Msg("dialog exited before the task stopped")
			coord.Close()
		}
		if err != nil {
			return fmt.Errorf("dialog failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer box.Close()
		outcome = coord.ExecOutcome(ctx, task)
		return nil
	})

	err := g.Wait()
	return outcome, err
}

// sender is the part of *tea.Program the pump uses.
type sender interface {
	Send(msg tea.Msg)
}

// pump delivers each posted function to the program and waits for Update to
// run it. Once the program has exited the pump runs functions itself, so the
// coordinator still reaches StateFinished.
func pump(box *loop.Mailbox, program sender, programDone <-chan struct{}) {
	for {
		fn, ok := box.Take(context.Background())
		if !ok {
			return
		}

		select {
		case <-programDone:
			fn()
			continue
		default:
		}

		delivered := make(chan struct{})
		program.Send(postedMsg{fn: fn, done: delivered})

		select {
		case <-delivered:
		case <-programDone:
			select {
			case <-delivered:
			default:
				fn()
			}
		}
	}
}
