// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-tasks/internal/coordinator"
	"github.com/jeranaias/rigrun-tasks/internal/loop"
	"github.com/jeranaias/rigrun-tasks/internal/tasks"
	"github.com/jeranaias/rigrun-tasks/internal/util"
)

// progressStep is the smallest progress change the text presenter prints.
const progressStep = 10

// =============================================================================
// TEXT PRESENTER
// =============================================================================

// TextPresenter writes coordinator updates as plain lines. It is used when
// stdout is not a terminal.
type TextPresenter struct {
	w     io.Writer
	theme *Theme
	title string

	status      string
	lastPrinted int
	percent     int
	startedAt   time.Time
	outcome     func() tasks.Outcome
}

// NewTextPresenter creates a presenter writing to w.
func NewTextPresenter(w io.Writer, theme *Theme, title string) *TextPresenter {
	return &TextPresenter{
		w:           w,
		theme:       theme,
		title:       title,
		lastPrinted: -1,
	}
}

// StatusChanged implements coordinator.Presenter.
func (p *TextPresenter) StatusChanged(text string) {
	text = util.SingleLine(text)
	if text == p.status {
		return
	}
	p.status = text
	p.line()
}

// ProgressChanged implements coordinator.Presenter.
func (p *TextPresenter) ProgressChanged(percent int) {
	p.percent = percent
	if p.lastPrinted >= 0 && percent < 100 && percent-p.lastPrinted < progressStep {
		return
	}
	p.line()
}

// CancelEnabled implements coordinator.Presenter.
func (p *TextPresenter) CancelEnabled(bool) {}

// StateChanged implements coordinator.Presenter.
func (p *TextPresenter) StateChanged(_, to coordinator.State) {
	switch to {
	case coordinator.StateStarted:
		p.startedAt = time.Now()
		if p.title != "" {
			fmt.Fprintln(p.w, p.theme.Title.Render(p.title))
		}
	case coordinator.StateFinished:
		outcome := tasks.OutcomeUnknown
		if p.outcome != nil {
			outcome = p.outcome()
		}
		took := time.Since(p.startedAt).Round(10 * time.Millisecond)
		fmt.Fprintf(p.w, "%s %s\n", p.outcomeStyle(outcome), p.theme.Muted.Render("("+took.String()+")"))
	}
}

func (p *TextPresenter) line() {
	p.lastPrinted = p.percent
	status := p.status
	if status == "" {
		status = "-"
	}
	fmt.Fprintf(p.w, "[%3d%%] %s\n", p.percent, p.theme.Status.Render(status))
}

func (p *TextPresenter) outcomeStyle(o tasks.Outcome) string {
	switch o {
	case tasks.OutcomeCompleted:
		return p.theme.Success.Render(o.String())
	case tasks.OutcomeFailed:
		return p.theme.Failure.Render(o.String())
	case tasks.OutcomeCanceled:
		return p.theme.Warning.Render(o.String())
	default:
		return p.theme.Muted.Render(o.String())
	}
}

// =============================================================================
// HEADLESS RUN
// =============================================================================

// RunHeadless runs task with line output and no keyboard input. The
// foreground loop is a loop.Loop owned by this call. Cancelling ctx cancels
// the task; RunHeadless still waits for it to stop.
func RunHeadless(ctx context.Context, task *tasks.Task, opts RunOptions) (tasks.Outcome, error) {
	out := opts.output()
	presenter := NewTextPresenter(out, NewTheme(out, opts.Theme, opts.Profile), opts.Title)

	l := loop.New(opts.Logger.With().Str("component", "loop").Logger())
	coord := coordinator.New(l,
		coordinator.WithPresenter(presenter),
		coordinator.WithCancelingText(opts.CancelingText),
		coordinator.WithLogger(opts.Logger),
	)
	presenter.outcome = coord.Outcome

	if opts.CancelAfter > 0 {
		timer := time.AfterFunc(opts.CancelAfter, coord.Cancel)
		defer timer.Stop()
	}

	var (
		g       errgroup.Group
		outcome = tasks.OutcomeUnknown
	)
	g.Go(func() error {
		// The loop outlives ctx so a cancelled run can still finish.
		return l.Run(context.Background())
	})
	g.Go(func() error {
		defer l.Stop()
		outcome = coord.ExecOutcome(ctx, task)
		return nil
	})

	err := g.Wait()
	return outcome, err
}
