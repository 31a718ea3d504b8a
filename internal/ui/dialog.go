// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-tasks/internal/coordinator"
	"github.com/jeranaias/rigrun-tasks/internal/tasks"
	"github.com/jeranaias/rigrun-tasks/internal/util"
)

// =============================================================================
// MESSAGES
// =============================================================================

// postedMsg carries a function posted to the dialog's foreground loop.
type postedMsg struct {
	fn   func()
	done chan struct{}
}

// =============================================================================
// KEYS
// =============================================================================

type keyMap struct {
	Cancel key.Binding
	Close  key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Cancel: key.NewBinding(
			key.WithKeys("esc", "c"),
			key.WithHelp("esc/c", "cancel"),
		),
		Close: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("q", "close"),
		),
	}
}

// =============================================================================
// DIALOG MODEL
// =============================================================================

// DialogOptions configures a Dialog.
type DialogOptions struct {
	Title         string
	ShowSpinner   bool
	ProgressWidth int
}

// Dialog is a bubbletea model showing one running task. It implements
// coordinator.Presenter; the coordinator calls it from inside Update.
type Dialog struct {
	opts  DialogOptions
	theme *Theme
	coord *coordinator.Coordinator

	spinner  spinner.Model
	progress progress.Model
	help     help.Model
	keys     keyMap

	status        string
	percent       int
	cancelEnabled bool
	state         coordinator.State
	finishedAt    time.Time
	startedAt     time.Time
	outcome       tasks.Outcome
	width         int
}

// NewDialog creates a dialog. Bind must be called before the program runs.
func NewDialog(theme *Theme, opts DialogOptions) *Dialog {
	if opts.ProgressWidth <= 0 {
		opts.ProgressWidth = 40
	}

	barOpts := []progress.Option{
		progress.WithWidth(opts.ProgressWidth),
		progress.WithColorProfile(theme.ColorProfile),
		progress.WithoutPercentage(),
	}
	if theme.Colors() {
		barOpts = append(barOpts, progress.WithDefaultGradient())
	} else {
		barOpts = append(barOpts, progress.WithSolidFill(""))
	}

	h := help.New()
	h.Styles.ShortKey = theme.KeyStyle
	h.Styles.ShortDesc = theme.Muted
	h.Styles.ShortSeparator = theme.Muted

	return &Dialog{
		opts:  opts,
		theme: theme,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(theme.Spinner),
		),
		progress: progress.New(barOpts...),
		help:     h,
		keys:     defaultKeys(),
		outcome:  tasks.OutcomeUnknown,
	}
}

// Bind attaches the coordinator whose cancel signals the dialog raises.
func (d *Dialog) Bind(c *coordinator.Coordinator) {
	d.coord = c
}

// =============================================================================
// PRESENTER
// =============================================================================

// StatusChanged implements coordinator.Presenter.
func (d *Dialog) StatusChanged(text string) {
	d.status = util.SingleLine(text)
}

// ProgressChanged implements coordinator.Presenter.
func (d *Dialog) ProgressChanged(percent int) {
	d.percent = percent
}

// CancelEnabled implements coordinator.Presenter.
func (d *Dialog) CancelEnabled(enabled bool) {
	d.cancelEnabled = enabled
	d.keys.Cancel.SetEnabled(enabled)
	d.keys.Close.SetEnabled(enabled)
}

// StateChanged implements coordinator.Presenter.
func (d *Dialog) StateChanged(_, to coordinator.State) {
	d.state = to
	switch to {
	case coordinator.StateStarted:
		d.startedAt = time.Now()
	case coordinator.StateFinished:
		d.finishedAt = time.Now()
		if d.coord != nil {
			d.outcome = d.coord.Outcome()
		}
	}
}

// =============================================================================
// TEA MODEL
// =============================================================================

// Init starts the spinner.
func (d *Dialog) Init() tea.Cmd {
	if d.opts.ShowSpinner {
		return d.spinner.Tick
	}
	return nil
}

// Update handles messages. Posted functions run here, which makes the
// bubbletea event loop the coordinator's foreground loop.
func (d *Dialog) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case postedMsg:
		msg.fn()
		if msg.done != nil {
			close(msg.done)
		}
		return d, d.quitIfFinished()

	case tea.KeyMsg:
		return d.handleKey(msg)

	case tea.WindowSizeMsg:
		d.width = msg.Width
		barWidth := msg.Width - 12
		if barWidth > d.opts.ProgressWidth {
			barWidth = d.opts.ProgressWidth
		}
		if barWidth < 10 {
			barWidth = 10
		}
		d.progress.Width = barWidth
		return d, nil

	case spinner.TickMsg:
		if d.state == coordinator.StateFinished {
			return d, nil
		}
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd
	}

	return d, nil
}

func (d *Dialog) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if d.coord == nil {
		return d, nil
	}

	switch {
	case key.Matches(msg, d.keys.Cancel):
		d.coord.HandleCancel()
	case key.Matches(msg, d.keys.Close):
		// Closing the dialog is a cancel request; the dialog stays up until
		// the task has stopped.
		d.coord.HandleCancel()
	}
	return d, d.quitIfFinished()
}

func (d *Dialog) quitIfFinished() tea.Cmd {
	if d.state == coordinator.StateFinished {
		return tea.Quit
	}
	return nil
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the dialog.
func (d *Dialog) View() string {
	var s strings.Builder

	title := d.opts.Title
	if title == "" {
		title = "Working"
	}
	if d.opts.ShowSpinner && d.state != coordinator.StateFinished {
		s.WriteString(d.spinner.View())
		s.WriteString(" ")
	}
	s.WriteString(d.theme.Title.Render(title))
	s.WriteString("\n\n")

	s.WriteString(d.progress.ViewAs(float64(d.percent) / 100))
	s.WriteString(fmt.Sprintf(" %3d%%", d.percent))
	s.WriteString("\n")

	statusWidth := d.opts.ProgressWidth + 5
	if d.width > 0 && d.width-8 < statusWidth {
		statusWidth = d.width - 8
	}
	status := util.TruncateWidth(d.status, statusWidth)
	if d.state == coordinator.StateCancelPending {
		s.WriteString(d.theme.Warning.Render(status))
	} else {
		s.WriteString(d.theme.Status.Render(status))
	}
	s.WriteString("\n\n")

	if d.state == coordinator.StateFinished {
		s.WriteString(d.finishLine())
	} else {
		s.WriteString(d.help.ShortHelpView([]key.Binding{d.keys.Cancel, d.keys.Close}))
		if !d.cancelEnabled && d.state == coordinator.StateCancelPending {
			s.WriteString(d.theme.Muted.Render("waiting for the task to stop"))
		}
	}

	return d.theme.Box.Render(s.String()) + "\n"
}

func (d *Dialog) finishLine() string {
	took := ""
	if !d.startedAt.IsZero() && !d.finishedAt.IsZero() {
		took = d.theme.Muted.Render(fmt.Sprintf(" (%s)", d.finishedAt.Sub(d.startedAt).Round(10*time.Millisecond)))
	}

	var line string
	switch d.outcome {
	case tasks.OutcomeCompleted:
		line = d.theme.Success.Render("Completed")
	case tasks.OutcomeFailed:
		line = d.theme.Failure.Render("Failed")
	case tasks.OutcomeCanceled:
		line = d.theme.Warning.Render("Canceled")
	default:
		line = d.theme.Muted.Render("Stopped")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, line, took)
}
