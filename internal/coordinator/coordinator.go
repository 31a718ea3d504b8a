// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package coordinator

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-tasks/internal/tasks"
)

// DefaultCancelingText is shown while a cancel is pending.
const DefaultCancelingText = "Canceling..."

// ErrReused is the panic value when a Coordinator is given a second task.
var ErrReused = errors.New("coordinator already used")

// =============================================================================
// STATE
// =============================================================================

// State is the coordinator's lifecycle position.
type State int32

const (
	StateNotStarted State = iota
	StateStarted
	StateCancelPending
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarted:
		return "started"
	case StateCancelPending:
		return "cancel-pending"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Poster hands a function to the foreground loop. Post must not block and
// must run functions in the order they were posted. It returns false when
// the loop no longer accepts work.
type Poster interface {
	Post(fn func()) bool
}

// Runnable is the part of a task the coordinator drives. *tasks.Task
// implements it. RequestCancel and IsRunning must be safe from any goroutine.
type Runnable interface {
	Start()
	RequestCancel()
	IsRunning() bool
	IsCancelled() bool
	Subscribe(fn tasks.Subscriber) (unsubscribe func())
	Err() error
}

// Presenter shows the coordinator's progress to a user. Every method is
// called on the foreground loop.
type Presenter interface {
	StatusChanged(text string)
	ProgressChanged(percent int)
	CancelEnabled(enabled bool)
	StateChanged(from, to State)
}

// loopWatcher is implemented by posters that report when their loop has
// exited, such as *loop.Loop.
type loopWatcher interface {
	Done() <-chan struct{}
}

type nopPresenter struct{}

func (nopPresenter) StatusChanged(string) {}
func (nopPresenter) ProgressChanged(int) {}
func (nopPresenter) CancelEnabled(bool) {}
func (nopPresenter) StateChanged(State, State) {}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator starts one task and suspends its caller until the task has
// truly stopped. All of its mutable state is owned by the foreground loop
// reached through the Poster.
type Coordinator struct {
	poster        Poster
	presenter     Presenter
	observer      func(from, to State)
	cancelingText string
	log           zerolog.Logger

	used      atomic.Bool
	state     atomic.Int32
	abandoned atomic.Bool
	done      chan struct{}

	// Closed on the relay goroutine when the task reports it has stopped,
	// and when that report could not be posted to the loop.
	stopped  chan struct{}
	unposted chan struct{}
	sawStop  bool

	// Loop-owned.
	task          Runnable
	cancelEnabled bool
	closing       bool
	completed     bool
	unsubscribe   func()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPresenter sets the presenter updated from the foreground loop.
func WithPresenter(p Presenter) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.presenter = p
		}
	}
}

// WithStateObserver registers fn for every state transition. fn runs on the
// foreground loop.
func WithStateObserver(fn func(from, to State)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

// WithCancelingText sets the status shown while a cancel is pending.
func WithCancelingText(text string) Option {
	return func(c *Coordinator) {
		if text != "" {
			c.cancelingText = text
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// New creates a coordinator that runs its state machine on poster's loop.
func New(poster Poster, opts ...Option) *Coordinator {
	if poster == nil {
		panic("coordinator: nil poster")
	}

	c := &Coordinator{
		poster:        poster,
		presenter:     nopPresenter{},
		cancelingText: DefaultCancelingText,
		log:           zerolog.Nop(),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		unposted:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state. Safe from any goroutine.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Done is closed when the coordinator reaches StateFinished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Exec starts task on the foreground loop and blocks the calling goroutine
// until the task's running flag has gone down. It returns true if
// cancellation was never requested.
//
// Exec must not be called from the foreground loop itself. Cancelling ctx
// acts as a close signal; Exec still waits for the task to stop. If the loop
// goes away while the task runs, Exec cancels the task directly and returns
// false once it has stopped. Exec panics with ErrReused when called a second
// time.
func (c *Coordinator) Exec(ctx context.Context, task Runnable) bool {
	if task == nil {
		panic("coordinator: nil task")
	}
	if !c.used.CompareAndSwap(false, true) {
		panic(ErrReused)
	}
	c.task = task

	if !c.poster.Post(c.start) {
		c.log.Error().Msg("foreground loop stopped before task start")
		return false
	}

	var loopDone <-chan struct{}
	if w, ok := c.poster.(loopWatcher); ok {
		loopDone = w.Done()
	}

	ctxDone := ctx.Done()
	for {
		select {
		case <-c.done:
			return c.completed
		case <-c.unposted:
			return c.abandon("stop notification could not reach the loop")
		case <-loopDone:
			select {
			case <-c.done:
				return c.completed
			default:
			}
			return c.abandon("foreground loop exited before the task finished")
		case <-ctxDone:
			ctxDone = nil
			c.log.Debug().Err(ctx.Err()).Msg("exec context done, closing")
			if !c.postClose() {
				task.RequestCancel()
			}
		}
	}
}

// abandon gives up on the loop. The task is asked to stop directly and Exec
// waits until it has. Loop-owned state is not touched.
func (c *Coordinator) abandon(reason string) bool {
	c.log.Warn().Msg(reason)
	c.task.RequestCancel()
	if c.task.IsRunning() {
		<-c.stopped
	}
	c.abandoned.Store(true)
	return false
}

// ExecOutcome runs Exec and separates failed runs from completed ones. It
// returns OutcomeUnknown when the loop stopped before the task could start.
func (c *Coordinator) ExecOutcome(ctx context.Context, task Runnable) tasks.Outcome {
	c.Exec(ctx, task)
	return c.Outcome()
}

// Outcome reports how the task ended. It is OutcomeUnknown until the
// coordinator has finished. Call it on the foreground loop or after Exec
// has returned. A run whose loop went away counts as canceled.
func (c *Coordinator) Outcome() tasks.Outcome {
	if c.State() != StateFinished {
		if c.abandoned.Load() {
			return tasks.OutcomeCanceled
		}
		return tasks.OutcomeUnknown
	}
	switch {
	case !c.completed:
		return tasks.OutcomeCanceled
	case c.task.Err() != nil:
		return tasks.OutcomeFailed
	default:
		return tasks.OutcomeCompleted
	}
}

// Cancel posts a cancel signal to the foreground loop. Safe from any
// goroutine.
func (c *Coordinator) Cancel() {
	c.poster.Post(c.HandleCancel)
}

// Close posts a close signal. Closing is handled exactly like Cancel.
func (c *Coordinator) Close() {
	c.postClose()
}

func (c *Coordinator) postClose() bool {
	return c.poster.Post(func() {
		c.log.Debug().Msg("close requested")
		c.HandleCancel()
	})
}

// HandleCancel processes a cancel signal. It must run on the foreground loop.
func (c *Coordinator) HandleCancel() {
	switch c.State() {
	case StateFinished:
		return
	case StateNotStarted:
		// Applied as soon as the task has been started.
		c.closing = true
		return
	}
	if !c.cancelEnabled {
		return
	}

	c.closing = true
	c.task.RequestCancel()

	if !c.task.IsRunning() {
		c.log.Debug().Msg("cancel after stop, finishing")
		c.finish(false)
		return
	}

	c.cancelEnabled = false
	c.presenter.CancelEnabled(false)
	c.presenter.StatusChanged(c.cancelingText)
	c.setState(StateCancelPending)
}

// =============================================================================
// LOOP-SIDE HANDLERS
// =============================================================================

func (c *Coordinator) start() {
	c.unsubscribe = c.task.Subscribe(func(n tasks.Notification) {
		posted := c.poster.Post(func() { c.handle(n) })
		if !tasks.IsTerminal(n) || c.sawStop {
			return
		}
		c.sawStop = true
		close(c.stopped)
		if !posted {
			close(c.unposted)
		}
	})

	c.task.Start()
	c.cancelEnabled = true
	c.presenter.CancelEnabled(true)
	c.setState(StateStarted)

	if c.closing {
		c.HandleCancel()
	}
}

func (c *Coordinator) handle(n tasks.Notification) {
	state := c.State()
	if state == StateFinished {
		return
	}

	switch n := n.(type) {
	case tasks.StatusChanged:
		if state != StateCancelPending {
			c.presenter.StatusChanged(n.Text)
		}
	case tasks.ProgressChanged:
		c.presenter.ProgressChanged(n.Percent)
	case tasks.RunningChanged:
		if n.Running {
			return
		}
		if c.task.IsRunning() {
			c.log.Warn().Msg("stop notification while task still running")
			return
		}
		c.finish(!c.closing && !c.task.IsCancelled())
	}
}

// finish moves to StateFinished and resumes Exec. It runs at most once.
func (c *Coordinator) finish(completed bool) {
	if c.State() == StateFinished {
		return
	}

	c.completed = completed
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.cancelEnabled {
		c.cancelEnabled = false
		c.presenter.CancelEnabled(false)
	}
	c.setState(StateFinished)

	ev := c.log.Debug()
	if err := c.task.Err(); err != nil {
		ev = c.log.Warn().Err(err)
	}
	ev.Bool("completed", completed).Msg("task finished")

	close(c.done)
}

func (c *Coordinator) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.log.Debug().Stringer("from", from).Stringer("to", to).Msg("state changed")
	c.presenter.StateChanged(from, to)
	if c.observer != nil {
		c.observer(from, to)
	}
}
