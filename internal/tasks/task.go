// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides cancelable background tasks with progress reporting.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAlreadyStarted is the panic value of a second Start on the same task.
	ErrAlreadyStarted = errors.New("task already started")

	// ErrCancelRequested is the cause attached to the work context when
	// RequestCancel is called.
	ErrCancelRequested = errors.New("task cancel requested")

	// ErrInvalidInput reports caller-side parameter validation failures.
	// It is returned before any Task is constructed.
	ErrInvalidInput = errors.New("invalid input")
)

// WorkError is the captured failure of a work function: either the error it
// returned or a recovered panic.
type WorkError struct {
	TaskID string
	Err    error
	Panic  any
	Stack  []byte
}

func (e *WorkError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", shortID(e.TaskID), e.Panic)
	}
	return fmt.Sprintf("task %s failed: %v", shortID(e.TaskID), e.Err)
}

func (e *WorkError) Unwrap() error {
	return e.Err
}

// =============================================================================
// WORK CONTRACT
// =============================================================================

// Reporter is the task handle given to a work function.
type Reporter interface {
	// IsCancelled reports whether cancellation has been requested.
	// Work functions must poll it (or ctx.Done) at their own granularity.
	IsCancelled() bool

	SetStatus(text string)
	SetProgress(percent int)
	SetProgressFraction(f float64)
}

// WorkFunc is the user-supplied computation. It is invoked exactly once on the
// task's worker goroutine. ctx is canceled when cancellation is requested;
// this is advisory only and the task counts as running until WorkFunc returns.
type WorkFunc func(ctx context.Context, r Reporter) (any, error)

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Task wraps one unit of work and owns its run/cancel/status/progress state.
// A Task runs at most once.
type Task struct {
	// ID is a unique identifier for this task
	ID string

	// Description is a human-readable description of what this task does
	Description string

	work  WorkFunc
	clock clockwork.Clock
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	// mu guards everything below
	mu              sync.Mutex
	started         bool
	running         bool
	cancelRequested bool
	status          string
	progress        int
	result          any
	hasResult       bool
	err             error
	startTime       time.Time
	endTime         time.Time

	channel     *Channel
	stopped     chan struct{}
	progressLog rate.Sometimes
}

// Option configures a Task.
type Option func(*Task)

// WithClock sets the clock used for start and end timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(t *Task) { t.clock = clock }
}

// WithLogger sets the task logger. The task adds its own id fields.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Task) { t.log = log }
}

// WithProgressCoalescing toggles coalescing of queued progress notifications.
// Enabled by default.
func WithProgressCoalescing(enabled bool) Option {
	return func(t *Task) { t.channel.coalesce = enabled }
}

// NewTask creates a task that will run work once started.
func NewTask(description string, work WorkFunc, opts ...Option) *Task {
	if work == nil {
		panic("tasks: nil work function")
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	t := &Task{
		ID:          uuid.New().String(),
		Description: description,
		work:        work,
		clock:       clockwork.NewRealClock(),
		log:         zerolog.Nop(),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
		progressLog: rate.Sometimes{Interval: 250 * time.Millisecond},
	}
	t.channel = NewChannel(true, zerolog.Nop())

	for _, opt := range opts {
		opt(t)
	}

	t.log = t.log.With().Str("task_id", shortID(t.ID)).Str("task", description).Logger()
	t.channel.log = t.log
	return t
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start spawns the task's worker goroutine. The running flag is raised before
// Start returns, so a caller that observes IsRunning()==false after Start
// knows the work has already returned.
//
// Start panics with ErrAlreadyStarted if called twice.
func (t *Task) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		panic(fmt.Errorf("%w: %s", ErrAlreadyStarted, t.ID))
	}
	t.started = true
	t.running = true
	t.startTime = t.clock.Now()
	t.mu.Unlock()

	t.channel.Start()
	t.channel.Publish(RunningChanged{TaskID: t.ID, Running: true})
	t.log.Debug().Msg("task started")

	go t.run()
}

// run is the worker goroutine body.
func (t *Task) run() {
	var (
		result any
		err    error
	)

	// Release runs on every exit path: normal return, error or panic.
	defer func() {
		if r := recover(); r != nil {
			err = &WorkError{TaskID: t.ID, Panic: r, Stack: debug.Stack()}
			result = nil
		}
		t.finish(result, err)
	}()

	result, err = t.work(t.ctx, t)
	if err != nil {
		err = &WorkError{TaskID: t.ID, Err: err}
		result = nil
	}
}

// finish publishes the outcome, lowers the running flag and then emits the
// terminal notification. The emission happens after the lock is released
// and after every write the work function made.
func (t *Task) finish(result any, err error) {
	t.mu.Lock()
	if err != nil {
		t.err = err
	} else {
		t.result = result
		t.hasResult = true
	}
	t.running = false
	t.endTime = t.clock.Now()
	cancelled := t.cancelRequested
	progress := t.progress
	t.mu.Unlock()

	// Release the context resources; the work has returned.
	t.cancel(context.Canceled)
	close(t.stopped)

	ev := t.log.Debug()
	if err != nil {
		ev = t.log.Warn().Err(err)
	}
	ev.Bool("cancelled", cancelled).Int("progress", progress).Msg("task stopped")

	t.channel.Publish(RunningChanged{TaskID: t.ID, Running: false})
	t.channel.Close()
}

// RequestCancel asks the work function to stop. It never blocks, is
// idempotent and has no effect on a task that has already stopped.
func (t *Task) RequestCancel() {
	t.mu.Lock()
	if t.started && !t.running {
		t.mu.Unlock()
		return
	}
	already := t.cancelRequested
	t.cancelRequested = true
	t.mu.Unlock()

	if !already {
		t.cancel(ErrCancelRequested)
		t.log.Debug().Msg("cancel requested")
	}
}

// =============================================================================
// STATE ACCESS (THREAD-SAFE)
// =============================================================================

// IsCancelled reports whether cancellation has been requested.
func (t *Task) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelRequested
}

// IsRunning reports whether the work function may still be executing.
func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// IsStarted reports whether Start has been called.
func (t *Task) IsStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Status returns the last status text.
func (t *Task) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the last progress percentage.
func (t *Task) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// SetStatus updates the status text and emits StatusChanged.
func (t *Task) SetStatus(text string) {
	t.mu.Lock()
	t.status = text
	t.mu.Unlock()

	t.channel.Publish(StatusChanged{TaskID: t.ID, Text: text})
}

// SetProgress clamps percent to [0,100], stores it and emits ProgressChanged.
func (t *Task) SetProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	t.progress = percent
	t.mu.Unlock()

	t.progressLog.Do(func() {
		t.log.Debug().Int("progress", percent).Msg("task progress")
	})
	t.channel.Publish(ProgressChanged{TaskID: t.ID, Percent: percent})
}

// SetProgressFraction reports progress as a fraction in [0,1]; the stored
// percentage is floor(f*100).
func (t *Task) SetProgressFraction(f float64) {
	switch {
	case math.IsNaN(f), f < 0:
		f = 0
	case f > 1:
		f = 1
	}
	t.SetProgress(int(math.Floor(f * 100)))
}

// Subscribe registers fn for this task's notifications. Callbacks run on the
// task's relay goroutine in emission order. Subscribe before Start to observe
// RunningChanged(true).
func (t *Task) Subscribe(fn Subscriber) (unsubscribe func()) {
	return t.channel.Subscribe(fn)
}

// Result returns the work function's result. ok is false while the task is
// running, after a failure, or if it never started.
func (t *Task) Result() (result any, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.hasResult
}

// Err returns the captured WorkError, or nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stopped is closed once the work function has returned and the running
// flag is down.
func (t *Task) Stopped() <-chan struct{} {
	return t.stopped
}

// Delivered is closed once every notification, including the terminal
// RunningChanged, has been handed to the subscribers.
func (t *Task) Delivered() <-chan struct{} {
	return t.channel.Done()
}

// Duration returns how long the task has been running or took to complete.
func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.startTime.IsZero() {
		return 0
	}
	if t.endTime.IsZero() {
		return t.clock.Since(t.startTime)
	}
	return t.endTime.Sub(t.startTime)
}

// Summary returns a one-line summary of the task.
func (t *Task) Summary() string {
	t.mu.Lock()
	state := "pending"
	switch {
	case t.running && t.cancelRequested:
		state = "canceling"
	case t.running:
		state = "running"
	case t.started && t.err != nil:
		state = "failed"
	case t.started && t.cancelRequested:
		state = "canceled"
	case t.started:
		state = "complete"
	}
	progress := t.progress
	t.mu.Unlock()

	summary := fmt.Sprintf("[%s] %s - %s %d%%", shortID(t.ID), t.Description, state, progress)
	if d := t.Duration(); d > 0 {
		summary += fmt.Sprintf(" (%.1fs)", d.Seconds())
	}
	return summary
}
