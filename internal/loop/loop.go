// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package loop

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrStopped is returned by Call when the loop no longer accepts work.
var ErrStopped = errors.New("loop stopped")

// =============================================================================
// LOOP
// =============================================================================

// Loop runs posted functions sequentially on a single goroutine.
type Loop struct {
	box     *Mailbox
	running atomic.Bool
	done    chan struct{}
	log     zerolog.Logger
}

// New creates a loop. It does nothing until Run is called.
func New(log zerolog.Logger) *Loop {
	return &Loop{
		box:  NewMailbox(),
		done: make(chan struct{}),
		log:  log,
	}
}

// Post queues fn to run on the loop goroutine. It never blocks and returns
// false if the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	ok := l.box.Put(fn)
	if !ok {
		l.log.Debug().Msg("post after stop ignored")
	}
	return ok
}

// Call posts fn and waits for it to finish. It must not be called from the
// loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have run fn just before exiting.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted functions until Stop is called and the queue drains,
// or ctx is done. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("loop already running")
	}
	defer close(l.done)

	for {
		fn, ok := l.box.Take(ctx)
		if !ok {
			l.box.Close()
			return ctx.Err()
		}
		l.exec(fn)
	}
}

// Stop closes the queue. Functions posted before Stop still run.
func (l *Loop) Stop() {
	l.box.Close()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("posted function panicked")
		}
	}()
	fn()
}
