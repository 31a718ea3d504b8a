// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"sync"

	"github.com/rs/zerolog"
)

// =============================================================================
// NOTIFICATION CHANNEL
// =============================================================================

// Subscriber receives notifications on the channel's relay goroutine.
// Subscribers that own state must hand the notification over to their own
// consumer context instead of mutating shared state in place.
type Subscriber func(Notification)

// Channel relays notifications from a task's worker goroutine to its
// subscribers. Publish never blocks the worker: entries are queued in an
// unbounded FIFO drained by a single relay goroutine, so every subscriber
// observes notifications in emission order.
//
// RunningChanged and StatusChanged entries are always delivered. A
// ProgressChanged that arrives while the newest pending entry is also a
// ProgressChanged replaces it when coalescing is enabled.
type Channel struct {
	mu          sync.Mutex
	pending     []Notification
	subscribers []subscription
	nextSubID   int
	coalesce    bool
	closed      bool
	started     bool

	wake chan struct{}
	done chan struct{}

	log zerolog.Logger
}

type subscription struct {
	id int
	fn Subscriber
}

// NewChannel creates an idle channel. The relay goroutine starts on Start.
func NewChannel(coalesce bool, log zerolog.Logger) *Channel {
	return &Channel{
		coalesce: coalesce,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		log:      log,
	}
}

// Subscribe registers fn and returns a function that removes it.
// Subscribing after Close is allowed but fn will never be called.
func (c *Channel) Subscribe(fn Subscriber) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.subscribers = append(c.subscribers, subscription{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subscribers {
			if s.id == id {
				c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Start launches the relay goroutine. Calling Start more than once, or after
// Close, is a no-op.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	go c.relay()
}

// Publish queues n for delivery. Publishing after Close drops n.
func (c *Channel) Publish(n Notification) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Warn().Stringer("notification", n).Msg("publish after close dropped")
		return
	}

	if p, ok := n.(ProgressChanged); ok && c.coalesce && len(c.pending) > 0 {
		if last, ok := c.pending[len(c.pending)-1].(ProgressChanged); ok && last.TaskID == p.TaskID {
			c.pending[len(c.pending)-1] = p
			c.mu.Unlock()
			c.signal()
			return
		}
	}

	c.pending = append(c.pending, n)
	c.mu.Unlock()
	c.signal()
}

// Close stops accepting notifications. Entries already queued are still
// delivered; Done is closed once the relay has drained them.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	if !started {
		close(c.done)
		return
	}
	c.signal()
}

// Done is closed after the relay goroutine has delivered the last entry.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Pending returns the number of queued, undelivered notifications.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// relay drains the mailbox in FIFO order until the channel is closed and empty.
func (c *Channel) relay() {
	defer close(c.done)

	for {
		c.mu.Lock()
		for len(c.pending) == 0 {
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			<-c.wake
			c.mu.Lock()
		}
		n := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		subs := make([]subscription, len(c.subscribers))
		copy(subs, c.subscribers)
		c.mu.Unlock()

		for _, s := range subs {
			c.deliver(s, n)
		}
	}
}

func (c *Channel) deliver(s subscription, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Interface("panic", r).
				Str("property", string(n.Property())).
				Msg("subscriber panicked")
		}
	}()
	s.fn(n)
}
