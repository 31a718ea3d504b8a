// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package loop

import (
	"context"
	"sync"
)

// Mailbox is an unbounded FIFO of functions. Put never blocks; Take blocks
// until an item is available, the mailbox is closed and empty, or ctx ends.
type Mailbox struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{wake: make(chan struct{}, 1)}
}

// Put appends fn. It returns false if the mailbox is closed.
func (m *Mailbox) Put(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, fn)
	m.mu.Unlock()

	m.signal()
	return true
}

// Take removes the oldest item. ok is false once the mailbox is closed and
// drained, or ctx is done.
func (m *Mailbox) Take(ctx context.Context) (fn func(), ok bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			fn = m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			m.mu.Unlock()
			return fn, true
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		m.mu.Unlock()

		select {
		case <-m.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close stops accepting items. Items already queued can still be taken.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

// Len returns the number of queued items.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
