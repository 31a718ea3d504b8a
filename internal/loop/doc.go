// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package loop provides a single-goroutine foreground executor.
//
// Functions posted from any goroutine run one at a time, in posting order,
// on the loop goroutine. State owned by the loop needs no locks as long as
// it is only touched from posted functions.
//
// # Usage
//
//	l := loop.New()
//	go l.Run(ctx)
//	l.Post(func() {
//	    // runs on the loop goroutine
//	})
//
// Mailbox is the unbounded FIFO underneath; the TUI reuses it to feed
// messages into a bubbletea program without blocking its Update loop.
package loop
