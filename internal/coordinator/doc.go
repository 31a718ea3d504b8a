// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package coordinator drives a single task from start to confirmed stop.
//
// A Coordinator moves through NotStarted, Started, an optional CancelPending
// and Finished. Finished is entered only when the task's RunningChanged(false)
// notification reaches the foreground loop, or when a cancel arrives after the
// running flag is already down. Context cancellation or a task's Stopped
// channel never count as finished on their own.
//
// Exec blocks the calling goroutine, not the foreground loop: start, cancel
// and notification handling are all posted to the loop, which remains free to
// process user input while the task runs.
//
// If the loop goes away mid-run, Exec cancels the task itself and returns
// false once the task has stopped.
//
// Usage:
//
//	l := loop.New(log)
//	go l.Run(ctx)
//
//	c := coordinator.New(l, coordinator.WithPresenter(p))
//	completed := c.Exec(ctx, task)
//	if !completed {
//	    // canceled; task.Result may be partial
//	}
package coordinator
