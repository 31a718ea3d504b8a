// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides cancelable background tasks with progress reporting.
//
// A Task wraps one work function and runs it on exactly one worker goroutine.
// The work function polls for cancellation at its own granularity and reports
// status and progress through the Reporter it is given. State changes are
// emitted as immutable notifications through a per-task Channel.
//
// # Key Types
//
//   - Task: run/cancel/status/progress state of one unit of work
//   - Notification: RunningChanged, StatusChanged, ProgressChanged
//   - Channel: ordered relay from the worker to subscribers
//   - History: bounded list of finished run records
//
// # Requested vs. stopped
//
// RequestCancel only raises a flag. A task counts as stopped when its
// RunningChanged(false) notification is emitted, which happens after the work
// function has returned. Callers that must not touch shared state while the
// work is still executing wait for that notification, never for the cancel
// request itself.
//
// # Usage
//
//	work, err := tasks.SleepWork(5*time.Second, 100, nil)
//	if err != nil {
//	    return err // tasks.ErrInvalidInput
//	}
//	task := tasks.NewTask("Build index", work)
//	task.Subscribe(func(n tasks.Notification) {
//	    fmt.Println(n)
//	})
//	task.Start()
//	<-task.Delivered()
//	if err := task.Err(); err != nil {
//	    log.Printf("Task failed: %v", err)
//	}
package tasks
