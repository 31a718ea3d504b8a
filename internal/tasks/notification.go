// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import "fmt"

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Property names the piece of task state a notification describes.
// Delivery order is guaranteed per property, not across properties.
type Property string

const (
	// PropertyRunning is carried by RunningChanged.
	PropertyRunning Property = "running"

	// PropertyStatus is carried by StatusChanged.
	PropertyStatus Property = "status"

	// PropertyProgress is carried by ProgressChanged.
	PropertyProgress Property = "progress"
)

// Notification is an immutable state change emitted by a task's worker.
// The set of implementations is closed: RunningChanged, StatusChanged and
// ProgressChanged.
type Notification interface {
	fmt.Stringer

	// Property reports which piece of state changed.
	Property() Property

	// Source is the ID of the emitting task.
	Source() string

	notification()
}

// RunningChanged reports a transition of the task's running flag.
// RunningChanged{Running: false} is the terminal notification of a task.
type RunningChanged struct {
	TaskID  string
	Running bool
}

// StatusChanged reports a new human-readable status line.
type StatusChanged struct {
	TaskID string
	Text   string
}

// ProgressChanged reports a new progress percentage in [0,100].
type ProgressChanged struct {
	TaskID  string
	Percent int
}

func (RunningChanged) Property() Property  { return PropertyRunning }
func (StatusChanged) Property() Property   { return PropertyStatus }
func (ProgressChanged) Property() Property { return PropertyProgress }

func (n RunningChanged) Source() string  { return n.TaskID }
func (n StatusChanged) Source() string   { return n.TaskID }
func (n ProgressChanged) Source() string { return n.TaskID }

func (RunningChanged) notification()  {}
func (StatusChanged) notification()   {}
func (ProgressChanged) notification() {}

func (n RunningChanged) String() string {
	return fmt.Sprintf("running(%s)=%t", shortID(n.TaskID), n.Running)
}

func (n StatusChanged) String() string {
	return fmt.Sprintf("status(%s)=%q", shortID(n.TaskID), n.Text)
}

func (n ProgressChanged) String() string {
	return fmt.Sprintf("progress(%s)=%d%%", shortID(n.TaskID), n.Percent)
}

// IsTerminal reports whether n is the final notification a task emits.
func IsTerminal(n Notification) bool {
	rc, ok := n.(RunningChanged)
	return ok && !rc.Running
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
