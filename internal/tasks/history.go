// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// OUTCOME
// =============================================================================

// Outcome classifies how a stopped task ended.
type Outcome string

const (
	// OutcomeCompleted means the work returned normally without a cancel request.
	OutcomeCompleted Outcome = "Completed"

	// OutcomeFailed means the work returned an error or panicked, without a
	// cancel request.
	OutcomeFailed Outcome = "Failed"

	// OutcomeCanceled means cancellation was requested, whatever the work
	// returned afterwards.
	OutcomeCanceled Outcome = "Canceled"

	// OutcomeUnknown is reported for tasks that have not stopped yet.
	OutcomeUnknown Outcome = "Unknown"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// OutcomeOf classifies a stopped task.
func OutcomeOf(t *Task) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !t.started || t.running:
		return OutcomeUnknown
	case t.cancelRequested:
		return OutcomeCanceled
	case t.err != nil:
		return OutcomeFailed
	default:
		return OutcomeCompleted
	}
}

// =============================================================================
// RUN RECORDS
// =============================================================================

// Record is the immutable summary of one finished task run.
type Record struct {
	TaskID      string
	Description string
	Outcome     Outcome
	Error       string
	Progress    int
	StartedAt   time.Time
	EndedAt     time.Time
}

// Duration returns how long the run took.
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// RecordOf snapshots a task into a Record.
func RecordOf(t *Task) Record {
	outcome := OutcomeOf(t)

	t.mu.Lock()
	defer t.mu.Unlock()

	r := Record{
		TaskID:      t.ID,
		Description: t.Description,
		Outcome:     outcome,
		Progress:    t.progress,
		StartedAt:   t.startTime,
		EndedAt:     t.endTime,
	}
	if t.err != nil {
		r.Error = t.err.Error()
	}
	return r
}

// =============================================================================
// HISTORY
// =============================================================================

// History keeps the most recent run records in memory.
type History struct {
	records    []Record
	maxHistory int
	mu         sync.RWMutex
}

// NewHistory creates a history.
// maxHistory sets the maximum number of records to keep (0 = unlimited).
func NewHistory(maxHistory int) *History {
	return &History{
		records:    make([]Record, 0),
		maxHistory: maxHistory,
	}
}

// Add appends a record, dropping the oldest ones beyond maxHistory.
func (h *History) Add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, r)
	if h.maxHistory > 0 && len(h.records) > h.maxHistory {
		drop := len(h.records) - h.maxHistory
		h.records = append(make([]Record, 0, h.maxHistory), h.records[drop:]...)
	}
}

// All returns a copy of all records, oldest first.
func (h *History) All() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Record, len(h.records))
	copy(result, h.records)
	return result
}

// Recent returns up to n records, newest first.
func (h *History) Recent(n int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	result := make([]Record, 0, n)
	for i := len(h.records) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, h.records[i])
	}
	return result
}

// Count returns the number of records.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Clear removes all records.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = h.records[:0]
}

// Summary returns a formatted count of outcomes.
func (h *History) Summary() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var completed, failed, canceled int
	for _, r := range h.records {
		switch r.Outcome {
		case OutcomeCompleted:
			completed++
		case OutcomeFailed:
			failed++
		case OutcomeCanceled:
			canceled++
		}
	}

	return fmt.Sprintf("Completed: %d | Failed: %d | Canceled: %d", completed, failed, canceled)
}
