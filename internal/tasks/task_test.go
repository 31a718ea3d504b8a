// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects notifications delivered by a task's relay goroutine.
type recorder struct {
	mu  sync.Mutex
	got []Notification
}

func (r *recorder) add(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.got...)
}

func waitDelivered(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Delivered():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not deliver its terminal notification")
	}
}

func noopWork(ctx context.Context, r Reporter) (any, error) {
	return "ok", nil
}

func TestNewTask(t *testing.T) {
	task := NewTask("Test task", noopWork)

	if task.ID == "" {
		t.Error("Task ID should not be empty")
	}
	if task.Description != "Test task" {
		t.Errorf("Expected description 'Test task', got '%s'", task.Description)
	}
	if task.IsRunning() || task.IsStarted() || task.IsCancelled() {
		t.Error("New task should be idle")
	}
	if OutcomeOf(task) != OutcomeUnknown {
		t.Errorf("Expected unknown outcome, got %s", OutcomeOf(task))
	}
}

func TestTaskProgress(t *testing.T) {
	task := NewTask("Test", noopWork)

	for p := 0; p <= 100; p++ {
		task.SetProgress(p)
		if task.Progress() != p {
			t.Fatalf("Expected progress %d, got %d", p, task.Progress())
		}
	}

	task.SetProgress(150)
	if task.Progress() != 100 {
		t.Errorf("Expected progress capped at 100, got %d", task.Progress())
	}

	task.SetProgress(-10)
	if task.Progress() != 0 {
		t.Errorf("Expected progress floored at 0, got %d", task.Progress())
	}
}

func TestTaskProgressFraction(t *testing.T) {
	task := NewTask("Test", noopWork)

	for i := 0; i <= 1000; i++ {
		f := float64(i) / 1000
		task.SetProgressFraction(f)
		want := int(math.Floor(f * 100))
		if got := task.Progress(); got != want {
			t.Fatalf("fraction %v: expected %d, got %d", f, want, got)
		}
	}

	cases := map[float64]int{
		0: 0, 0.5: 50, 0.999: 99, 1: 100, 1.7: 100, -0.2: 0,
		1e17: 100, 1e30: 100, -1e30: 0,
		math.Inf(1): 100, math.Inf(-1): 0,
	}
	for f, want := range cases {
		task.SetProgressFraction(f)
		assert.Equal(t, want, task.Progress(), "fraction %v", f)
	}

	task.SetProgressFraction(math.NaN())
	assert.Equal(t, 0, task.Progress())
}

func TestTaskStatus(t *testing.T) {
	task := NewTask("Test", noopWork)
	task.SetStatus("loading")
	assert.Equal(t, "loading", task.Status())
}

func TestTaskCancelBeforeStart(t *testing.T) {
	var firstPoll bool
	task := NewTask("Test", func(ctx context.Context, r Reporter) (any, error) {
		firstPoll = r.IsCancelled()
		return nil, nil
	})

	task.RequestCancel()
	task.Start()
	waitDelivered(t, task)

	assert.True(t, firstPoll, "first poll should observe the early cancel request")
	assert.Equal(t, OutcomeCanceled, OutcomeOf(task))
}

func TestTaskCancelCancelsWorkContext(t *testing.T) {
	started := make(chan struct{})
	task := NewTask("Test", func(ctx context.Context, r Reporter) (any, error) {
		close(started)
		<-ctx.Done()
		return context.Cause(ctx), nil
	})

	task.Start()
	<-started
	require.True(t, task.IsRunning())

	task.RequestCancel()
	task.RequestCancel()
	waitDelivered(t, task)

	result, ok := task.Result()
	require.True(t, ok)
	assert.ErrorIs(t, result.(error), ErrCancelRequested)
	assert.False(t, task.IsRunning())
}

func TestTaskDoubleStartPanics(t *testing.T) {
	task := NewTask("Test", noopWork)
	task.Start()

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrAlreadyStarted) {
			t.Fatalf("expected ErrAlreadyStarted panic, got %v", r)
		}
		waitDelivered(t, task)
	}()
	task.Start()
}

func TestTaskNotificationOrder(t *testing.T) {
	rec := &recorder{}
	task := NewTask("Test", func(ctx context.Context, r Reporter) (any, error) {
		r.SetStatus("one")
		r.SetStatus("two")
		r.SetStatus("three")
		return nil, nil
	}, WithProgressCoalescing(false))
	task.Subscribe(rec.add)

	task.Start()
	waitDelivered(t, task)

	got := rec.all()
	require.Len(t, got, 5)
	assert.Equal(t, RunningChanged{TaskID: task.ID, Running: true}, got[0])
	assert.Equal(t, StatusChanged{TaskID: task.ID, Text: "one"}, got[1])
	assert.Equal(t, StatusChanged{TaskID: task.ID, Text: "two"}, got[2])
	assert.Equal(t, StatusChanged{TaskID: task.ID, Text: "three"}, got[3])
	assert.True(t, IsTerminal(got[4]))
}

func TestTaskTerminalNotificationFollowsWorkWrites(t *testing.T) {
	var (
		mu     sync.Mutex
		shared int
	)

	task := NewTask("Test", func(ctx context.Context, r Reporter) (any, error) {
		for i := 0; i < 50; i++ {
			mu.Lock()
			shared++
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}
		return nil, nil
	})

	type observation struct {
		shared  int
		running bool
	}
	seen := make(chan observation, 1)
	task.Subscribe(func(n Notification) {
		if IsTerminal(n) {
			mu.Lock()
			defer mu.Unlock()
			seen <- observation{shared: shared, running: task.IsRunning()}
		}
	})

	task.Start()
	task.RequestCancel()

	obs := <-seen
	assert.Equal(t, 50, obs.shared, "terminal notification must follow every work write")
	assert.False(t, obs.running)
}

func TestTaskWorkError(t *testing.T) {
	boom := errors.New("boom")
	task := NewTask("Test", func(ctx context.Context, r Reporter) (any, error) {
		r.SetProgress(40)
		return "partial", boom
	})

	task.Start()
	waitDelivered(t, task)

	err := task.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var werr *WorkError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, task.ID, werr.TaskID)

	_, ok := task.Result()
	assert.False(t, ok, "a failed run has no result")
	assert.Equal(t, OutcomeFailed, OutcomeOf(task))
}

func TestTaskPanicCaptured(t *testing.T) {
	task := NewTask("Test", func(ctx context.Context, r Reporter) (any, error) {
		panic("kaboom")
	})

	task.Start()
	waitDelivered(t, task)

	var werr *WorkError
	require.ErrorAs(t, task.Err(), &werr)
	assert.Equal(t, "kaboom", werr.Panic)
	assert.NotEmpty(t, werr.Stack)
	assert.False(t, task.IsRunning())
}

func TestTaskStaleCancel(t *testing.T) {
	task := NewTask("Test", noopWork)
	task.Start()
	waitDelivered(t, task)

	task.RequestCancel()

	assert.False(t, task.IsCancelled())
	assert.Equal(t, OutcomeCompleted, OutcomeOf(task))
	result, ok := task.Result()
	assert.True(t, ok)
	assert.Equal(t, "ok", result)
}

func TestTaskDuration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	task := NewTask("Test", func(ctx context.Context, r Reporter) (any, error) {
		<-release
		return nil, nil
	}, WithClock(clock))

	if task.Duration() != 0 {
		t.Error("Duration of an unstarted task should be zero")
	}

	task.Start()
	clock.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, task.Duration())

	clock.Advance(2 * time.Second)
	close(release)
	waitDelivered(t, task)
	clock.Advance(time.Hour)

	assert.Equal(t, 5*time.Second, task.Duration())
}

func TestTaskSummary(t *testing.T) {
	task := NewTask("Index repo", noopWork)
	assert.Contains(t, task.Summary(), "pending")

	task.Start()
	waitDelivered(t, task)

	summary := task.Summary()
	assert.Contains(t, summary, "Index repo")
	assert.Contains(t, summary, "complete")
	assert.Contains(t, summary, task.ID[:8])
}
