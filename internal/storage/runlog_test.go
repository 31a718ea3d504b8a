// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-tasks/internal/tasks"
)

func openTestLog(t *testing.T, max int) *RunLog {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"), max)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func record(id string, outcome tasks.Outcome) tasks.Record {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return tasks.Record{
		TaskID:      id,
		Description: "sleep 2s",
		Outcome:     outcome,
		Progress:    40,
		StartedAt:   start,
		EndedAt:     start.Add(1500 * time.Millisecond),
	}
}

func TestRunLog_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	log := openTestLog(t, 0)

	first := record("aaaaaaaa-1111", tasks.OutcomeCompleted)
	second := record("bbbbbbbb-2222", tasks.OutcomeFailed)
	second.Error = "task bbbbbbbb failed: injected failure"

	require.NoError(t, log.Record(ctx, first))
	require.NoError(t, log.Record(ctx, second))

	runs, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "bbbbbbbb-2222", runs[0].TaskID)
	assert.Equal(t, tasks.OutcomeFailed, runs[0].Outcome)
	assert.Equal(t, second.Error, runs[0].Error)
	assert.True(t, first.StartedAt.Equal(runs[1].StartedAt))
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration())

	one, err := log.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestRunLog_MaxEntries(t *testing.T) {
	ctx := context.Background()
	log := openTestLog(t, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Record(ctx, record(fmt.Sprintf("run-%d", i), tasks.OutcomeCompleted)))
	}

	runs, err := log.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].TaskID)
	assert.Equal(t, "run-2", runs[2].TaskID)
}

func TestRunLog_Get(t *testing.T) {
	ctx := context.Background()
	log := openTestLog(t, 0)
	require.NoError(t, log.Record(ctx, record("abcdef12-3456", tasks.OutcomeCanceled)))

	rec, err := log.Get(ctx, "abcdef")
	require.NoError(t, err)
	assert.Equal(t, tasks.OutcomeCanceled, rec.Outcome)

	_, err = log.Get(ctx, "zzz")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	_, err = log.Get(ctx, " ")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunLog_CountsAndClear(t *testing.T) {
	ctx := context.Background()
	log := openTestLog(t, 0)

	require.NoError(t, log.Record(ctx, record("a", tasks.OutcomeCompleted)))
	require.NoError(t, log.Record(ctx, record("b", tasks.OutcomeCanceled)))
	require.NoError(t, log.Record(ctx, record("c", tasks.OutcomeCanceled)))
	// Re-recording a task replaces it.
	require.NoError(t, log.Record(ctx, record("c", tasks.OutcomeCanceled)))

	counts, err := log.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[tasks.OutcomeCompleted])
	assert.Equal(t, 2, counts[tasks.OutcomeCanceled])
	assert.Equal(t, 0, counts[tasks.OutcomeFailed])

	require.NoError(t, log.Clear(ctx))
	runs, err := log.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunLog_RejectsEmptyID(t *testing.T) {
	log := openTestLog(t, 0)
	assert.Error(t, log.Record(context.Background(), tasks.Record{}))
}

func TestRunLog_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	log, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, log.Record(ctx, record("persisted", tasks.OutcomeCompleted)))
	require.NoError(t, log.Close())

	log, err = Open(path, 0)
	require.NoError(t, err)
	defer log.Close()

	runs, err := log.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "persisted", runs[0].TaskID)
}

func TestFormatRunList(t *testing.T) {
	assert.Equal(t, "No runs recorded.", FormatRunList(nil))

	failed := record("0123456789abcdef", tasks.OutcomeFailed)
	failed.Error = "line one\nline two"
	out := FormatRunList([]tasks.Record{failed})

	assert.Contains(t, out, "01234567 ")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "Failed")
	assert.Contains(t, out, "40%")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "error: line one line two")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}
