// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-tasks/internal/tasks"
	"github.com/jeranaias/rigrun-tasks/internal/util"
)

// Schema is the run log database schema.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	progress    INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
`

// ErrRunNotFound is returned when a run ID does not match any stored run.
// Use errors.Is(err, ErrRunNotFound) to check for this error.
var ErrRunNotFound = &RunLogError{Message: "run not found"}

// RunLogError represents a run log error.
// It implements the error interface and can be compared using errors.Is.
type RunLogError struct {
	Message string
}

// Error implements the error interface.
func (e *RunLogError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing run log errors.
func (e *RunLogError) Is(target error) bool {
	t, ok := target.(*RunLogError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// RUN LOG
// =============================================================================

// RunLog persists finished task runs in SQLite.
type RunLog struct {
	db *sql.DB

	// MaxEntries bounds the number of stored runs; 0 means unlimited.
	MaxEntries int
}

// Open opens or creates the run log at path.
func Open(path string, maxEntries int) (*RunLog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &RunLog{db: db, MaxEntries: maxEntries}, nil
}

// Close closes the database.
func (l *RunLog) Close() error {
	return l.db.Close()
}

// Record stores a finished run and trims the log to MaxEntries.
// Recording the same task twice replaces the earlier row.
func (l *RunLog) Record(ctx context.Context, rec tasks.Record) error {
	if rec.TaskID == "" {
		return errors.New("run has no task id")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (task_id, description, outcome, error, progress, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.Description, string(rec.Outcome), rec.Error, rec.Progress,
		toUnix(rec.StartedAt), toUnix(rec.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if l.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM runs WHERE id NOT IN (
				SELECT id FROM runs ORDER BY id DESC LIMIT ?
			)`, l.MaxEntries)
		if err != nil {
			return fmt.Errorf("failed to trim run log: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns up to n runs, newest first. n <= 0 returns all runs.
func (l *RunLog) Recent(ctx context.Context, n int) ([]tasks.Record, error) {
	if n <= 0 {
		n = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT task_id, description, outcome, error, progress, started_at, ended_at
		FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []tasks.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns the newest run whose task ID starts with prefix.
func (l *RunLog) Get(ctx context.Context, prefix string) (tasks.Record, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return tasks.Record{}, ErrRunNotFound
	}

	row := l.db.QueryRowContext(ctx, `
		SELECT task_id, description, outcome, error, progress, started_at, ended_at
		FROM runs WHERE substr(task_id, 1, ?) = ? ORDER BY id DESC LIMIT 1`,
		len(prefix), prefix)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tasks.Record{}, ErrRunNotFound
	}
	return rec, err
}

// Counts returns the number of stored runs per outcome.
func (l *RunLog) Counts(ctx context.Context) (map[tasks.Outcome]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM runs GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[tasks.Outcome]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[tasks.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Clear deletes every stored run.
func (l *RunLog) Clear(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return fmt.Errorf("failed to clear runs: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (tasks.Record, error) {
	var (
		rec              tasks.Record
		outcome          string
		started, stopped int64
	)
	err := s.Scan(&rec.TaskID, &rec.Description, &outcome, &rec.Error, &rec.Progress, &started, &stopped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan run: %w", err)
	}
	rec.Outcome = tasks.Outcome(outcome)
	rec.StartedAt = fromUnix(started)
	rec.EndedAt = fromUnix(stopped)
	return rec, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// =============================================================================
// RUN LIST FORMATTING
// =============================================================================

// FormatRunList formats runs as a table for display.
func FormatRunList(runs []tasks.Record) string {
	if len(runs) == 0 {
		return "No runs recorded."
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", 10) + " " +
		util.PadRight("Started", 17) + " " +
		util.PadRight("Outcome", 10) + " " +
		util.PadRight("Progress", 8) + " " +
		util.PadRight("Took", 8) + " Description\n")
	sb.WriteString(strings.Repeat("-", 78) + "\n")

	for _, r := range runs {
		id := r.TaskID
		if len(id) > 8 {
			id = id[:8]
		}
		started := "-"
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Local().Format("2006-01-02 15:04")
		}
		took := r.Duration().Round(100 * time.Millisecond).String()

		sb.WriteString(util.PadRight(id, 10) + " " +
			util.PadRight(started, 17) + " " +
			util.PadRight(r.Outcome.String(), 10) + " " +
			util.PadRight(strconv.Itoa(r.Progress)+"%", 8) + " " +
			util.PadRight(took, 8) + " " +
			util.TruncateWidth(r.Description, 30) + "\n")
		if r.Error != "" {
			sb.WriteString("           error: " + util.TruncateWidth(util.SingleLine(r.Error), 60) + "\n")
		}
	}
	return sb.String()
}
