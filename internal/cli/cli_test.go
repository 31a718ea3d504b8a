// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-tasks/internal/config"
	"github.com/jeranaias/rigrun-tasks/internal/storage"
	"github.com/jeranaias/rigrun-tasks/internal/tasks"
)

// =============================================================================
// HELPERS
// =============================================================================

type result struct {
	code   int
	stdout string
	stderr string
}

// isolate points HOME at a temp dir and clears environment that changes
// output or config.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("NO_COLOR", "1")
	for _, key := range []string{
		"RIGTASK_LOG_LEVEL", "RIGTASK_LOG_FILE", "RIGTASK_LOG_JSON", "RIGTASK_THEME",
		"RIGTASK_CANCELING_TEXT", "RIGTASK_KILL_ON_CANCEL", "RIGTASK_SHELL",
		"RIGTASK_HISTORY", "RIGTASK_HISTORY_PATH",
	} {
		t.Setenv(key, "")
	}
	config.ResetGlobalForTesting()
	return home
}

func executeContext(ctx context.Context, args ...string) result {
	var stdout, stderr bytes.Buffer
	root := NewRoot(strings.NewReader(""), &stdout, &stderr)
	code := root.Execute(ctx, args)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func execute(args ...string) result {
	return executeContext(context.Background(), args...)
}

// =============================================================================
// RUN
// =============================================================================

func TestRunSleepCompletes(t *testing.T) {
	isolate(t)

	res := execute("run", "sleep", "--duration", "20ms", "--steps", "4", "--title", "Napping")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Napping")
	assert.Contains(t, res.stdout, "[100%]")
	assert.Contains(t, res.stdout, "Completed")

	hist := execute("history", "--log-level", "disabled")
	require.Equal(t, ExitSuccess, hist.code, hist.stderr)
	assert.Contains(t, hist.stdout, "sleep 20ms in 4 steps")
	assert.Contains(t, hist.stdout, "1 Completed")
}

func TestRunFailReportsFailure(t *testing.T) {
	isolate(t)

	res := execute("run", "fail", "--duration", "20ms", "--steps", "4", "--at", "50")
	assert.Equal(t, ExitTaskFailed, res.code)
	assert.Contains(t, res.stdout, "Failed")
	assert.Contains(t, res.stderr, "[ERROR]")
	assert.Contains(t, res.stderr, "injected failure")
}

func TestRunCancelAfter(t *testing.T) {
	isolate(t)

	res := execute("run", "sleep", "--duration", "10s", "--steps", "1000",
		"--cancel-after", "30ms", "--text", "Halting")
	assert.Equal(t, ExitCanceled, res.code)
	assert.Contains(t, res.stdout, "Halting")
	assert.Contains(t, res.stdout, "Canceled")
	assert.NotContains(t, res.stderr, "[ERROR]")
}

func TestRunContextCancelActsAsClose(t *testing.T) {
	isolate(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	res := executeContext(ctx, "run", "sleep", "--duration", "10s", "--steps", "1000", "--no-history")
	assert.Equal(t, ExitCanceled, res.code)
	assert.Less(t, time.Since(start), 5*time.Second)

	hist := execute("history", "--json")
	require.Equal(t, ExitSuccess, hist.code, hist.stderr)
	var resp struct {
		Data []tasks.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(hist.stdout), &resp))
	assert.Empty(t, resp.Data)
}

func TestRunShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	isolate(t)

	res := execute("run", "shell", "--shell", "/bin/sh", "--", "echo", "hello from sh")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "hello from sh")
}

func TestRunInvalidInput(t *testing.T) {
	isolate(t)

	res := execute("run", "sleep", "--steps", fmt.Sprint(tasks.MaxSteps+1))
	assert.Equal(t, ExitUsageError, res.code)

	res = execute("run", "fail", "--at", "150")
	assert.Equal(t, ExitUsageError, res.code)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistoryShowAndClear(t *testing.T) {
	isolate(t)

	require.Equal(t, ExitSuccess, execute("run", "sleep", "--duration", "10ms", "--steps", "2").code)

	hist := execute("history", "--json")
	require.Equal(t, ExitSuccess, hist.code)
	var resp struct {
		Success bool           `json:"success"`
		Data    []tasks.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(hist.stdout), &resp))
	require.True(t, resp.Success)
	require.Len(t, resp.Data, 1)

	id := resp.Data[0].TaskID
	one := execute("history", id[:8])
	require.Equal(t, ExitSuccess, one.code, one.stderr)
	assert.Contains(t, one.stdout, id)
	assert.Contains(t, one.stdout, "Completed")

	assert.Equal(t, ExitNotFoundError, execute("history", "zzzzzzzz").code)

	cleared := execute("history", "--clear")
	require.Equal(t, ExitSuccess, cleared.code)
	assert.Contains(t, execute("history").stdout, "No runs recorded.")
}

func TestHistoryInvalidLimit(t *testing.T) {
	isolate(t)
	assert.Equal(t, ExitUsageError, execute("history", "--limit", "0").code)
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfigInitGetSet(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".rigtask", "config.toml")

	res := execute("config", "path")
	assert.Contains(t, res.stdout, path)
	assert.Contains(t, res.stdout, "not created yet")

	require.Equal(t, ExitSuccess, execute("config", "init").code)
	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, ExitUsageError, execute("config", "init").code)
	assert.Equal(t, ExitSuccess, execute("config", "init", "--force").code)

	require.Equal(t, ExitSuccess, execute("config", "set", "task.canceling_text", "Halting").code)
	assert.Equal(t, "Halting\n", execute("config", "get", "task.canceling_text").stdout)

	require.Equal(t, ExitSuccess, execute("config", "set", "task.step_delay", "5ms").code)
	assert.Equal(t, "5ms\n", execute("config", "get", "task.step_delay").stdout)

	assert.Equal(t, ExitConfigError, execute("config", "set", "ui.theme", "neon").code)
	assert.Equal(t, ExitUsageError, execute("config", "set", "no.such_key", "1").code)
	assert.Equal(t, ExitUsageError, execute("config", "get", "no.such_key").code)
}

func TestConfigSetKeepsEnvOutOfFile(t *testing.T) {
	home := isolate(t)
	t.Setenv("RIGTASK_CANCELING_TEXT", "From env")

	require.Equal(t, ExitSuccess, execute("config", "set", "log.level", "warn").code)

	cfg, err := config.ReadFile(filepath.Join(home, ".rigtask", "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "Canceling...", cfg.Task.CancelingText)
}

func TestConfigShowJSON(t *testing.T) {
	isolate(t)

	res := execute("config", "show", "--json")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	var resp struct {
		Success bool           `json:"success"`
		Command string         `json:"command"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "config show", resp.Command)
	assert.Contains(t, resp.Data, "task")
}

func TestExplicitConfigPath(t *testing.T) {
	isolate(t)

	missing := execute("--config", filepath.Join(t.TempDir(), "missing.toml"), "config", "show")
	assert.Equal(t, ExitConfigError, missing.code)

	path := filepath.Join(t.TempDir(), "custom.toml")
	cfg := config.Default()
	cfg.Task.CancelingText = "Custom"
	require.NoError(t, config.SaveTOML(cfg, path))

	res := execute("--config", path, "config", "get", "task.canceling_text")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Custom\n", res.stdout)
}

// =============================================================================
// FLAGS AND EXIT CODES
// =============================================================================

func TestInvalidFlags(t *testing.T) {
	isolate(t)

	assert.Equal(t, ExitUsageError, execute("run", "sleep", "--bogus").code)
	assert.Equal(t, ExitUsageError, execute("--log-level", "loud", "config", "path").code)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"canceled", ErrCanceled, ExitCanceled},
		{"work failure", fmt.Errorf("run: %w", &tasks.WorkError{Err: errors.New("boom")}), ExitTaskFailed},
		{"invalid input", fmt.Errorf("%w: bad steps", tasks.ErrInvalidInput), ExitUsageError},
		{"usage", &UsageError{Field: "x", Reason: "y"}, ExitUsageError},
		{"config", &ConfigError{Action: "load", Err: errors.New("nope")}, ExitConfigError},
		{"validation", config.ValidateErrors{{Field: "ui.theme", Message: "bad"}}, ExitConfigError},
		{"not found", fmt.Errorf("abc: %w", storage.ErrRunNotFound), ExitNotFoundError},
		{"other", errors.New("disk on fire"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}
