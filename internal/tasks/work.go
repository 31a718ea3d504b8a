// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// =============================================================================
// BUILT-IN WORK
// =============================================================================

// MaxSteps bounds the step count accepted by the stepped work functions.
const MaxSteps = 10000

// ErrInjectedFailure is returned by FailWork when it reaches its failure point.
var ErrInjectedFailure = errors.New("injected failure")

// SteppedResult is the result of SleepWork.
type SteppedResult struct {
	Steps     int
	Completed int
}

// SleepWork returns work that advances through steps evenly spread over
// total, polling for cancellation before every step and reporting progress
// after it. The work returns early, without error, once it observes a
// cancel request.
func SleepWork(total time.Duration, steps int, clock clockwork.Clock) (WorkFunc, error) {
	if err := validateSteps(total, steps); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	delay := total / time.Duration(steps)

	return func(ctx context.Context, r Reporter) (any, error) {
		done, err := stepLoop(ctx, r, clock, steps, delay, -1)
		return SteppedResult{Steps: steps, Completed: done}, err
	}, nil
}

// FailWork returns work that behaves like SleepWork but fails once progress
// reaches atPercent.
func FailWork(total time.Duration, steps, atPercent int, clock clockwork.Clock) (WorkFunc, error) {
	if err := validateSteps(total, steps); err != nil {
		return nil, err
	}
	if atPercent < 0 || atPercent > 100 {
		return nil, fmt.Errorf("%w: failure point must be 0-100, got %d", ErrInvalidInput, atPercent)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	delay := total / time.Duration(steps)

	return func(ctx context.Context, r Reporter) (any, error) {
		_, err := stepLoop(ctx, r, clock, steps, delay, atPercent)
		return nil, err
	}, nil
}

func validateSteps(total time.Duration, steps int) error {
	if total < 0 {
		return fmt.Errorf("%w: duration cannot be negative, got %v", ErrInvalidInput, total)
	}
	if steps < 1 || steps > MaxSteps {
		return fmt.Errorf("%w: steps must be 1-%d, got %d", ErrInvalidInput, MaxSteps, steps)
	}
	return nil
}

// stepLoop runs steps until done, cancel or the failure percent (-1 = never).
func stepLoop(ctx context.Context, r Reporter, clock clockwork.Clock, steps int, delay time.Duration, failAt int) (int, error) {
	for i := 0; i < steps; i++ {
		if r.IsCancelled() {
			r.SetStatus(fmt.Sprintf("Stopped at step %d/%d", i, steps))
			return i, nil
		}

		pct := i * 100 / steps
		if failAt >= 0 && pct >= failAt {
			r.SetStatus(fmt.Sprintf("Failing at %d%%", pct))
			return i, fmt.Errorf("%w at step %d/%d", ErrInjectedFailure, i, steps)
		}

		r.SetStatus(fmt.Sprintf("Step %d/%d", i+1, steps))
		if delay > 0 {
			select {
			case <-clock.After(delay):
			case <-ctx.Done():
				// Woken early; the next iteration observes the request.
			}
		}
		r.SetProgressFraction(float64(i+1) / float64(steps))
	}

	if failAt == 100 {
		return steps, fmt.Errorf("%w at step %d/%d", ErrInjectedFailure, steps, steps)
	}
	r.SetStatus("Done")
	return steps, nil
}

// =============================================================================
// SHELL WORK
// =============================================================================

// ShellOptions configures ShellWork.
type ShellOptions struct {
	// KillOnCancel terminates the child process when cancellation is
	// requested. This is an explicit escalation beyond cooperative
	// cancellation; without it the command always runs to completion.
	KillOnCancel bool

	// Shell overrides shell detection (e.g. "/bin/sh").
	Shell string
}

// ShellWork returns work that runs command through the system shell,
// streaming each output line into the task status. The result is the
// combined output.
//
// Progress is not measurable for shell commands: it stays at 0% and jumps to
// 100% on success.
func ShellWork(command string, opts ShellOptions) (WorkFunc, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("%w: empty shell command", ErrInvalidInput)
	}

	shell, flag := detectShell(opts.Shell)

	return func(ctx context.Context, r Reporter) (any, error) {
		var cmd *exec.Cmd
		if opts.KillOnCancel {
			cmd = exec.CommandContext(ctx, shell, flag, command)
		} else {
			cmd = exec.Command(shell, flag, command)
		}

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
		}

		r.SetStatus("$ " + command)
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start command: %w", err)
		}

		out := &outputBuffer{}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			streamLines(stdout, out, r, "")
		}()
		go func() {
			defer wg.Done()
			streamLines(stderr, out, r, "[STDERR] ")
		}()
		wg.Wait()

		if err := cmd.Wait(); err != nil {
			if r.IsCancelled() {
				return out.String(), nil
			}
			return nil, fmt.Errorf("command failed: %w", err)
		}

		r.SetProgress(100)
		return out.String(), nil
	}, nil
}

// detectShell picks bash, then powershell, then cmd, like an interactive user would.
func detectShell(override string) (string, string) {
	if override != "" {
		if strings.Contains(strings.ToLower(override), "powershell") {
			return override, "-Command"
		}
		if strings.HasSuffix(strings.ToLower(override), "cmd") || strings.HasSuffix(strings.ToLower(override), "cmd.exe") {
			return override, "/c"
		}
		return override, "-c"
	}
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash", "-c"
	}
	if _, err := exec.LookPath("sh"); err == nil {
		return "sh", "-c"
	}
	if _, err := exec.LookPath("powershell"); err == nil {
		return "powershell", "-Command"
	}
	return "cmd", "/c"
}

// outputBuffer collects interleaved stdout/stderr lines.
type outputBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *outputBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.WriteString(line)
	b.sb.WriteByte('\n')
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

// streamLines copies lines from pipe into out and the task status.
// Interleaving between stdout and stderr is non-deterministic.
func streamLines(pipe io.Reader, out *outputBuffer, r Reporter, prefix string) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := prefix + scanner.Text()
		out.WriteLine(line)
		if strings.TrimSpace(line) != "" {
			r.SetStatus(line)
		}
	}
}
