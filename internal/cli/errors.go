// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-tasks/internal/config"
	"github.com/jeranaias/rigrun-tasks/internal/storage"
	"github.com/jeranaias/rigrun-tasks/internal/tasks"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitTaskFailed indicates the task's work returned an error or panicked
	ExitTaskFailed = 4
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitCanceled indicates the task was canceled before it completed
	ExitCanceled = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrCanceled is returned by run commands when the task was canceled.
var ErrCanceled = errors.New("task canceled")

// UsageError reports an invalid flag or argument.
type UsageError struct {
	Field  string
	Value  string
	Reason string
}

func (e *UsageError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ConfigError wraps a failure to load or save the configuration.
type ConfigError struct {
	Action string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Action, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the exit code for an error returned by a command.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	if errors.Is(err, ErrCanceled) {
		return ExitCanceled
	}

	var workErr *tasks.WorkError
	if errors.As(err, &workErr) {
		return ExitTaskFailed
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) || errors.Is(err, tasks.ErrInvalidInput) {
		return ExitUsageError
	}

	var configErr *ConfigError
	var verrs config.ValidateErrors
	if errors.As(err, &configErr) || errors.As(err, &verrs) {
		return ExitConfigError
	}

	if errors.Is(err, storage.ErrRunNotFound) {
		return ExitNotFoundError
	}

	return ExitGeneralError
}
