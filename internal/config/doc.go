// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigtask.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - TaskConfig: Canceling text, stepped work defaults, shell escalation
//   - UIConfig: Dialog theme, spinner and progress bar
//   - LogConfig: Log level, file and format
//   - HistoryConfig: Persistent run history
//   - Watcher: Reloads the config file when it changes
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGTASK_*)
//   - ~/.rigtask/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	text := cfg.Task.CancelingText
//	delay := cfg.Task.StepDelay.Duration
package config
