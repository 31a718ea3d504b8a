// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by rigtask packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateWidth: Column-aware truncation with ellipsis
//   - StringWidth, PadRight: Terminal column helpers
//   - SingleLine: Flattens command output for a status line
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// # Usage
//
//	status := util.TruncateWidth(util.SingleLine(line), 60)
//
//	err := util.AtomicWriteFile(path, data, 0600)
package util
