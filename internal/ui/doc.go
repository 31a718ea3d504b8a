// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui presents a running task to the user.
//
// Run shows a modal progress dialog built on bubbletea. The program's event
// loop doubles as the coordinator's foreground loop: posted functions arrive
// as messages and run inside Update. RunHeadless prints plain progress lines
// and drives the coordinator from a loop.Loop instead.
//
// Both block until the task has stopped, whatever the user presses.
package ui
