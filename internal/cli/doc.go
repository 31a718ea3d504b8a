// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigtask command line.
//
// # Commands
//
//	rigtask run sleep [--duration d] [--steps n]
//	rigtask run fail [--at percent]
//	rigtask run shell [--kill] -- <command...>
//	rigtask history [run-id] [--limit n] [--json] [--clear]
//	rigtask config show|init|path|get|set
//
// Persistent flags: --config, --log-level, --no-color. The run commands
// also take --title, --text, --cancel-after, --plain and --no-history.
//
// # Exit Codes
//
//   - 0: task completed
//   - 2: invalid arguments
//   - 3: configuration error
//   - 4: task failed
//   - 7: run not found
//   - 130: task canceled
//
// # Usage
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	os.Exit(cli.NewRoot(os.Stdin, os.Stdout, os.Stderr).Execute(ctx, os.Args[1:]))
package cli
