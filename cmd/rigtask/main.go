// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// rigtask runs long operations behind a cancelable progress dialog.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/rigrun-tasks/internal/cli"
)

// Version information (set at build time)
var Version = "0.1.0"

func main() {
	cli.Version = Version

	// SIGINT/SIGTERM close the running task the same way the dialog does.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.NewRoot(os.Stdin, os.Stdout, os.Stderr).Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
