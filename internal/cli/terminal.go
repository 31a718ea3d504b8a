// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// interactive reports whether the progress dialog can own the terminal.
// Both ends must be a TTY so key presses reach the dialog.
func interactive(in io.Reader, out io.Writer) bool {
	return isTerminal(in) && isTerminal(out)
}

// =============================================================================
// COLOR OUTPUT CONTROL
// =============================================================================

// colorsEnabled decides whether out gets colored output. NO_COLOR always
// wins (https://no-color.org/); FORCE_COLOR overrides TTY detection.
func colorsEnabled(out io.Writer, noColorFlag bool) bool {
	if noColorFlag || os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return isTerminal(out)
}

// colorProfile returns the termenv profile for out.
func colorProfile(out io.Writer, noColorFlag bool) termenv.Profile {
	if !colorsEnabled(out, noColorFlag) {
		return termenv.Ascii
	}
	if f, ok := out.(*os.File); ok {
		return termenv.NewOutput(f).EnvColorProfile()
	}
	return termenv.ANSI256
}
