// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-tasks/internal/config"
	"github.com/jeranaias/rigrun-tasks/internal/logging"
	"github.com/jeranaias/rigrun-tasks/internal/ui"
)

// Version is set at build time.
var Version = "dev"

const description = `rigtask runs long operations behind a cancelable progress dialog.

Canceling is cooperative: the dialog asks the work to stop and stays up
until it has really stopped. Completed means the work ran to the end
without anyone asking it to stop.`

// annotationOwnsTerminal marks commands that may show the progress dialog.
// Their logs go to the log file so they never draw over the dialog.
const annotationOwnsTerminal = "owns-terminal"

// =============================================================================
// ROOT COMMAND
// =============================================================================

// Root is the parent of all sub-commands.
type Root struct {
	cmd *cobra.Command

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Persistent flags
	configPath string
	logLevel   string
	noColor    bool

	initialized bool
	cfg         *config.Config
	logger      *logging.Logger
	profile     termenv.Profile
	theme       *ui.Theme
}

// NewRoot creates the command tree.
func NewRoot(stdin io.Reader, stdout, stderr io.Writer) *Root {
	root := &Root{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	root.cmd = &cobra.Command{
		Use:           "rigtask",
		Version:       Version,
		Short:         "Run long operations behind a cancelable progress dialog",
		Long:          description,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.cmd.SetIn(stdin)
	root.cmd.SetOut(stdout)
	root.cmd.SetErr(stderr)
	root.cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Field: "flags", Reason: err.Error()}
	})

	flags := root.cmd.PersistentFlags()
	flags.SortFlags = true
	flags.StringVar(&root.configPath, "config", "", "path to the config file (default ~/.rigtask/config.toml)")
	flags.StringVar(&root.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")
	flags.BoolVar(&root.noColor, "no-color", false, "disable colored output")

	root.cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return root.init(cmd)
	}

	root.cmd.AddCommand(
		runCommand(root),
		historyCommand(root),
		configCommand(root),
	)

	return root
}

// Execute runs the command line and returns the process exit code.
// Cancelling ctx acts as a close request for a running task.
func (root *Root) Execute(ctx context.Context, args []string) int {
	defer root.tearDown()

	root.cmd.SetArgs(args)
	err := root.cmd.ExecuteContext(ctx)
	if err != nil {
		root.printError(err)
	}
	return GetExitCode(err)
}

// init loads config and builds the logger once flags are parsed.
func (root *Root) init(cmd *cobra.Command) error {
	if root.initialized {
		return nil
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if root.logLevel != "" {
		if _, err := logging.ParseLevel(root.logLevel); err != nil {
			return &UsageError{Field: "--log-level", Value: root.logLevel, Reason: "unknown level"}
		}
		cfg.Log.Level = root.logLevel
	}

	root.profile = colorProfile(root.stdout, root.noColor)
	root.theme = ui.NewTheme(root.stdout, cfg.UI.Theme, root.profile)

	_, owns := cmd.Annotations[annotationOwnsTerminal]
	logger, err := logging.New(cfg.Log, logging.Options{
		Console:   root.stderr,
		ForceFile: owns && interactive(root.stdin, root.stdout),
		NoColor:   !colorsEnabled(root.stderr, root.noColor),
	})
	if err != nil {
		return &ConfigError{Action: "log setup", Err: err}
	}

	root.cfg = cfg
	root.logger = logger
	root.initialized = true
	config.SetGlobal(cfg)

	root.logger.Debug().
		Str("command", cmd.CommandPath()).
		Str("config", root.configFile()).
		Msg("initialized")
	return nil
}

func (root *Root) loadConfig() (*config.Config, error) {
	if root.configPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, &ConfigError{Action: "load", Err: err}
		}
		return cfg, nil
	}

	if _, err := os.Stat(root.configPath); err != nil {
		return nil, &ConfigError{Action: "load", Err: err}
	}
	cfg, err := config.LoadFromPath(root.configPath)
	if err != nil {
		return nil, &ConfigError{Action: "load", Err: err}
	}
	return cfg, nil
}

// configFile returns the config file in use, whether or not it exists.
func (root *Root) configFile() string {
	if root.configPath != "" {
		return root.configPath
	}
	path, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	return path
}

func (root *Root) tearDown() {
	if root.logger != nil {
		_ = root.logger.Close()
	}
}

func (root *Root) printError(err error) {
	if errors.Is(err, ErrCanceled) {
		return
	}
	label := "[ERROR]"
	if root.theme != nil {
		label = root.theme.Failure.Render(label)
	}
	fmt.Fprintf(root.stderr, "%s %s\n", label, err.Error())
}
