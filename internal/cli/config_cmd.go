// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-tasks/internal/config"
)

// =============================================================================
// CONFIG COMMAND
// =============================================================================

func configCommand(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long: `View and modify configuration.

Settings are read from the config file, then RIGTASK_* environment
variables. "config show" prints the effective values; "config set" only
touches the file.`,
	}

	cmd.AddCommand(
		configShowCommand(root),
		configInitCommand(root),
		configPathCommand(root),
		configGetCommand(root),
		configSetCommand(root),
	)
	return cmd
}

func configShowCommand(root *Root) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if jsonOut {
				return outputJSON(out, "config show", func() (any, error) {
					return root.cfg, nil
				})
			}

			fmt.Fprintln(out, root.theme.Title.Render("rigtask configuration"))
			fmt.Fprintln(out, root.theme.Muted.Render(root.configFile()))
			fmt.Fprintln(out)
			fmt.Fprint(out, root.cfg.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	return cmd
}

func configInitCommand(root *Root) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.configFile()
			if path == "" {
				return &ConfigError{Action: "init", Err: errors.New("cannot determine config path")}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &UsageError{Field: "config file", Value: path, Reason: "already exists (use --force to overwrite)"}
			}

			if err := config.SaveTOML(config.Default(), path); err != nil {
				return &ConfigError{Action: "init", Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", root.theme.Success.Render("Wrote"), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configPathCommand(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.configFile()
			note := ""
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				note = " " + root.theme.Muted.Render("(not created yet)")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", path, note)
			return nil
		},
	}
}

func configGetCommand(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one effective setting",
		Example: `  rigtask config get task.canceling_text
  rigtask config get log.level`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeConfigKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := root.cfg.Get(args[0])
			if err != nil {
				return &UsageError{Field: "key", Value: args[0], Reason: err.Error()}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v\n", val)
			return nil
		},
	}
}

func configSetCommand(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting in the config file",
		Example: `  rigtask config set task.step_delay 20ms
  rigtask config set ui.theme light
  rigtask config set history.enabled false`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeConfigKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			path := root.configFile()

			// Start from the file, not the effective config, so environment
			// overrides are never written back.
			cfg := config.Default()
			if _, err := os.Stat(path); err == nil {
				fileCfg, err := config.ReadFile(path)
				if err != nil {
					return &ConfigError{Action: "read", Err: err}
				}
				cfg = fileCfg
			}

			if err := cfg.Set(key, value); err != nil {
				return &UsageError{Field: "key", Value: key, Reason: err.Error()}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.SaveTOML(cfg, path); err != nil {
				return &ConfigError{Action: "save", Err: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", root.theme.Success.Render("Set"), key, value)
			return nil
		},
	}
}

// completeConfigKeys completes the first argument with known config keys.
func completeConfigKeys(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var keys []string
	for _, key := range config.GetAllKeys() {
		if strings.HasPrefix(key, toComplete) {
			keys = append(keys, key)
		}
	}
	return keys, cobra.ShellCompDirectiveNoFileComp
}
