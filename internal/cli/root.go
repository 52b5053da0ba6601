// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// NewRootCmd builds the codepilot command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "codepilot",
		Short: "Local coding assistant backed by Ollama",
		Long: "codepilot asks a local Ollama model about your code, keeps per-workspace chat history " +
			"and serves the same features to editors over a WebSocket bridge.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default ~/.codepilot/config.toml)")
	flags.StringVarP(&opts.model, "model", "m", "", "model to use for this run")
	flags.StringVarP(&opts.workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newAskCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	for _, action := range actions {
		cmd.AddCommand(newActionCmd(opts, action))
	}
	cmd.AddCommand(newCompleteCmd(opts))
	cmd.AddCommand(newModelsCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newTemplatesCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "codepilot %s (commit: %s, built: %s)\n", Version, GitCommit, BuildDate)
		},
	}
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return execute(NewRootCmd(), os.Args[1:])
}

func execute(cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errCancelled):
		return 130
	default:
		fmt.Fprintln(cmd.ErrOrStderr(), Render(ErrorStyle, "Error: ")+err.Error())
		return 1
	}
}

// withApp builds the App for one command invocation and closes it after.
func withApp(opts *globalOptions, watch bool, fn func(*App) error) error {
	app, err := newApp(opts, watch)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
