// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codepilot/internal/workspace"
)

func newCompleteCmd(g *globalOptions) *cobra.Command {
	var line int

	cmd := &cobra.Command{
		Use:   "complete FILE",
		Short: "Suggest a continuation for the code up to a line",
		Long: "Sends the code before the cursor to the model and prints a short continuation. " +
			"The cursor is at the end of --line (default: the last line). Nothing is printed " +
			"when the line is too short or is a comment.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			content := string(data)
			total := strings.Count(strings.TrimSuffix(content, "\n"), "\n") + 1
			if line <= 0 || line > total {
				line = total
			}
			prefix := workspace.Before(content, line-1, line)

			return withApp(g, false, func(app *App) error {
				out, err := app.NewAssistant().Complete(cmd.Context(), prefix, args[0])
				if err != nil {
					return err
				}
				if out == "" {
					return errors.New("no completion")
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&line, "line", "n", 0, "one-based cursor line")
	return cmd
}
