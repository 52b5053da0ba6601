// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// action.go - explain, refactor and document commands.
//
// Examples:
//   codepilot explain main.go
//   codepilot refactor internal/store.go --lines 40-75
//   pbpaste | codepilot document -

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codepilot/internal/assistant"
	"github.com/jeranaias/codepilot/internal/workspace"
)

var actions = []assistant.Action{
	assistant.ActionExplain,
	assistant.ActionRefactor,
	assistant.ActionDocument,
}

// surroundingRadius is how many lines around a selection are sent as context.
const surroundingRadius = 10

func newActionCmd(g *globalOptions, action assistant.Action) *cobra.Command {
	var lines string

	cmd := &cobra.Command{
		Use:   string(action) + " FILE",
		Short: action.Title() + " in a file, or stdin with -",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, fileCtx, err := readSelection(cmd.InOrStdin(), args[0], lines)
			if err != nil {
				return err
			}
			return withApp(g, false, func(app *App) error {
				a := app.NewAssistant()
				return run(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, sink assistant.Sink) (string, error) {
					return a.CodeAction(ctx, action, code, fileCtx, sink)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&lines, "lines", "l", "", "only the given one-based line range, e.g. 10-25")
	return cmd
}

// readSelection loads the code for a code action and describes the file it
// came from. With a line range, the lines around it are added to the
// description.
func readSelection(stdin io.Reader, path, lines string) (code, fileCtx string, err error) {
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(stdin)
		path = "stdin"
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", "", err
	}
	content := string(data)

	if lines == "" {
		return content, workspace.Describe(path, content), nil
	}
	start, end, err := parseRange(lines)
	if err != nil {
		return "", "", err
	}
	code = workspace.Selection(content, start, end)
	fileCtx = workspace.Describe(path, content) + "\n" +
		workspace.Surrounding(content, start-1, surroundingRadius)
	return code, fileCtx, nil
}

// parseRange parses "N" or "N-M" into a one-based inclusive range.
func parseRange(s string) (int, int, error) {
	a, b, found := strings.Cut(s, "-")
	start, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil || start < 1 {
		return 0, 0, fmt.Errorf("invalid line range %q", s)
	}
	if !found {
		return start, start, nil
	}
	end, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("invalid line range %q", s)
	}
	return start, end, nil
}
