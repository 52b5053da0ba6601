// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot questions.
//
// Examples:
//   codepilot ask "how do I read a file line by line?"
//   codepilot ask -f main.go -f go.mod "why does this not build?"
//   git diff | codepilot ask --template debug_help

package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codepilot/internal/assistant"
	"github.com/jeranaias/codepilot/internal/workspace"
)

type askOptions struct {
	files    []string
	template string
	context  string
	newChat  bool
	summary  bool
}

func newAskCmd(g *globalOptions) *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and stream the answer",
		Long: "Asks the model one question in the workspace's current chat and streams the answer. " +
			"Without arguments the question is read from stdin. Ctrl+C stops the answer; " +
			"whatever arrived is kept in the history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := questionFrom(cmd, args)
			if err != nil {
				return err
			}
			return withApp(g, false, func(app *App) error {
				return runAsk(cmd.Context(), cmd.OutOrStdout(), app.NewAssistant(), question, opts)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&opts.files, "file", "f", nil, "include a file as context (repeatable)")
	cmd.Flags().StringVarP(&opts.template, "template", "t", "", "prompt template id")
	cmd.Flags().StringVar(&opts.context, "context", "", "extra context text")
	cmd.Flags().BoolVar(&opts.newChat, "new", false, "start a new chat")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "include a summary of the workspace layout as context")
	return cmd
}

// questionFrom joins args, or reads stdin when there are none.
func questionFrom(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && f == os.Stdin && IsTTY() {
		return "", errors.New("no question given")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runAsk(ctx context.Context, out io.Writer, a *assistant.Assistant, question string, opts *askOptions) error {
	if len(opts.files) > 0 {
		a.SetContextFiles(opts.files)
	}
	extra := opts.context
	if opts.summary {
		summary, err := workspace.Summary(a.WorkspaceRoot())
		if err != nil {
			return err
		}
		extra = strings.TrimSpace(summary + "\n\n" + extra)
	}
	return run(ctx, out, func(ctx context.Context, sink assistant.Sink) (string, error) {
		return a.Ask(ctx, assistant.AskRequest{
			Question: question,
			Context:  extra,
			Template: opts.template,
			NewChat:  opts.newChat,
		}, sink)
	})
}
