// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codepilot/internal/storage"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Ollama, model and history status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, Render(TitleStyle, "codepilot status"))
				fmt.Fprintln(out, RenderSeparator(40))

				ollamaStatus := "up"
				if err := app.Client.CheckRunning(cmd.Context()); err != nil {
					ollamaStatus = "down"
				}
				fmt.Fprintf(out, "%s%s %s\n", RenderLabel("Ollama"), RenderStatus(ollamaStatus), app.Client.BaseURL())
				fmt.Fprintf(out, "%s%s\n", RenderLabel("Model"), Render(ValueStyle, app.Config.Ollama.Model))
				fmt.Fprintf(out, "%s%s\n", RenderLabel("Workspace"), Render(ValueStyle, app.Root))

				wsChats := app.Store.ListWorkspace(storage.ResolveWorkspaceID(app.Root))
				fmt.Fprintf(out, "%s%d (%d in this workspace)\n", RenderLabel("Chats"), len(app.Store.List()), len(wsChats))
				fmt.Fprintf(out, "%s%s\n", RenderLabel("Storage"), Render(ValueStyle, app.Config.Storage.Backend))
				fmt.Fprintf(out, "%s%s\n", RenderLabel("Template"), Render(ValueStyle, app.Config.Chat.Template))
				fmt.Fprintf(out, "%s%s\n", RenderLabel("Max chats"), Render(ValueStyle, strconv.Itoa(app.Config.Storage.MaxChats)))
				return nil
			})
		},
	}
}
