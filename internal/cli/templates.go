// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTemplatesCmd(g *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List prompt templates",
		Long:  "Lists the templates usable with ask --template. --all includes the code action templates.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				list := app.Templates.ChatTemplates()
				if all {
					list = app.Templates.All()
				}
				out := cmd.OutOrStdout()
				for _, t := range list {
					mark := "  "
					if t.ID == app.Config.Chat.Template {
						mark = "* "
					}
					fmt.Fprintf(out, "%s%s %s\n", mark, RenderLabel(t.ID), Render(DimStyle, t.Description))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include code action templates")
	return cmd
}
