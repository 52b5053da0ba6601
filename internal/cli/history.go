// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Chat history commands.
//
// Chat ids may be abbreviated to any unique prefix, as shown by
// "codepilot history".

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codepilot/internal/storage"
	"github.com/jeranaias/codepilot/internal/util"
)

func newHistoryCmd(g *globalOptions) *cobra.Command {
	var here bool

	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "List saved chats",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				chats := app.Store.List()
				if here {
					chats = app.Store.ListWorkspace(storage.ResolveWorkspaceID(app.Root))
				}
				fmt.Fprint(cmd.OutOrStdout(), storage.FormatChatList(chats, app.Store.CurrentID()))
				if len(chats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&here, "here", false, "only chats of the current workspace")

	cmd.AddCommand(
		newHistoryShowCmd(g),
		newHistorySelectCmd(g),
		newHistoryRenameCmd(g),
		newHistoryDeleteCmd(g),
		newHistorySearchCmd(g),
		newHistoryExportCmd(g),
		newHistoryClearCmd(g),
	)
	return cmd
}

// resolveChatID expands a unique id prefix to the full id.
func resolveChatID(store *storage.Store, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", errors.New("chat id required")
	}
	if _, ok := store.Chat(prefix); ok {
		return prefix, nil
	}
	var match string
	for _, c := range store.List() {
		if strings.HasPrefix(c.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("chat id %q is ambiguous", prefix)
			}
			match = c.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", storage.ErrChatNotFound, prefix)
	}
	return match, nil
}

func newHistoryShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [ID]",
		Short: "Print a chat as Markdown (default: the current chat)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				id := app.Store.CurrentID()
				if len(args) == 1 {
					var err error
					if id, err = resolveChatID(app.Store, args[0]); err != nil {
						return err
					}
				}
				chat, ok := app.Store.Chat(id)
				if !ok {
					return errors.New("no current chat")
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, RenderMarkdown(out, chat.ExportMarkdown()))
				return nil
			})
		},
	}
}

func newHistorySelectCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "select ID",
		Short: "Make a chat the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				id, err := resolveChatID(app.Store, args[0])
				if err != nil {
					return err
				}
				if !app.Store.SetCurrent(id) {
					return fmt.Errorf("%w: %s", storage.ErrChatNotFound, id)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Switched to "+id)
				return nil
			})
		},
	}
}

func newHistoryRenameCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID TITLE",
		Short: "Rename a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				id, err := resolveChatID(app.Store, args[0])
				if err != nil {
					return err
				}
				if !app.Store.RenameChat(id, strings.Join(args[1:], " ")) {
					return errors.New("rename failed")
				}
				fmt.Fprintln(cmd.OutOrStdout(), Render(SuccessStyle, "Renamed"))
				return nil
			})
		},
	}
}

func newHistoryDeleteCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a chat",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				id, err := resolveChatID(app.Store, args[0])
				if err != nil {
					return err
				}
				if !app.Store.DeleteChat(id) {
					return errors.New("delete failed")
				}
				fmt.Fprintln(cmd.OutOrStdout(), Render(SuccessStyle, "Deleted "+id))
				return nil
			})
		},
	}
}

func newHistorySearchCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Find chats whose title or messages contain QUERY",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				out := cmd.OutOrStdout()
				hits := app.Store.Search(strings.Join(args, " "))
				if len(hits) == 0 {
					fmt.Fprintln(out, "No matches.")
					return nil
				}
				for _, h := range hits {
					fmt.Fprintf(out, "%s  %s (%d)\n", util.TruncateRunes(h.ChatID, 8), h.Title, h.Matches)
					if h.Snippet != "" {
						fmt.Fprintln(out, "          "+Render(DimStyle, h.Snippet))
					}
				}
				return nil
			})
		},
	}
}

func newHistoryExportCmd(g *globalOptions) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Export a chat as Markdown, JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				id, err := resolveChatID(app.Store, args[0])
				if err != nil {
					return err
				}
				chat, _ := app.Store.Chat(id)
				data, err := chat.Export(format)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := util.AtomicWriteFile(output, data, 0644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Wrote "+output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", storage.FormatMarkdown, "md, json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newHistoryClearCmd(g *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete all chats without --yes")
			}
			return withApp(g, false, func(app *App) error {
				n := len(app.Store.List())
				if err := app.Store.ClearAll(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chats\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

