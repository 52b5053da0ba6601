// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/codepilot/internal/config"
)

func newModelsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models installed in Ollama",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, false, func(app *App) error {
				a := app.NewAssistant()
				names, err := a.Models(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(names) == 0 {
					fmt.Fprintln(out, "No models installed. Try: ollama pull "+a.Model())
					return nil
				}
				for _, name := range names {
					if name == a.Model() {
						fmt.Fprintln(out, Render(SuccessStyle, "* "+name))
					} else {
						fmt.Fprintln(out, "  "+name)
					}
				}
				return nil
			})
		},
	}
	cmd.AddCommand(newModelsUseCmd(g))
	return cmd
}

func newModelsUseCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use NAME",
		Short: "Make NAME the default model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return withApp(g, false, func(app *App) error {
				if names, err := app.Client.ModelNames(cmd.Context()); err == nil && !contains(names, name) {
					fmt.Fprintln(cmd.ErrOrStderr(), Render(WarningStyle, "warning: "+name+" is not installed"))
				}
				if err := updateConfig(app.ConfigPath, "ollama.model", name); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), Render(SuccessStyle, "Default model set to "+name))
				return nil
			})
		},
	}
}

// updateConfig sets key in the config file at path and writes it back.
// Environment overrides are not applied, so they never end up in the file.
func updateConfig(path, key string, value any) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	return save(cfg, path)
}

// save validates cfg and writes it to path, as JSON for a .json path and
// TOML otherwise.
func save(cfg *config.Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if strings.HasSuffix(path, ".json") {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
