// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Editor bridge server.
//
// Editors connect to ws://ADDR/ws and speak JSON-RPC 2.0. /healthz reports
// whether Ollama is reachable and /metrics exposes Prometheus metrics.
// Changes to the config file's model are picked up without a restart.

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/codepilot/internal/bridge"
	"github.com/jeranaias/codepilot/internal/config"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve chat and history to editors over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, true, func(app *App) error {
				if addr == "" {
					addr = app.Config.Server.Addr
				}
				if token == "" {
					token = app.Config.Server.Token
				}
				if token == "" {
					app.Log.Warn("bridge_unauthenticated", zap.String("addr", addr))
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				watchConfig(ctx, app)

				srv := bridge.NewServer(bridge.Config{
					Token:        token,
					NewAssistant: app.NewAssistant,
					Health:       app.Client,
					Registerer:   app.Metrics,
					Gatherer:     app.Metrics,
					Logger:       app.Log.Named("bridge"),
				})
				return srv.ListenAndServe(ctx, addr, func(a net.Addr) {
					fmt.Fprintf(cmd.OutOrStdout(), "codepilot bridge listening on ws://%s/ws\n", a)
				})
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&token, "token", "", "token clients must present (default from config)")
	return cmd
}

// watchConfig applies model changes from the config file while serving.
// Other settings need a restart.
func watchConfig(ctx context.Context, app *App) {
	if app.ConfigPath == "" {
		return
	}
	err := config.Watch(ctx, app.ConfigPath, func(cfg *config.Config, err error) {
		if err != nil {
			app.Log.Warn("config_reload_failed", zap.Error(err))
			return
		}
		if cfg.Ollama.Model != app.Sessions.Model() {
			app.Sessions.SetModel(cfg.Ollama.Model)
			app.Log.Info("model_changed", zap.String("model", cfg.Ollama.Model))
		}
	})
	if err != nil {
		app.Log.Warn("config_watch_failed", zap.String("path", app.ConfigPath), zap.Error(err))
	}
}
