// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jeranaias/codepilot/internal/assistant"
	"github.com/jeranaias/codepilot/internal/config"
	"github.com/jeranaias/codepilot/internal/logger"
	"github.com/jeranaias/codepilot/internal/ollama"
	"github.com/jeranaias/codepilot/internal/prompt"
	"github.com/jeranaias/codepilot/internal/session"
	"github.com/jeranaias/codepilot/internal/storage"
	"github.com/jeranaias/codepilot/internal/workspace"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	model      string
	workspace  string
	logLevel   string
}

// App holds the components a command runs against. Everything is built
// from the loaded config by newApp and released by Close.
type App struct {
	Config     *config.Config
	ConfigPath string
	Log        *zap.Logger
	Client     *ollama.Client
	Sessions   *session.Manager
	Store      *storage.Store
	Templates  *prompt.Registry
	Cache      *workspace.Cache
	Metrics    *prometheus.Registry
	Root       string

	watcher *workspace.Watcher
	current *currentState
}

// loadConfig reads the config named by --config, or the default location.
func loadConfig(opts *globalOptions) (*config.Config, string, error) {
	if opts.configPath != "" {
		config.LoadDotEnv("")
		cfg, err := config.LoadFromPath(opts.configPath)
		return cfg, opts.configPath, err
	}
	path, _ := config.ConfigPathTOML()
	cfg, err := config.Load()
	if cfg == nil {
		return nil, path, err
	}
	if err != nil {
		// A broken file falls back to defaults; say so and carry on.
		fmt.Fprintln(os.Stderr, Render(WarningStyle, "warning: "+err.Error()))
	}
	return cfg, path, nil
}

// newApp builds the component graph. watch enables the workspace file
// watcher, which only long-running commands need.
func newApp(opts *globalOptions, watch bool) (*App, error) {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if opts.model != "" {
		cfg.Ollama.Model = opts.model
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	app := &App{
		Config:     cfg,
		ConfigPath: path,
		Log:        log,
		Metrics:    prometheus.NewRegistry(),
	}

	app.Client = ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:           cfg.Ollama.URL,
		DefaultModel:      cfg.Ollama.Model,
		Timeout:           time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Ollama.RequestsPerSecond,
	})
	app.Sessions = session.NewManager(app.Client, session.Config{
		Model:   cfg.Ollama.Model,
		Metrics: session.NewMetrics(app.Metrics),
		Logger:  log.Named("session"),
	})

	dir := cfg.Storage.Dir
	if dir == "" {
		if dir, err = cfg.HistoryDir(); err != nil {
			return nil, err
		}
	}
	backend, err := storage.OpenBackend(cfg.Storage.Backend, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat history: %w", err)
	}
	app.Store, err = storage.NewStore(backend, storage.Options{
		MaxChats: cfg.Storage.MaxChats,
		Logger:   log.Named("storage"),
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	app.Templates = prompt.NewRegistry()
	for _, t := range cfg.Templates {
		app.Templates.Add(t)
	}

	start := opts.workspace
	if start == "" {
		if start, err = os.Getwd(); err != nil {
			start = "."
		}
	}
	app.Root = workspace.Root(start)
	app.current = loadCurrentState()
	app.current.restore(app.Store, app.Root)
	app.Cache = workspace.NewCache(workspace.DefaultCacheTTL, workspace.Limits{
		MaxFileSize:  int64(cfg.Chat.MaxFileSizeKB) * 1024,
		MaxTotalSize: int64(cfg.Chat.MaxContextKB) * 1024,
	})

	if watch {
		w, err := workspace.NewWatcher(app.Root, app.Cache, log.Named("workspace"))
		if err == nil {
			err = w.Watch()
		}
		if err != nil {
			// Without the watcher the cache still expires entries by TTL.
			log.Warn("workspace_watch_failed", zap.String("root", app.Root), zap.Error(err))
			if w != nil {
				w.Close()
			}
		} else {
			app.watcher = w
		}
	}

	log.Debug("app_ready",
		zap.String("model", cfg.Ollama.Model),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("history_dir", dir),
		zap.String("workspace", app.Root))
	return app, nil
}

// generation converts the configured sampling defaults to request options.
// Zero values other than temperature are left to the server.
func (a *App) generation() session.Options {
	g := a.Config.Generation
	opts := session.Options{
		System:      g.System,
		Temperature: ollama.Float(g.Temperature),
	}
	if g.TopP > 0 {
		opts.TopP = ollama.Float(g.TopP)
	}
	if g.TopK > 0 {
		opts.TopK = ollama.Int(g.TopK)
	}
	if g.MaxTokens > 0 {
		opts.MaxTokens = ollama.Int(g.MaxTokens)
	}
	return opts
}

// NewAssistant returns an assistant over the shared components. Each
// caller gets its own active request and template selection.
func (a *App) NewAssistant() *assistant.Assistant {
	return assistant.New(a.Sessions, a.Client, a.Store, a.Templates, assistant.Config{
		WorkspaceRoot: a.Root,
		Template:      a.Config.Chat.Template,
		Generation:    a.generation(),
		Cache:         a.Cache,
		Logger:        a.Log.Named("assistant"),
	})
}

// Close aborts outstanding requests and releases storage.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	a.Sessions.AbortAll()
	a.Sessions.Wait()
	if err := a.current.save(a.Store, a.Root); err != nil {
		a.Log.Warn("current_chat_not_saved", zap.Error(err))
	}
	errs = append(errs, a.Store.Close())
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
