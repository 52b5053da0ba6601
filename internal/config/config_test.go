// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/codepilot/internal/prompt"
)

// isolate points the config directory at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CODEPILOT_HOME", dir)
	return dir
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// called concurrently.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.Ollama.Model = "test-model"
			SetGlobal(c)
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

// TestConfig_ConcurrentReload tests concurrent ReloadGlobal and Global calls.
func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()
	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := ReloadGlobal(); err != nil {
				t.Errorf("ReloadGlobal() error = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_SetGlobalOverwrites(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	c := Default()
	c.Ollama.Model = "custom"
	SetGlobal(c)

	if got := Global().Ollama.Model; got != "custom" {
		t.Errorf("Global().Ollama.Model = %q, want %q", got, "custom")
	}
}

// TestConfig_Default tests that Default() returns a valid config.
func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.Ollama.URL != "http://localhost:11434" {
		t.Errorf("unexpected default URL %q", cfg.Ollama.URL)
	}
	if cfg.Ollama.Model != "gemma3:1b" {
		t.Errorf("unexpected default model %q", cfg.Ollama.Model)
	}
	if cfg.Chat.Template != prompt.DefaultChat {
		t.Errorf("unexpected default template %q", cfg.Chat.Template)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("unexpected default backend %q", cfg.Storage.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"valid default config", func(c *Config) {}, ""},
		{"relative url", func(c *Config) { c.Ollama.URL = "localhost:11434" }, "ollama.url"},
		{"bad scheme", func(c *Config) { c.Ollama.URL = "ftp://localhost:11434" }, "ollama.url"},
		{"empty model", func(c *Config) { c.Ollama.Model = " " }, "ollama.model"},
		{"temperature too high", func(c *Config) { c.Generation.Temperature = 2.5 }, "generation.temperature"},
		{"top_p out of range", func(c *Config) { c.Generation.TopP = 1.5 }, "generation.top_p"},
		{"negative max tokens", func(c *Config) { c.Generation.MaxTokens = -1 }, "generation.max_tokens"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"negative max chats", func(c *Config) { c.Storage.MaxChats = -5 }, "storage.max_chats"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"template without id", func(c *Config) {
			c.Templates = []prompt.Template{{Text: "{question}"}}
		}, "templates[0].id"},
		{"sqlite backend", func(c *Config) { c.Storage.Backend = "sqlite" }, ""},
		{"zero temperature", func(c *Config) { c.Generation.Temperature = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()

			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want ValidateErrors", err)
			}
			if verrs[0].Field != tt.field {
				t.Errorf("Validate() field = %q, want %q", verrs[0].Field, tt.field)
			}
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	c := Default()
	c.Ollama.Model = ""
	c.Storage.Backend = "nope"
	err := c.Validate()

	var verrs ValidateErrors
	if !errors.As(err, &verrs) || len(verrs) != 2 {
		t.Fatalf("expected 2 validation errors, got %v", err)
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("errors should be joined: %q", err.Error())
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, `
[ollama]
model = "llama3.2"

[storage]
backend = "pebble"

[[templates]]
id = "review"
name = "Review"
template = "Review this: {question}"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Ollama.Model != "llama3.2" {
		t.Errorf("model = %q", cfg.Ollama.Model)
	}
	if cfg.Ollama.URL != "http://localhost:11434" {
		t.Errorf("missing url should be filled, got %q", cfg.Ollama.URL)
	}
	if cfg.Storage.Backend != "pebble" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if len(cfg.Templates) != 1 || cfg.Templates[0].ID != "review" {
		t.Errorf("templates = %+v", cfg.Templates)
	}
}

func TestLoad_FallsBackToJSON(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, filepath.Join(dir, "config.json"), `{"ollama": {"model": "from-json"}}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ollama.Model != "from-json" {
		t.Errorf("model = %q, want from-json", cfg.Ollama.Model)
	}
}

func TestLoad_BrokenFileReturnsDefaults(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, filepath.Join(dir, "config.toml"), "[ollama\nmodel=")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() should report the broken file")
	}
	if cfg == nil || cfg.Ollama.Model != "gemma3:1b" {
		t.Errorf("Load() should still return defaults, got %+v", cfg)
	}
}

func TestLoadFile_IgnoresEnvironment(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	t.Setenv("CODEPILOT_TOKEN", "secret")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() on a missing file error = %v", err)
	}
	if cfg.Ollama.Model != "gemma3:1b" {
		t.Errorf("missing file should give defaults, got model %q", cfg.Ollama.Model)
	}

	writeConfig(t, path, "[ollama]\nmodel = \"llama3.2\"\n")
	cfg, err = LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Ollama.Model != "llama3.2" {
		t.Errorf("model = %q", cfg.Ollama.Model)
	}
	if cfg.Server.Token != "" {
		t.Errorf("environment leaked into file config: token = %q", cfg.Server.Token)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CODEPILOT_MODEL", "env-model")
	t.Setenv("CODEPILOT_OLLAMA_URL", "http://gpu-box:11434")
	t.Setenv("CODEPILOT_STORAGE_BACKEND", "sqlite")
	t.Setenv("CODEPILOT_TOKEN", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ollama.Model != "env-model" || cfg.Ollama.URL != "http://gpu-box:11434" {
		t.Errorf("ollama = %+v", cfg.Ollama)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if strings.Contains(cfg.String(), "s3cret") {
		t.Error("String() must redact the server token")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	writeConfig(t, path, "CODEPILOT_TEST_DOTENV=from-file\nCODEPILOT_TEST_PRESET=from-file\n")
	t.Setenv("CODEPILOT_TEST_PRESET", "from-env")
	t.Setenv("CODEPILOT_TEST_DOTENV", "")
	os.Unsetenv("CODEPILOT_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("CODEPILOT_TEST_DOTENV"); got != "from-file" {
		t.Errorf("CODEPILOT_TEST_DOTENV = %q", got)
	}
	if got := os.Getenv("CODEPILOT_TEST_PRESET"); got != "from-env" {
		t.Errorf("existing variables must win, got %q", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.toml")

	cfg := Default()
	cfg.Ollama.Model = "qwen2.5-coder"
	cfg.Generation.MaxTokens = 512
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Ollama.Model != "qwen2.5-coder" || loaded.Generation.MaxTokens != 512 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

// TestConfig_GetSet tests Get and Set methods with dot notation.
func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("ollama.model")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != "gemma3:1b" {
		t.Errorf("Get('ollama.model') = %v", val)
	}

	if err := cfg.Set("chat.max_file_size_kb", "64"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Chat.MaxFileSizeKB != 64 {
		t.Errorf("MaxFileSizeKB = %d", cfg.Chat.MaxFileSizeKB)
	}
	if err := cfg.Set("generation.temperature", "0.2"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Generation.Temperature != 0.2 {
		t.Errorf("Temperature = %v", cfg.Generation.Temperature)
	}
	if err := cfg.Set("ollama.url", "http://other:11434"); err != nil || cfg.Ollama.URL != "http://other:11434" {
		t.Errorf("Set('ollama.url') = %v, url %q", err, cfg.Ollama.URL)
	}

	for _, key := range []string{"invalid.key", "ollama", "ollama.model.x", "templates", ""} {
		if _, err := cfg.Get(key); err == nil {
			t.Errorf("Get(%q) should fail", key)
		}
	}
	if err := cfg.Set("storage.max_chats", "many"); err == nil {
		t.Error("Set() with a non-integer should fail")
	}
}

// TestConfig_Clone tests that Clone creates an independent copy.
func TestConfig_Clone(t *testing.T) {
	original := Default()
	original.Templates = []prompt.Template{{ID: "a", Text: "x"}}

	clone := original.Clone()
	clone.Ollama.Model = "changed"
	clone.Templates[0].ID = "b"

	if original.Ollama.Model != "gemma3:1b" {
		t.Error("Clone should create an independent copy")
	}
	if original.Templates[0].ID != "a" {
		t.Error("Clone should copy the templates slice")
	}
}

func TestHistoryDir(t *testing.T) {
	dir := isolate(t)
	cfg := Default()

	got, err := cfg.HistoryDir()
	if err != nil || got != filepath.Join(dir, "history") {
		t.Errorf("HistoryDir() = %q, %v", got, err)
	}
	cfg.Storage.Dir = "/var/lib/codepilot"
	if got, _ := cfg.HistoryDir(); got != "/var/lib/codepilot" {
		t.Errorf("HistoryDir() = %q", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "[ollama]\nmodel = \"first\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	if err := Watch(ctx, path, func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeConfig(t, path, "[ollama]\nmodel = \"second\"\n")

	select {
	case cfg := <-changes:
		if cfg.Ollama.Model != "second" {
			t.Errorf("reloaded model = %q", cfg.Ollama.Model)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
