// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/codepilot/internal/prompt"
	"github.com/jeranaias/codepilot/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete codepilot configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Ollama server connection
	Ollama OllamaConfig `toml:"ollama" json:"ollama"`

	// Default sampling parameters for chat requests
	Generation GenerationConfig `toml:"generation" json:"generation"`

	// Chat history persistence
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Chat behavior and context limits
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Editor bridge server
	Server ServerConfig `toml:"server" json:"server"`

	// Logging
	Log LogConfig `toml:"log" json:"log"`

	// Templates are added to (or replace) the built-in prompt templates.
	Templates []prompt.Template `toml:"templates,omitempty" json:"templates,omitempty"`
}

// OllamaConfig contains the Ollama server settings.
type OllamaConfig struct {
	URL         string `toml:"url" json:"url"`
	Model       string `toml:"model" json:"model"`
	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs"`

	// RequestsPerSecond limits calls to the server; 0 disables limiting.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// GenerationConfig holds default sampling parameters. Zero values are left
// to the server, except where noted.
type GenerationConfig struct {
	Temperature float64 `toml:"temperature" json:"temperature"`
	TopP        float64 `toml:"top_p" json:"top_p"`
	TopK        int     `toml:"top_k" json:"top_k"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`
	System      string  `toml:"system" json:"system"`
}

// StorageConfig selects where chats are kept.
type StorageConfig struct {
	// Dir holds chat records; empty means <config dir>/history.
	Dir string `toml:"dir" json:"dir"`

	// Backend is file, sqlite or pebble.
	Backend string `toml:"backend" json:"backend"`

	// MaxChats caps the number of kept chats; 0 keeps all.
	MaxChats int `toml:"max_chats" json:"max_chats"`
}

// ChatConfig contains chat behavior settings.
type ChatConfig struct {
	Template      string `toml:"template" json:"template"`
	MaxFileSizeKB int    `toml:"max_file_size_kb" json:"max_file_size_kb"`
	MaxContextKB  int    `toml:"max_context_kb" json:"max_context_kb"`
}

// ServerConfig contains the editor bridge settings.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	// Token, when set, must be presented by clients before any other call.
	Token string `toml:"token" json:"token"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	File   string `toml:"file" json:"file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1",
		Ollama: OllamaConfig{
			URL:         "http://localhost:11434",
			Model:       "gemma3:1b",
			TimeoutSecs: 30,
		},
		Generation: GenerationConfig{
			Temperature: 0.7,
		},
		Storage: StorageConfig{
			Backend:  "file",
			MaxChats: 200,
		},
		Chat: ChatConfig{
			Template:      prompt.DefaultChat,
			MaxFileSizeKB: 100,
			MaxContextKB:  500,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7878",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the codepilot configuration directory. CODEPILOT_HOME
// overrides the default ~/.codepilot.
func ConfigDir() (string, error) {
	if dir := os.Getenv("CODEPILOT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".codepilot"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// HistoryDir returns the directory chats are stored in.
func (c *Config) HistoryDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the configuration: a .env file in the working directory, then
// config.toml, falling back to config.json, then built-in defaults.
// Environment overrides are applied last. A file that fails to parse is
// reported alongside the default config.
func Load() (*Config, error) {
	LoadDotEnv("")

	var loadErr error
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err != nil {
			loadErr = err
			continue
		}
		return cfg, nil
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadTOML decodes a TOML file into cfg and fills missing values.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON decodes a JSON file into cfg and fills missing values.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads configuration from a specific file with environment
// overrides and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the file at path without environment overrides, which is
// what should be written back after an edit. A missing file yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	if strings.HasSuffix(path, ".json") {
		return cfg, LoadJSON(cfg, path)
	}
	return cfg, LoadTOML(cfg, path)
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Ollama
	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = defaults.Ollama.URL
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = defaults.Ollama.Model
	}
	if cfg.Ollama.TimeoutSecs == 0 {
		cfg.Ollama.TimeoutSecs = defaults.Ollama.TimeoutSecs
	}

	// Storage
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}

	// Chat
	if cfg.Chat.Template == "" {
		cfg.Chat.Template = defaults.Chat.Template
	}
	if cfg.Chat.MaxFileSizeKB == 0 {
		cfg.Chat.MaxFileSizeKB = defaults.Chat.MaxFileSizeKB
	}
	if cfg.Chat.MaxContextKB == 0 {
		cfg.Chat.MaxContextKB = defaults.Chat.MaxContextKB
	}

	// Server
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file, owner read/write only.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# codepilot configuration file\n")
	b.WriteString("# Generated by codepilot - edit with care\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration to a JSON file, owner read/write only.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors listing
// every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Ollama.URL); err != nil || u.Host == "" {
		add("ollama.url", "must be an absolute URL, got %q", c.Ollama.URL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("ollama.url", "scheme must be http or https, got %q", u.Scheme)
	}
	if strings.TrimSpace(c.Ollama.Model) == "" {
		add("ollama.model", "must not be empty")
	}
	if c.Ollama.TimeoutSecs < 0 {
		add("ollama.timeout_secs", "must not be negative")
	}
	if c.Ollama.RequestsPerSecond < 0 {
		add("ollama.requests_per_second", "must not be negative")
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		add("generation.temperature", "must be between 0 and 2")
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		add("generation.top_p", "must be between 0 and 1")
	}
	if c.Generation.TopK < 0 {
		add("generation.top_k", "must not be negative")
	}
	if c.Generation.MaxTokens < 0 {
		add("generation.max_tokens", "must not be negative")
	}

	switch c.Storage.Backend {
	case "file", "sqlite", "pebble":
	default:
		add("storage.backend", "must be file, sqlite or pebble, got %q", c.Storage.Backend)
	}
	if c.Storage.MaxChats < 0 {
		add("storage.max_chats", "must not be negative")
	}

	if c.Chat.MaxFileSizeKB < 0 {
		add("chat.max_file_size_kb", "must not be negative")
	}
	if c.Chat.MaxContextKB < 0 {
		add("chat.max_context_kb", "must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		add("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		add("log.format", "must be console or json, got %q", c.Log.Format)
	}

	for i, t := range c.Templates {
		if strings.TrimSpace(t.ID) == "" {
			add(fmt.Sprintf("templates[%d].id", i), "must not be empty")
		}
		if strings.TrimSpace(t.Text) == "" {
			add(fmt.Sprintf("templates[%d].template", i), "must not be empty")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - CODEPILOT_OLLAMA_URL: overrides ollama.url
//   - CODEPILOT_MODEL: overrides ollama.model
//   - CODEPILOT_TEMPLATE: overrides chat.template
//   - CODEPILOT_HISTORY_DIR: overrides storage.dir
//   - CODEPILOT_STORAGE_BACKEND: overrides storage.backend
//   - CODEPILOT_ADDR: overrides server.addr
//   - CODEPILOT_TOKEN: overrides server.token
//   - CODEPILOT_LOG_LEVEL: overrides log.level
//   - CODEPILOT_LOG_FORMAT: overrides log.format
func (c *Config) ApplyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"CODEPILOT_OLLAMA_URL", &c.Ollama.URL},
		{"CODEPILOT_MODEL", &c.Ollama.Model},
		{"CODEPILOT_TEMPLATE", &c.Chat.Template},
		{"CODEPILOT_HISTORY_DIR", &c.Storage.Dir},
		{"CODEPILOT_STORAGE_BACKEND", &c.Storage.Backend},
		{"CODEPILOT_ADDR", &c.Server.Addr},
		{"CODEPILOT_TOKEN", &c.Server.Token},
		{"CODEPILOT_LOG_LEVEL", &c.Log.Level},
		{"CODEPILOT_LOG_FORMAT", &c.Log.Format},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g.
// "ollama.model").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct || field.Kind() == reflect.Slice {
				return reflect.Value{}, fmt.Errorf("field '%s' is not a scalar", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field name. Known initialisms are upper-cased.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		switch lower := strings.ToLower(part); lower {
		case "url", "kb":
			result.WriteString(strings.ToUpper(lower))
		default:
			if len(part) > 0 {
				result.WriteString(strings.ToUpper(lower[:1]))
				result.WriteString(lower[1:])
			}
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an arbitrary value with type
// conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Templates != nil {
		clone.Templates = append([]prompt.Template(nil), c.Templates...)
	}
	return &clone
}

// String renders the config as JSON with the server token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal replaces the global configuration.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
