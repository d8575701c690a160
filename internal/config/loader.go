package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "BISHMA"

// envBindings lists every key that accepts an environment override.
// Viper's Unmarshal misses env vars on nested structs unless they are bound.
var envBindings = []string{
	// Global
	"global.data_dir",
	"global.config_dir",
	// Logging
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	// Session
	"session.id",
	"session.snapshot_dir",
	// Extractor
	"extractor.provider",
	"extractor.api_key",
	"extractor.base_url",
	"extractor.model",
	"extractor.temperature",
	"extractor.max_tokens",
	"extractor.timeout",
	// Gateway
	"gateway.backend",
	"gateway.timeout",
	"gateway.airtable.api_key",
	"gateway.airtable.base_id",
	"gateway.airtable.table_id",
	"gateway.airtable.base_url",
	"gateway.airtable.write_score",
	"gateway.sqlite.path",
	"gateway.postgres.dsn",
	// Conversation
	"conversation.auto_persist",
	"conversation.history_limit",
	// Server
	"server.addr",
	// Events
	"events.persist",
	"events.path",
}

// legacyEnv maps keys to unprefixed variables that other tools already export.
var legacyEnv = map[string]string{
	"extractor.api_key":         "OPENAI_API_KEY",
	"gateway.airtable.api_key":  "AIRTABLE_API_KEY",
	"gateway.airtable.base_id":  "AIRTABLE_BASE_ID",
	"gateway.airtable.table_id": "AIRTABLE_TABLE_ID",
}

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with precedence
// defaults < config file < env vars < flags set through Set.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// The file is optional unless named explicitly.
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.applyEnvOverrides(cfg)
	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.Session.SnapshotDir = expandTilde(cfg.Session.SnapshotDir)
	cfg.Gateway.SQLite.Path = expandTilde(cfg.Gateway.SQLite.Path)
	cfg.Events.Path = expandTilde(cfg.Events.Path)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "bishma"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "bishma"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	v.SetDefault("session.id", cfg.Session.ID)
	v.SetDefault("session.snapshot_dir", cfg.Session.SnapshotDir)

	v.SetDefault("extractor.provider", cfg.Extractor.Provider)
	v.SetDefault("extractor.api_key", cfg.Extractor.APIKey)
	v.SetDefault("extractor.base_url", cfg.Extractor.BaseURL)
	v.SetDefault("extractor.model", cfg.Extractor.Model)
	v.SetDefault("extractor.temperature", cfg.Extractor.Temperature)
	v.SetDefault("extractor.max_tokens", cfg.Extractor.MaxTokens)
	v.SetDefault("extractor.timeout", cfg.Extractor.Timeout)

	v.SetDefault("gateway.backend", cfg.Gateway.Backend)
	v.SetDefault("gateway.timeout", cfg.Gateway.Timeout)
	v.SetDefault("gateway.airtable.api_key", cfg.Gateway.Airtable.APIKey)
	v.SetDefault("gateway.airtable.base_id", cfg.Gateway.Airtable.BaseID)
	v.SetDefault("gateway.airtable.table_id", cfg.Gateway.Airtable.TableID)
	v.SetDefault("gateway.airtable.base_url", cfg.Gateway.Airtable.BaseURL)
	v.SetDefault("gateway.airtable.write_score", cfg.Gateway.Airtable.WriteScore)
	v.SetDefault("gateway.sqlite.path", cfg.Gateway.SQLite.Path)
	v.SetDefault("gateway.postgres.dsn", cfg.Gateway.Postgres.DSN)

	v.SetDefault("conversation.auto_persist", cfg.Conversation.AutoPersist)
	v.SetDefault("conversation.history_limit", cfg.Conversation.HistoryLimit)

	v.SetDefault("server.addr", cfg.Server.Addr)

	v.SetDefault("events.persist", cfg.Events.Persist)
	v.SetDefault("events.path", cfg.Events.Path)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		if _, err := os.Stat(l.configFile); err != nil {
			return err
		}
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set overrides a key. Flags use it so they win over env and file.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Viper returns the underlying Viper instance for advanced use.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

// bindEnvVars binds BISHMA_* variables, plus the unprefixed legacy names
// as fallbacks for credentials.
func bindEnvVars(v *viper.Viper) {
	for _, key := range envBindings {
		envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if legacy, ok := legacyEnv[key]; ok {
			_ = v.BindEnv(key, envVar, legacy)
			continue
		}
		_ = v.BindEnv(key, envVar)
	}
}

// applyEnvOverrides copies string settings Viper resolved from env or flags
// back into cfg. Unmarshal drops env values for nested keys when a config
// file is present.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	v := l.v

	strs := map[string]*string{
		"global.data_dir":           &cfg.Global.DataDir,
		"global.config_dir":         &cfg.Global.ConfigDir,
		"logging.file":              &cfg.Logging.File,
		"session.id":                &cfg.Session.ID,
		"session.snapshot_dir":      &cfg.Session.SnapshotDir,
		"extractor.api_key":         &cfg.Extractor.APIKey,
		"extractor.base_url":        &cfg.Extractor.BaseURL,
		"gateway.airtable.api_key":  &cfg.Gateway.Airtable.APIKey,
		"gateway.airtable.base_id":  &cfg.Gateway.Airtable.BaseID,
		"gateway.airtable.table_id": &cfg.Gateway.Airtable.TableID,
		"gateway.airtable.base_url": &cfg.Gateway.Airtable.BaseURL,
		"gateway.sqlite.path":       &cfg.Gateway.SQLite.Path,
		"gateway.postgres.dsn":      &cfg.Gateway.Postgres.DSN,
		"events.path":               &cfg.Events.Path,
	}
	for key, dst := range strs {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}

	// Keys with non-empty defaults only override when they differ.
	if level := v.GetString("logging.level"); level != "" && level != "info" {
		cfg.Logging.Level = level
	}
	if format := v.GetString("logging.format"); format != "" && format != "console" {
		cfg.Logging.Format = format
	}
	if provider := v.GetString("extractor.provider"); provider != "" {
		cfg.Extractor.Provider = provider
	}
	if backend := v.GetString("gateway.backend"); backend != "" {
		cfg.Gateway.Backend = backend
	}
	if addr := v.GetString("server.addr"); addr != "" {
		cfg.Server.Addr = addr
	}
}
