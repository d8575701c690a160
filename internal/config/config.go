// Package config handles bishma configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tOgg1/bishma/internal/extract"
	"github.com/tOgg1/bishma/internal/gateway"
	"github.com/tOgg1/bishma/internal/logging"
	"github.com/tOgg1/bishma/internal/models"
)

// Config is the root configuration structure.
type Config struct {
	Global       GlobalConfig       `yaml:"global" mapstructure:"global"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Session      SessionConfig      `yaml:"session" mapstructure:"session"`
	Extractor    ExtractorConfig    `yaml:"extractor" mapstructure:"extractor"`
	Gateway      GatewayConfig      `yaml:"gateway" mapstructure:"gateway"`
	Conversation ConversationConfig `yaml:"conversation" mapstructure:"conversation"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Events       EventsConfig       `yaml:"events" mapstructure:"events"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where bishma stores its data (default: ~/.local/share/bishma).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/bishma).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// SessionConfig selects the session and where its snapshots live.
type SessionConfig struct {
	// ID pins the session. Empty means the current session from the context
	// file, or a new one.
	ID string `yaml:"id" mapstructure:"id"`

	// SnapshotDir holds one YAML snapshot per session (default: DataDir/sessions).
	SnapshotDir string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
}

// ExtractorConfig configures the language model extractor.
type ExtractorConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// GatewayConfig configures the record store.
type GatewayConfig struct {
	// Backend is one of airtable, sqlite, postgres, memory, none.
	Backend  string         `yaml:"backend" mapstructure:"backend"`
	Timeout  time.Duration  `yaml:"timeout" mapstructure:"timeout"`
	Airtable AirtableConfig `yaml:"airtable" mapstructure:"airtable"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// AirtableConfig contains Airtable credentials and table location.
type AirtableConfig struct {
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	BaseID     string `yaml:"base_id" mapstructure:"base_id"`
	TableID    string `yaml:"table_id" mapstructure:"table_id"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	WriteScore bool   `yaml:"write_score" mapstructure:"write_score"`
}

// SQLiteConfig configures the sqlite record store.
type SQLiteConfig struct {
	// Path is the database file (default: DataDir/records.db).
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig configures the postgres record store.
type PostgresConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// ConversationConfig contains orchestrator policy.
type ConversationConfig struct {
	// AutoPersist writes tasks as soon as they become complete.
	AutoPersist bool `yaml:"auto_persist" mapstructure:"auto_persist"`

	// HistoryLimit caps the turns sent to the extractor. Zero sends all.
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// EventsConfig controls the event log.
type EventsConfig struct {
	// Persist stores events in the local sqlite database.
	Persist bool `yaml:"persist" mapstructure:"persist"`

	// Path is the event database file (default: DataDir/events.db).
	Path string `yaml:"path" mapstructure:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "bishma"),
			ConfigDir: filepath.Join(homeDir, ".config", "bishma"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Extractor: ExtractorConfig{
			Provider:    extract.ProviderOpenAI,
			Model:       "gpt-4o",
			Temperature: 0.7,
			MaxTokens:   1000,
			Timeout:     60 * time.Second,
		},
		Gateway: GatewayConfig{
			Backend: gateway.BackendSQLite,
			Timeout: 30 * time.Second,
		},
		Conversation: ConversationConfig{
			AutoPersist:  true,
			HistoryLimit: 40,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8420",
		},
	}
}

// Validate checks the configuration and reports every bad field.
func (c *Config) Validate() error {
	validation := &models.ValidationErrors{}

	if !logging.ValidLevel(c.Logging.Level) {
		validation.AddMessage("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		validation.AddMessage("logging.format", "must be json or console")
	}

	switch c.Extractor.Provider {
	case extract.ProviderOpenAI, extract.ProviderNone:
	default:
		validation.AddMessage("extractor.provider", "must be openai or none")
	}
	if c.Extractor.Temperature < 0 || c.Extractor.Temperature > 2 {
		validation.AddMessage("extractor.temperature", "must be between 0 and 2")
	}
	if c.Extractor.MaxTokens < 0 {
		validation.AddMessage("extractor.max_tokens", "must not be negative")
	}
	if c.Extractor.Timeout < time.Second {
		validation.AddMessage("extractor.timeout", "must be at least 1s")
	}

	switch c.Gateway.Backend {
	case gateway.BackendAirtable, gateway.BackendSQLite, gateway.BackendPostgres, gateway.BackendMemory, gateway.BackendNone:
	default:
		validation.AddMessage("gateway.backend", "must be one of airtable, sqlite, postgres, memory, none")
	}
	if c.Gateway.Timeout < time.Second {
		validation.AddMessage("gateway.timeout", "must be at least 1s")
	}

	if c.Conversation.HistoryLimit < 0 {
		validation.AddMessage("conversation.history_limit", "must not be negative")
	}
	if c.Server.Addr == "" {
		validation.AddMessage("server.addr", "is required")
	}

	return validation.Err()
}

// CheckCredentials reports missing credentials for the selected backends.
// Load doesn't call it so commands that never reach a collaborator still run.
func (c *Config) CheckCredentials() error {
	validation := &models.ValidationErrors{}
	if c.Extractor.Provider == extract.ProviderOpenAI && c.Extractor.APIKey == "" {
		validation.AddMessage("extractor.api_key", "is required for provider openai")
	}
	switch c.Gateway.Backend {
	case gateway.BackendAirtable:
		if c.Gateway.Airtable.APIKey == "" {
			validation.AddMessage("gateway.airtable.api_key", "is required")
		}
		if c.Gateway.Airtable.BaseID == "" {
			validation.AddMessage("gateway.airtable.base_id", "is required")
		}
		if c.Gateway.Airtable.TableID == "" {
			validation.AddMessage("gateway.airtable.table_id", "is required")
		}
	case gateway.BackendPostgres:
		if c.Gateway.Postgres.DSN == "" {
			validation.AddMessage("gateway.postgres.dsn", "is required")
		}
	}
	return validation.Err()
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
		c.SnapshotDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// SnapshotDir returns the session snapshot directory.
func (c *Config) SnapshotDir() string {
	if c.Session.SnapshotDir != "" {
		return c.Session.SnapshotDir
	}
	return filepath.Join(c.Global.DataDir, "sessions")
}

// RecordsPath returns the sqlite record store path.
func (c *Config) RecordsPath() string {
	if c.Gateway.SQLite.Path != "" {
		return c.Gateway.SQLite.Path
	}
	return filepath.Join(c.Global.DataDir, "records.db")
}

// EventsPath returns the event log database path.
func (c *Config) EventsPath() string {
	if c.Events.Path != "" {
		return c.Events.Path
	}
	return filepath.Join(c.Global.DataDir, "events.db")
}

// ContextPath returns the current-session context file path.
func (c *Config) ContextPath() string {
	return filepath.Join(c.Global.ConfigDir, "context.yaml")
}

// GatewayOptions converts the gateway section for gateway.Registry.Open.
func (c *Config) GatewayOptions() gateway.Config {
	return gateway.Config{
		Timeout: c.Gateway.Timeout,
		Airtable: gateway.AirtableConfig{
			APIKey:     c.Gateway.Airtable.APIKey,
			BaseID:     c.Gateway.Airtable.BaseID,
			TableID:    c.Gateway.Airtable.TableID,
			BaseURL:    c.Gateway.Airtable.BaseURL,
			WriteScore: c.Gateway.Airtable.WriteScore,
		},
		SQLite:   gateway.SQLiteConfig{Path: c.RecordsPath()},
		Postgres: gateway.PostgresConfig{DSN: c.Gateway.Postgres.DSN},
	}
}

// ExtractorOptions converts the extractor section for extract.New.
func (c *Config) ExtractorOptions() extract.Config {
	return extract.Config{
		Provider:    c.Extractor.Provider,
		APIKey:      c.Extractor.APIKey,
		BaseURL:     c.Extractor.BaseURL,
		Model:       c.Extractor.Model,
		Temperature: c.Extractor.Temperature,
		MaxTokens:   c.Extractor.MaxTokens,
		Timeout:     c.Extractor.Timeout,
	}
}

// LoggingOptions converts the logging section for logging.Init. The caller
// opens the log file, if any.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:        c.Logging.Level,
		Format:       c.Logging.Format,
		EnableCaller: c.Logging.EnableCaller,
	}
}
