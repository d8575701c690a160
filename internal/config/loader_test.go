package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points HOME and XDG at a temp dir and clears every variable
// the loader reads.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, key := range envBindings {
		t.Setenv(EnvPrefix+"_"+envSuffix(key), "")
	}
	for _, legacy := range legacyEnv {
		t.Setenv(legacy, "")
	}
	return home
}

func envSuffix(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r == '.':
			out = append(out, '_')
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolateEnv(t)

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "bishma"), cfg.Global.DataDir)
	assert.Equal(t, "sqlite", cfg.Gateway.Backend)
	assert.Equal(t, 60*time.Second, cfg.Extractor.Timeout)
	assert.Empty(t, cfg.Extractor.APIKey)
}

func TestLoadFromXDGFile(t *testing.T) {
	home := isolateEnv(t)
	writeConfig(t, filepath.Join(home, ".config", "bishma"), `
gateway:
  backend: memory
  timeout: 5s
extractor:
  model: gpt-4o-mini
  temperature: 0.2
conversation:
  auto_persist: false
  history_limit: 12
session:
  snapshot_dir: ~/snaps
`)

	loader := NewLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "bishma", "config.yaml"), loader.ConfigFileUsed())
	assert.Equal(t, "memory", cfg.Gateway.Backend)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "gpt-4o-mini", cfg.Extractor.Model)
	assert.Equal(t, 0.2, cfg.Extractor.Temperature)
	assert.False(t, cfg.Conversation.AutoPersist)
	assert.Equal(t, 12, cfg.Conversation.HistoryLimit)
	assert.Equal(t, filepath.Join(home, "snaps"), cfg.SnapshotDir())
}

func TestEnvBeatsFile(t *testing.T) {
	home := isolateEnv(t)
	path := writeConfig(t, filepath.Join(home, "custom"), `
gateway:
  backend: memory
  postgres:
    dsn: postgres://file
logging:
  level: warn
`)
	t.Setenv("BISHMA_GATEWAY_BACKEND", "postgres")
	t.Setenv("BISHMA_GATEWAY_POSTGRES_DSN", "postgres://env")
	t.Setenv("BISHMA_LOGGING_LEVEL", "debug")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Gateway.Backend)
	assert.Equal(t, "postgres://env", cfg.Gateway.Postgres.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLegacyCredentialEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("AIRTABLE_BASE_ID", "appLegacy")

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy", cfg.Extractor.APIKey)
	assert.Equal(t, "appLegacy", cfg.Gateway.Airtable.BaseID)

	t.Setenv("BISHMA_EXTRACTOR_API_KEY", "sk-primary")
	cfg, err = LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "sk-primary", cfg.Extractor.APIKey)
}

func TestSetBeatsEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("BISHMA_SESSION_ID", "from-env")

	loader := NewLoader()
	loader.Set("session.id", "from-flag")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Session.ID)
}

func TestLoadErrors(t *testing.T) {
	home := isolateEnv(t)

	_, err := LoadFromFile(filepath.Join(home, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")

	path := writeConfig(t, filepath.Join(home, "bad"), "gateway:\n  backend: notion\n")
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.backend")
}

func TestExpandTilde(t *testing.T) {
	home := isolateEnv(t)
	assert.Equal(t, "", expandTilde(""))
	assert.Equal(t, home, expandTilde("~"))
	assert.Equal(t, filepath.Join(home, "x", "y"), expandTilde("~/x/y"))
	assert.Equal(t, "/abs/~", expandTilde("/abs/~"))
}
