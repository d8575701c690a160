package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/bishma/internal/models"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "openai", cfg.Extractor.Provider)
	assert.Equal(t, "sqlite", cfg.Gateway.Backend)
	assert.Equal(t, 0.7, cfg.Extractor.Temperature)
	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
	assert.True(t, cfg.Conversation.AutoPersist)
}

func TestValidateReportsEveryField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	cfg.Logging.Format = "xml"
	cfg.Extractor.Provider = "claude"
	cfg.Extractor.Temperature = 3
	cfg.Gateway.Backend = "notion"
	cfg.Gateway.Timeout = 0
	cfg.Conversation.HistoryLimit = -1
	cfg.Server.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)

	var validation *models.ValidationErrors
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, []string{
		"logging.level",
		"logging.format",
		"extractor.provider",
		"extractor.temperature",
		"gateway.backend",
		"gateway.timeout",
		"conversation.history_limit",
		"server.addr",
	}, validation.Fields())
}

func TestCheckCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.Backend = "airtable"
	cfg.Gateway.Airtable.BaseID = "app1"

	var validation *models.ValidationErrors
	require.True(t, errors.As(cfg.CheckCredentials(), &validation))
	assert.Equal(t, []string{
		"extractor.api_key",
		"gateway.airtable.api_key",
		"gateway.airtable.table_id",
	}, validation.Fields())

	cfg.Extractor.Provider = "none"
	cfg.Gateway.Backend = "postgres"
	require.True(t, errors.As(cfg.CheckCredentials(), &validation))
	assert.Equal(t, []string{"gateway.postgres.dsn"}, validation.Fields())

	cfg.Gateway.Backend = "memory"
	assert.NoError(t, cfg.CheckCredentials())
}

func TestDerivedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Global.DataDir = "/data"
	cfg.Global.ConfigDir = "/conf"

	assert.Equal(t, filepath.Join("/data", "sessions"), cfg.SnapshotDir())
	assert.Equal(t, filepath.Join("/data", "records.db"), cfg.RecordsPath())
	assert.Equal(t, filepath.Join("/data", "events.db"), cfg.EventsPath())
	assert.Equal(t, filepath.Join("/conf", "context.yaml"), cfg.ContextPath())

	cfg.Session.SnapshotDir = "/snaps"
	cfg.Gateway.SQLite.Path = "/tmp/r.db"
	cfg.Events.Path = "/tmp/e.db"
	assert.Equal(t, "/snaps", cfg.SnapshotDir())
	assert.Equal(t, "/tmp/r.db", cfg.GatewayOptions().SQLite.Path)
	assert.Equal(t, "/tmp/e.db", cfg.EventsPath())
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Global.DataDir = filepath.Join(root, "data")
	cfg.Global.ConfigDir = filepath.Join(root, "conf")

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, filepath.Join(root, "data", "sessions"))
	assert.DirExists(t, filepath.Join(root, "conf"))
}

func TestCollaboratorOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Extractor.APIKey = "sk-test"
	cfg.Gateway.Airtable = AirtableConfig{APIKey: "pat", BaseID: "app", TableID: "tbl", WriteScore: true}

	ex := cfg.ExtractorOptions()
	assert.Equal(t, "sk-test", ex.APIKey)
	assert.Equal(t, "gpt-4o", ex.Model)
	assert.Equal(t, 1000, ex.MaxTokens)

	gw := cfg.GatewayOptions()
	assert.Equal(t, "tbl", gw.Airtable.TableID)
	assert.True(t, gw.Airtable.WriteScore)
	assert.Equal(t, cfg.Gateway.Timeout, gw.Timeout)

	lc := cfg.LoggingOptions()
	assert.Equal(t, "info", lc.Level)
	assert.Equal(t, "console", lc.Format)
}
