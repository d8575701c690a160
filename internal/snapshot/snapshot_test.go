package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/bishma/internal/models"
)

func sampleDocument() *Document {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	deadline := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	score := 1800.0
	return &Document{
		SessionID: "s1",
		FocusID:   "t2",
		Backlog:   []string{"t3"},
		Tasks: map[string]models.Task{
			"t1": {
				ID:          "t1",
				Seq:         1,
				Description: "fix bug",
				Parameters:  models.Parameters{Reach: models.Float(500), Impact: models.Float(9), Confidence: models.Float(0.8), Effort: models.Float(2)},
				Completeness: models.Completeness{
					HasReach: true, HasImpact: true, HasConfidence: true, HasEffort: true, IsComplete: true,
				},
				Score:       &score,
				Metadata:    models.Metadata{Deadline: &deadline, Project: "core"},
				SyncStatus:  models.SyncStatusSynced,
				RecordID:    "rec1",
				CreatedAt:   created,
				LastUpdated: created,
			},
			"t2": {ID: "t2", Seq: 2, Description: "docs", Parameters: models.Parameters{Reach: models.Float(0)}, CreatedAt: created},
			"t3": {ID: "t3", Seq: 3, Description: "deploy", CreatedAt: created},
		},
		SavedAt: created,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(PathFor(t.TempDir(), "s1"))

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, store.Save(sampleDocument()))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, CurrentVersion, loaded.Version)
	assert.Equal(t, "t2", loaded.FocusID)
	assert.Equal(t, []string{"t3"}, loaded.Backlog)

	tasks := loaded.TaskList()
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"t1", "t2", "t3"}, []string{tasks[0].ID, tasks[1].ID, tasks[2].ID})
	assert.Equal(t, 0.8, *tasks[0].Parameters.Confidence)
	assert.Equal(t, "rec1", tasks[0].RecordID)
	require.NotNil(t, tasks[1].Parameters.Reach)
	assert.Equal(t, 0.0, *tasks[1].Parameters.Reach)
	assert.Nil(t, tasks[1].Parameters.Impact)
}

func TestFileStoreQuarantinesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks: [this is: not: valid"), 0o644))
	store := NewFileStore(path)

	doc, err := store.Load()
	assert.Nil(t, doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCorruptSnapshot))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(path + ".corrupt")
	assert.NoError(t, statErr)

	doc, err = store.Load()
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestFileStoreRejectsFutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 99\nsession_id: s1\n"), 0o644))

	_, err := NewFileStore(path).Load()
	assert.True(t, errors.Is(err, models.ErrCorruptSnapshot))
}

func TestFileStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(PathFor(dir, "s1"))
	require.NoError(t, store.Save(sampleDocument()))
	require.NoError(t, store.Save(sampleDocument()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1.yaml", entries[0].Name())

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	doc := sampleDocument()
	require.NoError(t, store.Save(doc))
	doc.FocusID = "changed"

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "t2", loaded.FocusID)
	assert.Equal(t, 1, store.Saves())

	store.SetRaw([]byte("{{{"))
	_, err = store.Load()
	assert.True(t, errors.Is(err, models.ErrCorruptSnapshot))
}
