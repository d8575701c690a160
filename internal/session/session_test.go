package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/snapshot"
)

func TestMutationsWriteSnapshot(t *testing.T) {
	snaps := snapshot.NewMemoryStore()
	s, err := Open(Options{ID: "s1", Snapshots: snaps})
	require.NoError(t, err)

	task, err := s.Store().Create("fix bug")
	require.NoError(t, err)
	assert.Equal(t, 1, snaps.Saves())

	_, err = s.Store().UpdateParameters(task.ID, models.ParameterUpdate{Reach: models.Float(500)})
	require.NoError(t, err)
	assert.Equal(t, 2, snaps.Saves())

	doc, err := snaps.Load()
	require.NoError(t, err)
	assert.Equal(t, "s1", doc.SessionID)
	require.Contains(t, doc.Tasks, task.ID)
	assert.Equal(t, 500.0, *doc.Tasks[task.ID].Parameters.Reach)
}

func TestMutateBatchesIntoOneWrite(t *testing.T) {
	snaps := snapshot.NewMemoryStore()
	s, err := Open(Options{ID: "s1", Snapshots: snaps})
	require.NoError(t, err)

	err = s.Mutate(func() error {
		a, err := s.Store().Create("a")
		if err != nil {
			return err
		}
		b, err := s.Store().Create("b")
		if err != nil {
			return err
		}
		if err := s.Focus().SetFocus(a.ID); err != nil {
			return err
		}
		s.Focus().Enqueue(b.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, snaps.Saves())

	doc, err := snaps.Load()
	require.NoError(t, err)
	assert.NotEmpty(t, doc.FocusID)
	assert.Len(t, doc.Backlog, 1)
}

func TestRestoreFromFile(t *testing.T) {
	dir := t.TempDir()
	path := snapshot.PathFor(dir, "s1")

	first, err := Open(Options{ID: "s1", Snapshots: snapshot.NewFileStore(path)})
	require.NoError(t, err)
	var focusID, queuedID string
	require.NoError(t, first.Mutate(func() error {
		a, _ := first.Store().Create("fix bug")
		b, _ := first.Store().Create("write docs")
		focusID, queuedID = a.ID, b.ID
		_, err := first.Store().UpdateParameters(a.ID, models.ParameterUpdate{
			Reach: models.Float(500), Impact: models.Float(9), Confidence: models.Float(0.8), Effort: models.Float(2),
		})
		if err != nil {
			return err
		}
		if err := first.Focus().SetFocus(a.ID); err != nil {
			return err
		}
		first.Focus().Enqueue(b.ID)
		return nil
	}))
	require.NoError(t, first.Close())

	second, err := Open(Options{ID: "s1", Snapshots: snapshot.NewFileStore(path)})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Store().Len())
	current, ok := second.Focus().Current()
	require.True(t, ok)
	assert.Equal(t, focusID, current)
	assert.Equal(t, []string{queuedID}, second.Focus().Backlog())

	restored, ok := second.Store().Get(focusID)
	require.True(t, ok)
	require.NotNil(t, restored.Score)
	assert.Equal(t, 1800.0, *restored.Score)

	next, err := second.Store().Create("third")
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Seq)
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s1.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks: [unterminated"), 0o644))

	s, err := Open(Options{ID: "s1", Snapshots: snapshot.NewFileStore(path)})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Store().Len())

	_, err = os.Stat(path + ".corrupt")
	assert.NoError(t, err)
}

func TestUnreadableSnapshotStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s1.yaml")
	require.NoError(t, os.Mkdir(path, 0o755))

	s, err := Open(Options{ID: "s1", Snapshots: snapshot.NewFileStore(path)})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Store().Len())

	info, err := os.Stat(path + ".corrupt")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = s.Store().Create("first")
	require.NoError(t, err)
	require.NoError(t, s.LastSaveError())
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestMutateRecoversDepthAfterPanic(t *testing.T) {
	snaps := snapshot.NewMemoryStore()
	s, err := Open(Options{ID: "s1", Snapshots: snaps})
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = s.Mutate(func() error { panic("boom") })
	})
	writes := snaps.Saves()
	_, err = s.Store().Create("after panic")
	require.NoError(t, err)
	assert.Equal(t, writes+1, snaps.Saves())
}

func TestDeleteTaskRemovesEverywhere(t *testing.T) {
	snaps := snapshot.NewMemoryStore()
	s, err := Open(Options{ID: "s1", Snapshots: snaps})
	require.NoError(t, err)

	a, _ := s.Store().Create("a")
	b, _ := s.Store().Create("b")
	require.NoError(t, s.Mutate(func() error {
		if err := s.Focus().SetFocus(a.ID); err != nil {
			return err
		}
		s.Focus().Enqueue(b.ID)
		return nil
	}))
	before := snaps.Saves()

	deleted, err := s.DeleteTask(b.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, before+1, snaps.Saves())
	assert.Empty(t, s.Focus().Backlog())

	deleted, err = s.DeleteTask(a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, ok := s.Focus().Current()
	assert.False(t, ok)

	deleted, err = s.DeleteTask("missing")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestResetAndClose(t *testing.T) {
	snaps := snapshot.NewMemoryStore()
	s, err := Open(Options{ID: "s1", Snapshots: snaps})
	require.NoError(t, err)
	_, _ = s.Store().Create("a")

	require.NoError(t, s.Reset())
	assert.Equal(t, 0, s.Store().Len())
	doc, err := snaps.Load()
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, s.Close())
	err = s.Mutate(func() error { return nil })
	assert.True(t, errors.Is(err, ErrClosed))
}

type failingSnapshots struct{ snapshot.MemoryStore }

func (f *failingSnapshots) Save(*snapshot.Document) error {
	return errors.New("disk full")
}

func TestSnapshotFailureDoesNotBlockMutation(t *testing.T) {
	s, err := Open(Options{ID: "s1", Snapshots: &failingSnapshots{}})
	require.NoError(t, err)

	task, err := s.Store().Create("a")
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.EqualError(t, s.LastSaveError(), "disk full")
}
