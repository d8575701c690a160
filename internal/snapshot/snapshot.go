// Package snapshot persists a session's tasks, focus and backlog locally so a
// restarted process can pick up where it left off.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tOgg1/bishma/internal/models"
)

// CurrentVersion is written into every document.
const CurrentVersion = 1

// Document is the on-disk shape of a snapshot.
type Document struct {
	Version   int                    `yaml:"version"`
	SessionID string                 `yaml:"session_id"`
	FocusID   string                 `yaml:"focus_id,omitempty"`
	Backlog   []string               `yaml:"backlog,omitempty"`
	Tasks     map[string]models.Task `yaml:"tasks"`
	SavedAt   time.Time              `yaml:"saved_at"`
}

// TaskList returns the tasks in creation order.
func (d *Document) TaskList() []models.Task {
	out := make([]models.Task, 0, len(d.Tasks))
	for id, task := range d.Tasks {
		if task.ID == "" {
			task.ID = id
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Store loads and saves snapshot documents.
type Store interface {
	// Load returns nil and no error when nothing has been saved yet.
	Load() (*Document, error)
	Save(doc *Document) error
	Clear() error
}

// FileStore keeps one YAML document per session on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore stores the snapshot at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// PathFor returns the snapshot path of a session inside dir.
func PathFor(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".yaml")
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. A document that cannot be read or decoded is
// moved aside to "<path>.corrupt" where possible and reported with
// models.ErrCorruptSnapshot.
func (s *FileStore) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, s.quarantine(fmt.Errorf("read snapshot: %w", err))
	}

	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, s.quarantine(err)
	}
	if doc.Version > CurrentVersion {
		return nil, s.quarantine(fmt.Errorf("unsupported version %d", doc.Version))
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]models.Task)
	}
	return doc, nil
}

func (s *FileStore) quarantine(cause error) error {
	aside := s.path + ".corrupt"
	if err := os.Rename(s.path, aside); err != nil {
		return fmt.Errorf("%w: %v (could not move aside: %v)", models.ErrCorruptSnapshot, cause, err)
	}
	return fmt.Errorf("%w: %v (moved to %s)", models.ErrCorruptSnapshot, cause, aside)
}

// Save writes doc atomically through a temp file and rename.
func (s *FileStore) Save(doc *Document) error {
	if doc == nil {
		return errors.New("snapshot document is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	doc.Version = CurrentVersion
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Clear removes the snapshot file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

// MemoryStore keeps the last saved document in memory.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load decodes the last saved document.
func (m *MemoryStore) Load() (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	doc := &Document{}
	if err := yaml.Unmarshal(m.data, doc); err != nil {
		m.data = nil
		return nil, fmt.Errorf("%w: %v", models.ErrCorruptSnapshot, err)
	}
	return doc, nil
}

// Save encodes doc so later mutations by the caller are not observed.
func (m *MemoryStore) Save(doc *Document) error {
	doc.Version = CurrentVersion
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

// Clear drops the stored document.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// SetRaw replaces the stored bytes. Used to simulate damaged snapshots.
func (m *MemoryStore) SetRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
}
