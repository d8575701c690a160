// Package session binds a task store, focus manager and snapshot together
// for one conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/bishma/internal/events"
	"github.com/tOgg1/bishma/internal/focus"
	"github.com/tOgg1/bishma/internal/logging"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/snapshot"
	"github.com/tOgg1/bishma/internal/taskstore"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Options configures Open.
type Options struct {
	// ID identifies the session. A new id is generated when empty.
	ID string

	// Snapshots persists state between runs. Defaults to an in-memory store.
	Snapshots snapshot.Store

	// Publisher receives store and session events. Optional.
	Publisher events.Publisher

	// Now overrides the clock.
	Now func() time.Time

	// TaskIDs overrides task id generation.
	TaskIDs func() string
}

// Session owns the mutable state of one conversation. Every mutation is
// followed by a snapshot write; Mutate groups several mutations into one.
type Session struct {
	id        string
	store     *taskstore.Store
	focus     *focus.Manager
	snapshots snapshot.Store
	publisher events.Publisher
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	depth   int
	dirty   bool
	closed  bool
	saveErr error
	saves   int
}

// Open creates a session and restores any snapshot saved under its id. A
// damaged snapshot is reported in the log and the session starts empty.
func Open(opts Options) (*Session, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	snaps := opts.Snapshots
	if snaps == nil {
		snaps = snapshot.NewMemoryStore()
	}

	s := &Session{
		id:        id,
		snapshots: snaps,
		publisher: opts.Publisher,
		now:       now,
		logger:    logging.WithSession(id).With().Str("component", "session").Logger(),
	}

	storeOpts := []taskstore.Option{
		taskstore.WithNow(now),
		taskstore.WithSessionID(id),
		taskstore.WithChangeHook(s.onStoreChange),
	}
	if opts.Publisher != nil {
		storeOpts = append(storeOpts, taskstore.WithPublisher(opts.Publisher))
	}
	if opts.TaskIDs != nil {
		storeOpts = append(storeOpts, taskstore.WithIDGenerator(opts.TaskIDs))
	}
	s.store = taskstore.New(storeOpts...)
	s.focus = focus.New(s.store)

	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) restore() error {
	doc, err := s.snapshots.Load()
	if err != nil {
		if errors.Is(err, models.ErrCorruptSnapshot) {
			s.logger.Warn().Err(err).Msg("snapshot unreadable, starting empty")
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}
	if doc == nil {
		return nil
	}

	// Restore without writing back what was just read.
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
	if err := s.store.Restore(doc.TaskList()); err != nil {
		s.logger.Warn().Err(err).Msg("skipped invalid tasks in snapshot")
	}
	s.focus.Restore(focus.State{FocusID: doc.FocusID, Backlog: doc.Backlog})
	s.mu.Lock()
	s.depth--
	s.dirty = false
	s.mu.Unlock()

	s.logger.Info().Int("tasks", s.store.Len()).Str("focus", doc.FocusID).Msg("session restored")
	s.publish(events.NewEvent(models.EventTypeSessionRestored, models.EntityTypeSession, s.id, nil))
	return nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Store returns the task store.
func (s *Session) Store() *taskstore.Store {
	return s.store
}

// Focus returns the focus manager.
func (s *Session) Focus() *focus.Manager {
	return s.focus
}

// Publisher returns the configured publisher, which may be nil.
func (s *Session) Publisher() events.Publisher {
	return s.publisher
}

// Mutate runs fn with snapshot writes deferred and writes a single snapshot
// afterwards. Focus changes made inside fn are captured too.
func (s *Session) Mutate(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.depth++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.depth--
		s.dirty = true
		flush := s.depth == 0
		s.mu.Unlock()
		if flush {
			s.flush()
		}
	}()
	return fn()
}

func (s *Session) onStoreChange(op, taskID string) {
	s.mu.Lock()
	if s.depth > 0 || s.closed {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.dirty = true
	s.mu.Unlock()
	s.flush()
}

// flush writes a snapshot if anything changed since the last write.
func (s *Session) flush() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	s.mu.Unlock()

	err := s.snapshots.Save(s.Document())

	s.mu.Lock()
	s.saveErr = err
	if err == nil {
		s.saves++
	}
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot write failed")
	}
}

// Document captures the current state as a snapshot document.
func (s *Session) Document() *snapshot.Document {
	tasks := s.store.ListAll()
	state := s.focus.State()
	doc := &snapshot.Document{
		Version:   snapshot.CurrentVersion,
		SessionID: s.id,
		FocusID:   state.FocusID,
		Backlog:   state.Backlog,
		Tasks:     make(map[string]models.Task, len(tasks)),
		SavedAt:   s.now().UTC(),
	}
	for _, task := range tasks {
		doc.Tasks[task.ID] = task
	}
	return doc
}

// LastSaveError returns the error of the most recent snapshot write.
func (s *Session) LastSaveError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}

// SnapshotWrites counts successful snapshot writes.
func (s *Session) SnapshotWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// DeleteTask removes a task from the store, backlog and focus with a single
// snapshot write.
func (s *Session) DeleteTask(id string) (bool, error) {
	var deleted bool
	err := s.Mutate(func() error {
		s.focus.Forget(id)
		deleted = s.store.Delete(id)
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.publish(events.NewEvent(models.EventTypeTaskDeleted, models.EntityTypeTask, id, nil))
	}
	return deleted, nil
}

// Reset drops every task, the focus and the backlog, and removes the snapshot.
func (s *Session) Reset() error {
	err := s.Mutate(func() error {
		s.focus.Reset()
		s.store.Clear()
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.snapshots.Clear(); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	s.publish(events.NewEvent(models.EventTypeSessionReset, models.EntityTypeSession, s.id, nil))
	s.logger.Info().Msg("session reset")
	return nil
}

// Publish sends event tagged with this session, if a publisher is set.
func (s *Session) Publish(event *models.Event) {
	s.publish(event)
}

func (s *Session) publish(event *models.Event) {
	if s.publisher == nil || event == nil {
		return
	}
	s.publisher.PublishAsync(context.Background(), events.WithSession(event, s.id))
}

// Close writes a final snapshot. Later mutations through Mutate fail.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.dirty = true
	s.mu.Unlock()

	s.flush()

	s.mu.Lock()
	s.closed = true
	err := s.saveErr
	s.mu.Unlock()
	return err
}
