// Package taskstore holds the tasks of one session in memory.
package taskstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/bishma/internal/events"
	"github.com/tOgg1/bishma/internal/logging"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/rice"
)

// ChangeHook runs after every successful mutation, outside the store lock.
type ChangeHook func(op string, taskID string)

// Store is the authoritative task map of a session. All methods are safe for
// concurrent use and return copies.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
	seq   int64

	sessionID string
	now       func() time.Time
	newID     func() string
	publisher events.Publisher
	onChange  ChangeHook
	logger    zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithPublisher publishes a store.changed event after every mutation.
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithSessionID tags published events with the owning session.
func WithSessionID(id string) Option {
	return func(s *Store) {
		s.sessionID = id
	}
}

// WithChangeHook registers the mutation callback.
func WithChangeHook(fn ChangeHook) Option {
	return func(s *Store) {
		s.onChange = fn
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		tasks:  make(map[string]*models.Task),
		now:    time.Now,
		newID:  newTaskID,
		logger: logging.Component("taskstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SetChangeHook replaces the mutation callback.
func (s *Store) SetChangeHook(fn ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Create adds a task with no parameters set.
func (s *Store) Create(description string) (models.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return models.Task{}, fmt.Errorf("%w: description is required", models.ErrInvalidParameter)
	}

	s.mu.Lock()
	now := s.now().UTC()
	s.seq++
	task := &models.Task{
		ID:          s.newID(),
		Seq:         s.seq,
		Description: description,
		SyncStatus:  models.SyncStatusNotSynced,
		CreatedAt:   now,
		LastUpdated: now,
	}
	rice.Recompute(task)
	s.tasks[task.ID] = task
	out := task.Clone()
	s.mu.Unlock()

	s.logger.Debug().Str("task_id", out.ID).Str("description", out.Description).Msg("task created")
	s.changed("create", out.ID)
	return out, nil
}

// Get returns a copy of the task with id.
func (s *Store) Get(id string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return task.Clone(), true
}

// Exists reports whether id is in the store.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[id]
	return ok
}

// IsComplete reports whether id exists and has all parameters set.
func (s *Store) IsComplete(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	return ok && task.Completeness.IsComplete
}

// UpdateParameters merges the set fields of update. An invalid update is
// rejected whole and leaves the task unchanged.
func (s *Store) UpdateParameters(id string, update models.ParameterUpdate) (models.Task, error) {
	if err := rice.ValidateUpdate(update); err != nil {
		return models.Task{}, err
	}
	return s.mutate(id, "update_parameters", func(task *models.Task) error {
		task.Parameters = rice.Merge(task.Parameters, update)
		if err := rice.CheckScore(task.Parameters); err != nil {
			return err
		}
		rice.Recompute(task)
		return nil
	})
}

// UpdateMetadata merges the set fields of update.
func (s *Store) UpdateMetadata(id string, update models.MetadataUpdate) (models.Task, error) {
	return s.mutate(id, "update_metadata", func(task *models.Task) error {
		task.Metadata = update.Apply(task.Metadata)
		return nil
	})
}

// Rename replaces the description.
func (s *Store) Rename(id, description string) (models.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return models.Task{}, fmt.Errorf("%w: description is required", models.ErrInvalidParameter)
	}
	return s.mutate(id, "rename", func(task *models.Task) error {
		task.Description = description
		return nil
	})
}

// MarkSynced records a successful remote write.
func (s *Store) MarkSynced(id, recordID string) (models.Task, error) {
	return s.mutate(id, "mark_synced", func(task *models.Task) error {
		if !task.Completeness.IsComplete {
			return models.ErrTaskIncomplete
		}
		task.SyncStatus = models.SyncStatusSynced
		if recordID != "" {
			task.RecordID = recordID
		}
		return nil
	}, markSyncedAt)
}

// MarkSplitProgress moves a split parent forward as its subtasks sync: to
// synced once every subtask is, partially synced otherwise. The parent need
// not be complete itself.
func (s *Store) MarkSplitProgress(id string, allSynced bool) (models.Task, error) {
	next := models.SyncStatusPartiallySynced
	if allSynced {
		next = models.SyncStatusSynced
	}
	return s.mutate(id, "mark_split_progress", func(task *models.Task) error {
		if task.SyncStatus.CanTransitionTo(next) {
			task.SyncStatus = next
		}
		return nil
	})
}

// mutateOption runs after fn with the mutation timestamp.
type mutateOption func(task *models.Task, now time.Time)

func markSyncedAt(task *models.Task, now time.Time) {
	task.SyncedAt = &now
}

func (s *Store) mutate(id, op string, fn func(task *models.Task) error, after ...mutateOption) (models.Task, error) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return models.Task{}, fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}

	working := task.Clone()
	if err := fn(&working); err != nil {
		s.mu.Unlock()
		return models.Task{}, err
	}
	now := s.now().UTC()
	working.LastUpdated = now
	for _, opt := range after {
		opt(&working, now)
	}
	s.tasks[id] = &working
	out := working.Clone()
	s.mu.Unlock()

	s.logger.Debug().Str("task_id", id).Str("op", op).Bool("complete", out.Completeness.IsComplete).Msg("task updated")
	s.changed(op, id)
	return out, nil
}

// Delete removes id. It returns false if the task did not exist.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.changed("delete", id)
	return true
}

// ListAll returns every task in creation order.
func (s *Store) ListAll() []models.Task {
	return s.list(func(*models.Task) bool { return true })
}

// ListComplete returns complete tasks in creation order.
func (s *Store) ListComplete() []models.Task {
	return s.list(func(t *models.Task) bool { return t.Completeness.IsComplete })
}

// ListIncomplete returns incomplete tasks in creation order.
func (s *Store) ListIncomplete() []models.Task {
	return s.list(func(t *models.Task) bool { return !t.Completeness.IsComplete })
}

// Children returns the subtasks split from parentID in creation order.
func (s *Store) Children(parentID string) []models.Task {
	return s.list(func(t *models.Task) bool { return t.Metadata.ParentID == parentID })
}

// PriorityQueue returns incomplete tasks, most parameters set first.
func (s *Store) PriorityQueue() []models.Task {
	return rice.PriorityOrder(s.ListIncomplete())
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *Store) list(keep func(*models.Task) bool) []models.Task {
	s.mu.RLock()
	out := make([]models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if keep(task) {
			out = append(out, task.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return rice.CreatedBefore(out[i], out[j]) })
	return out
}

// Restore replaces the contents with tasks. Completeness and score are
// recomputed from the parameters; invalid tasks are skipped and reported.
func (s *Store) Restore(tasks []models.Task) error {
	validation := &models.ValidationErrors{}
	restored := make(map[string]*models.Task, len(tasks))
	var maxSeq int64

	for _, t := range tasks {
		task := t.Clone()
		if err := rice.ValidateUpdate(models.ParameterUpdate(task.Parameters)); err != nil {
			validation.Add(task.ID, err)
			continue
		}
		rice.Recompute(&task)
		if task.SyncStatus == "" {
			task.SyncStatus = models.SyncStatusNotSynced
		}
		if err := task.Validate(); err != nil {
			validation.Add(task.ID, err)
			continue
		}
		if task.Seq > maxSeq {
			maxSeq = task.Seq
		}
		restored[task.ID] = &task
	}

	// Tasks without a sequence get one after the highest restored value, in
	// creation-time order.
	var unsequenced []*models.Task
	for _, task := range restored {
		if task.Seq == 0 {
			unsequenced = append(unsequenced, task)
		}
	}
	sort.Slice(unsequenced, func(i, j int) bool {
		if !unsequenced[i].CreatedAt.Equal(unsequenced[j].CreatedAt) {
			return unsequenced[i].CreatedAt.Before(unsequenced[j].CreatedAt)
		}
		return unsequenced[i].ID < unsequenced[j].ID
	})
	for _, task := range unsequenced {
		maxSeq++
		task.Seq = maxSeq
	}

	s.mu.Lock()
	s.tasks = restored
	s.seq = maxSeq
	s.mu.Unlock()

	s.changed("restore", "")
	return validation.Err()
}

// Clear removes every task.
func (s *Store) Clear() {
	s.mu.Lock()
	s.tasks = make(map[string]*models.Task)
	s.seq = 0
	s.mu.Unlock()
	s.changed("clear", "")
}

func (s *Store) changed(op, taskID string) {
	s.mu.RLock()
	hook := s.onChange
	payload := models.StoreChangedPayload{TaskCount: len(s.tasks), Op: op, TaskID: taskID}
	for _, task := range s.tasks {
		if task.Completeness.IsComplete {
			payload.CompleteCount++
		} else {
			payload.IncompleteCount++
		}
	}
	s.mu.RUnlock()

	if hook != nil {
		hook(op, taskID)
	}
	if s.publisher != nil {
		event := events.NewEvent(models.EventTypeStoreChanged, models.EntityTypeSession, s.sessionID, payload)
		s.publisher.PublishAsync(context.Background(), events.WithSession(event, s.sessionID))
	}
}
