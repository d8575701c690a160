package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes events in the system.
type EventType string

const (
	// Task events
	EventTypeTaskCreated         EventType = "task.created"
	EventTypeTaskUpdated         EventType = "task.updated"
	EventTypeTaskCompleted       EventType = "task.completed"
	EventTypeTaskSplit           EventType = "task.split"
	EventTypeTaskDeleted         EventType = "task.deleted"
	EventTypeTaskSynced          EventType = "task.synced"
	EventTypeTaskSyncFailed      EventType = "task.sync_failed"
	EventTypeTaskPartiallySynced EventType = "task.partially_synced"

	// Focus events
	EventTypeFocusChanged EventType = "focus.changed"

	// Store events
	EventTypeStoreChanged EventType = "store.changed"

	// Session events
	EventTypeSessionRestored EventType = "session.restored"
	EventTypeSessionReset    EventType = "session.reset"

	// Turn events
	EventTypeTurnProcessed EventType = "turn.processed"
	EventTypeTurnFailed    EventType = "turn.failed"

	// System events
	EventTypeError   EventType = "error"
	EventTypeWarning EventType = "warning"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeTask    EntityType = "task"
	EntityTypeSession EntityType = "session"
	EntityTypeSystem  EntityType = "system"
)

// Event represents an append-only log entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StoreChangedPayload is the payload for store.changed events.
type StoreChangedPayload struct {
	TaskCount       int    `json:"task_count"`
	CompleteCount   int    `json:"complete_count"`
	IncompleteCount int    `json:"incomplete_count"`
	Op              string `json:"op"`
	TaskID          string `json:"task_id,omitempty"`
}

// FocusChangedPayload is the payload for focus.changed events.
type FocusChangedPayload struct {
	OldFocusID string `json:"old_focus_id,omitempty"`
	NewFocusID string `json:"new_focus_id,omitempty"`
	Reason     string `json:"reason"`
}

// TaskSyncedPayload is the payload for task.synced events.
type TaskSyncedPayload struct {
	RecordID string  `json:"record_id"`
	Score    float64 `json:"score"`
	Gateway  string  `json:"gateway"`
}

// TaskSplitPayload is the payload for task.split events.
type TaskSplitPayload struct {
	SubtaskIDs []string `json:"subtask_ids"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}
