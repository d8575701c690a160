package extract

import (
	"fmt"
	"strings"

	"github.com/tOgg1/bishma/internal/models"
)

// Kind names an action. The values match the tool names offered to the model.
type Kind string

const (
	KindCreateOrUpdate Kind = "update_task_state"
	KindRequestPersist Kind = "write_to_airtable"
	KindRequestRead    Kind = "read_from_airtable"
	KindSplit          Kind = "split_task"
)

// Action is one structured instruction produced by the extractor. The set of
// implementations is closed: CreateOrUpdate, RequestPersist, RequestRead and
// Split.
type Action interface {
	Kind() Kind
	action()
}

// CreateOrUpdate creates a task when TaskID is empty, otherwise updates it.
// A Description on an existing task renames it.
type CreateOrUpdate struct {
	TaskID      string                 `json:"task_id,omitempty"`
	Description string                 `json:"description,omitempty"`
	Params      models.ParameterUpdate `json:"params"`
	Metadata    models.MetadataUpdate  `json:"metadata"`
}

// RequestPersist asks for a complete task to be written to the record store.
type RequestPersist struct {
	TaskID string `json:"task_id"`
}

// RequestRead asks for records from the record store. It never changes state.
type RequestRead struct {
	Filter models.RecordFilter `json:"filter"`
}

// Split breaks a task into subtasks. The parent is kept.
type Split struct {
	ParentID string   `json:"parent_id"`
	Subtasks []string `json:"subtasks"`
}

func (CreateOrUpdate) Kind() Kind { return KindCreateOrUpdate }
func (RequestPersist) Kind() Kind { return KindRequestPersist }
func (RequestRead) Kind() Kind    { return KindRequestRead }
func (Split) Kind() Kind          { return KindSplit }

func (CreateOrUpdate) action() {}
func (RequestPersist) action() {}
func (RequestRead) action()    {}
func (Split) action()          {}

// IsCreate reports whether the action creates a new task.
func (a CreateOrUpdate) IsCreate() bool {
	return a.TaskID == ""
}

// Validate checks the fields the orchestrator relies on.
func Validate(a Action) error {
	validation := &models.ValidationErrors{}
	switch act := a.(type) {
	case CreateOrUpdate:
		if act.TaskID == "" && strings.TrimSpace(act.Description) == "" {
			validation.AddMessage("task_description", "task_id or task_description is required")
		}
	case RequestPersist:
		if strings.TrimSpace(act.TaskID) == "" {
			validation.AddMessage("task_id", "task_id is required")
		}
	case RequestRead:
		if act.Filter.SortBy != "" && !act.Filter.SortBy.Valid() {
			validation.AddMessage("sort_by", "unknown sort field "+string(act.Filter.SortBy))
		}
		if act.Filter.Limit < 0 {
			validation.AddMessage("limit", "limit must be positive")
		}
	case Split:
		if strings.TrimSpace(act.ParentID) == "" {
			validation.AddMessage("parent_task_id", "parent_task_id is required")
		}
		if len(act.Subtasks) == 0 {
			validation.AddMessage("subtasks", "at least one subtask is required")
		}
		for i, desc := range act.Subtasks {
			if strings.TrimSpace(desc) == "" {
				validation.AddMessage("subtasks", fmt.Sprintf("subtask %d is empty", i))
			}
		}
	case nil:
		validation.AddMessage("action", "action is nil")
	default:
		validation.AddMessage("action", "unknown action")
	}
	if err := validation.Err(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidAction, err)
	}
	return nil
}
