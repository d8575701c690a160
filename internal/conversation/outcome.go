package conversation

import (
	"fmt"
	"strings"

	"github.com/tOgg1/bishma/internal/extract"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/rice"
)

// Status is the result of applying one action.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusNoop     Status = "noop"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Outcome reports what happened to one action. Rejected means the action
// was invalid for the current state; failed means a collaborator call failed.
type Outcome struct {
	Action   extract.Kind `json:"action"`
	TaskID   string       `json:"task_id,omitempty"`
	Status   Status       `json:"status"`
	Message  string       `json:"message"`
	Created  bool         `json:"created,omitempty"`
	RecordID string       `json:"record_id,omitempty"`
	Subtasks []string     `json:"subtasks,omitempty"`
	Error    string       `json:"error,omitempty"`
	Err      error        `json:"-"`
}

// OK reports whether the action took effect or was a harmless no-op.
func (o Outcome) OK() bool {
	return o.Status == StatusApplied || o.Status == StatusNoop
}

// TurnResult is everything a caller needs to render one turn.
type TurnResult struct {
	Reply      string          `json:"reply"`
	Outcomes   []Outcome       `json:"outcomes,omitempty"`
	Incomplete []models.Task   `json:"incomplete"`
	Completed  []models.Task   `json:"completed,omitempty"`
	Persisted  []models.Task   `json:"persisted,omitempty"`
	Records    []models.Record `json:"records,omitempty"`
	Focus      *models.Task    `json:"focus,omitempty"`
	Error      string          `json:"error,omitempty"`
	Err        error           `json:"-"`
}

func (r *TurnResult) setErr(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// turnState accumulates outcomes while actions are applied.
type turnState struct {
	focusBefore    string
	completeBefore map[string]bool
	outcomes       []Outcome
	persisted      []models.Task
	records        []models.Record
}

func (t *turnState) add(outcome Outcome) {
	if outcome.Err != nil && outcome.Error == "" {
		outcome.Error = outcome.Err.Error()
	}
	t.outcomes = append(t.outcomes, outcome)
}

func rejected(kind extract.Kind, taskID string, err error) Outcome {
	return Outcome{
		Action:  kind,
		TaskID:  taskID,
		Status:  StatusRejected,
		Message: fmt.Sprintf("Couldn't apply %s: %v.", kind, err),
		Err:     err,
	}
}

func failed(kind extract.Kind, taskID string, err error) Outcome {
	return Outcome{
		Action:  kind,
		TaskID:  taskID,
		Status:  StatusFailed,
		Message: fmt.Sprintf("%s failed: %v.", kind, err),
		Err:     err,
	}
}

// synthesizeReply summarizes outcomes when the extractor gave no text.
func (o *Orchestrator) synthesizeReply(turn *turnState, focus *models.Task) string {
	parts := make([]string, 0, len(turn.outcomes)+1)
	for _, outcome := range turn.outcomes {
		if outcome.Message != "" {
			parts = append(parts, outcome.Message)
		}
	}
	if focus != nil && focus.ID != turn.focusBefore {
		parts = append(parts, fmt.Sprintf("Next up: %q.", focus.Description))
	}
	if len(parts) == 0 {
		return defaultReply
	}
	return strings.Join(parts, " ")
}

func describeProgress(task models.Task) string {
	if task.Completeness.IsComplete {
		return fmt.Sprintf("%q is complete with a RICE score of %.2f.", task.Description, *task.Score)
	}
	missing := rice.Missing(task.Parameters)
	names := make([]string, len(missing))
	for i, p := range missing {
		names[i] = string(p)
	}
	return fmt.Sprintf("%q still needs %s.", task.Description, strings.Join(names, ", "))
}
