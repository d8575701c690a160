package conversation

import (
	"context"
	"fmt"

	"github.com/tOgg1/bishma/internal/extract"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/rice"
)

// State is a read-only view of the session.
type State struct {
	SessionID     string        `json:"session_id"`
	Focus         *models.Task  `json:"focus,omitempty"`
	Backlog       []string      `json:"backlog"`
	Incomplete    []models.Task `json:"incomplete"`
	Complete      []models.Task `json:"complete"`
	PriorityQueue []models.Task `json:"priority_queue"`
	Digest        string        `json:"digest"`
}

// State returns the current session state. It does not wait for a running
// turn.
func (o *Orchestrator) State() State {
	store := o.session.Store()
	st := State{
		SessionID:     o.session.ID(),
		Backlog:       o.session.Focus().Backlog(),
		Incomplete:    store.ListIncomplete(),
		Complete:      store.ListComplete(),
		PriorityQueue: store.PriorityQueue(),
	}
	if id, ok := o.session.Focus().Current(); ok {
		if task, ok := store.Get(id); ok {
			st.Focus = &task
		}
	}
	st.Digest = extract.BuildDigest(st.SessionID, st.Focus, store.ListAll())
	return st
}

// History returns a copy of the conversation so far.
func (o *Orchestrator) History() []models.Turn {
	o.historyMu.RLock()
	defer o.historyMu.RUnlock()
	return append([]models.Turn(nil), o.history...)
}

// Progress describes how far one task is from being complete.
type Progress struct {
	Task     models.Task        `json:"task"`
	Missing  []models.ParamName `json:"missing"`
	Progress float64            `json:"progress"`
	Score    *float64           `json:"score,omitempty"`
	CanSync  bool               `json:"can_sync"`
	Stale    bool               `json:"stale"`
}

// Progress reports the completion state of task id.
func (o *Orchestrator) Progress(id string) (Progress, error) {
	task, ok := o.session.Store().Get(id)
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	return Progress{
		Task:     task,
		Missing:  rice.Missing(task.Parameters),
		Progress: rice.Progress(task.Parameters),
		Score:    task.Score,
		CanSync:  task.Completeness.IsComplete && !task.IsSynced(),
		Stale:    task.Stale(),
	}, nil
}

// ForceSync persists one task outside a turn. Persisting a task that is
// already synced is a no-op and returns no error.
func (o *Orchestrator) ForceSync(ctx context.Context, id string) (Outcome, error) {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	before := o.currentFocus()
	var outcome Outcome
	if err := o.session.Mutate(func() error {
		outcome = o.persist(ctx, nil, id)
		return nil
	}); err != nil {
		return Outcome{}, err
	}
	o.publishFocusChange(before, "sync")
	if outcome.Err != nil && outcome.Error == "" {
		outcome.Error = outcome.Err.Error()
	}
	return outcome, outcome.Err
}

// Resync pushes the current fields of a synced task to its record.
func (o *Orchestrator) Resync(ctx context.Context, id string) error {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	store := o.session.Store()
	task, ok := store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	if !task.IsSynced() || task.RecordID == "" {
		return fmt.Errorf("%w: task %s has no record to update", models.ErrInvalidParameter, id)
	}

	gctx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
	err := o.gateway.UpdateRecord(gctx, task.RecordID, models.FieldsFromTask(task))
	cancel()
	if err != nil {
		return fmt.Errorf("update record %s: %w", task.RecordID, err)
	}

	if _, err := store.MarkSynced(id, task.RecordID); err != nil {
		return err
	}
	o.logger.Info().Str("task_id", id).Str("record_id", task.RecordID).Msg("task resynced")
	return nil
}

// DeleteTask removes a task locally and, when remote is set, deletes its
// record first. A failed remote delete leaves the task in place.
func (o *Orchestrator) DeleteTask(ctx context.Context, id string, remote bool) error {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	task, ok := o.session.Store().Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	if remote && task.RecordID != "" {
		gctx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
		err := o.gateway.DeleteRecord(gctx, task.RecordID)
		cancel()
		if err != nil {
			return fmt.Errorf("delete record %s: %w", task.RecordID, err)
		}
	}

	before := o.currentFocus()
	if _, err := o.session.DeleteTask(id); err != nil {
		return err
	}
	o.publishFocusChange(before, "delete")
	return nil
}

// Connections reports which collaborators are reachable.
type Connections struct {
	Extractor bool   `json:"extractor"`
	Gateway   bool   `json:"gateway"`
	Backend   string `json:"backend"`
}

// TestConnections checks the extractor and gateway.
func (o *Orchestrator) TestConnections(ctx context.Context) Connections {
	conns := Connections{Backend: o.gateway.Name()}
	gctx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
	conns.Gateway = o.gateway.TestConnection(gctx)
	cancel()

	if checker, ok := o.extractor.(extract.Checker); ok {
		ectx, cancel := context.WithTimeout(ctx, o.extractorTimeout)
		conns.Extractor = checker.TestConnection(ectx)
		cancel()
	} else {
		conns.Extractor = true
	}
	return conns
}

// Reset clears the history and every task in the session.
func (o *Orchestrator) Reset() error {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	if err := o.session.Reset(); err != nil {
		return err
	}
	o.historyMu.Lock()
	o.history = nil
	o.historyMu.Unlock()
	return nil
}
