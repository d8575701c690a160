package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/tOgg1/bishma/internal/events"
	"github.com/tOgg1/bishma/internal/extract"
	"github.com/tOgg1/bishma/internal/logging"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/rice"
)

// apply runs one action. Failures are recorded as outcomes and never stop
// the remaining actions.
func (o *Orchestrator) apply(ctx context.Context, turn *turnState, action extract.Action) {
	if err := extract.Validate(action); err != nil {
		kind := extract.Kind("unknown")
		if action != nil {
			kind = action.Kind()
		}
		turn.add(rejected(kind, "", err))
		return
	}

	switch act := action.(type) {
	case extract.CreateOrUpdate:
		o.applyUpdate(ctx, turn, act)
	case extract.RequestPersist:
		turn.add(o.persist(ctx, turn, act.TaskID))
	case extract.RequestRead:
		o.applyRead(ctx, turn, act)
	case extract.Split:
		o.applySplit(turn, act)
	}
}

func (o *Orchestrator) applyUpdate(ctx context.Context, turn *turnState, act extract.CreateOrUpdate) {
	store := o.session.Store()
	kind := act.Kind()
	id := act.TaskID
	created := false

	if act.IsCreate() {
		// A rejected create must not leave a task behind.
		if err := validateNewParams(act.Params); err != nil {
			turn.add(rejected(kind, "", err))
			return
		}
		task, err := store.Create(act.Description)
		if err != nil {
			turn.add(rejected(kind, "", err))
			return
		}
		id = task.ID
		created = true
		o.placeNewTask(id)
		o.session.Publish(events.NewEvent(models.EventTypeTaskCreated, models.EntityTypeTask, id, nil))
	} else if !store.Exists(id) {
		turn.add(rejected(kind, id, fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)))
		return
	}

	wasComplete := store.IsComplete(id)
	task, _ := store.Get(id)
	var updateErr error

	if !act.Params.IsEmpty() {
		updated, err := store.UpdateParameters(id, act.Params)
		if err != nil {
			updateErr = err
		} else {
			task = updated
		}
	}
	if updateErr == nil && !act.Metadata.IsEmpty() {
		updated, err := store.UpdateMetadata(id, act.Metadata)
		if err != nil {
			updateErr = err
		} else {
			task = updated
		}
	}
	if updateErr == nil && !created && act.Description != "" && act.Description != task.Description {
		updated, err := store.Rename(id, act.Description)
		if err != nil {
			updateErr = err
		} else {
			task = updated
		}
	}

	if updateErr != nil {
		outcome := rejected(kind, id, updateErr)
		outcome.Created = created
		turn.add(outcome)
		return
	}

	message := describeProgress(task)
	if created {
		message = fmt.Sprintf("Added %q. %s", task.Description, message)
	}
	turn.add(Outcome{Action: kind, TaskID: id, Status: StatusApplied, Created: created, Message: message})

	if task.Completeness.IsComplete && !wasComplete {
		o.onCompleted(ctx, turn, task)
	}
}

func validateNewParams(update models.ParameterUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	if err := rice.ValidateUpdate(update); err != nil {
		return err
	}
	return rice.CheckScore(rice.Merge(models.Parameters{}, update))
}

// placeNewTask focuses id when nothing is focused, otherwise queues it.
func (o *Orchestrator) placeNewTask(id string) {
	mgr := o.session.Focus()
	if _, ok := mgr.Current(); !ok {
		_ = mgr.SetFocus(id)
		return
	}
	mgr.Enqueue(id)
}

// onCompleted runs once when a task gains its fourth parameter.
func (o *Orchestrator) onCompleted(ctx context.Context, turn *turnState, task models.Task) {
	logger := logging.FromContext(ctx)
	logger.Info().Str("task_id", task.ID).Float64("score", *task.Score).Msg("task complete")
	o.session.Publish(events.NewEvent(models.EventTypeTaskCompleted, models.EntityTypeTask, task.ID, nil))

	if o.autoPersist {
		turn.add(o.persist(ctx, turn, task.ID))
	}
	if current, ok := o.session.Focus().Current(); ok && current == task.ID {
		o.session.Focus().Advance()
	}
}

// persist writes a complete task. It never retries within a turn.
func (o *Orchestrator) persist(ctx context.Context, turn *turnState, id string) Outcome {
	kind := extract.KindRequestPersist
	store := o.session.Store()
	logger := logging.WithTask(logging.FromContext(ctx), id)

	task, ok := store.Get(id)
	if !ok {
		return rejected(kind, id, fmt.Errorf("%w: %s", models.ErrTaskNotFound, id))
	}
	if !task.Completeness.IsComplete {
		return rejected(kind, id, fmt.Errorf("%w: %s", models.ErrTaskIncomplete, id))
	}
	if task.IsSynced() {
		return Outcome{
			Action:   kind,
			TaskID:   id,
			Status:   StatusNoop,
			RecordID: task.RecordID,
			Message:  fmt.Sprintf("%q is already saved.", task.Description),
		}
	}

	gctx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
	recordID, err := o.gateway.CreateRecord(gctx, task, *task.Score, o.session.ID())
	cancel()
	if err != nil {
		logger.Warn().Err(err).Str("gateway", o.gateway.Name()).Msg("persist failed")
		o.session.Publish(events.NewEvent(models.EventTypeTaskSyncFailed, models.EntityTypeTask, id,
			models.ErrorPayload{Error: err.Error(), Context: o.gateway.Name()}))
		return failed(kind, id, err)
	}

	synced, err := store.MarkSynced(id, recordID)
	if err != nil {
		// The record exists remotely but the task vanished or changed under us.
		logger.Error().Err(err).Str("record_id", recordID).Msg("record created but task not marked synced")
		return failed(kind, id, err)
	}
	logger.Info().Str("record_id", recordID).Float64("score", *synced.Score).Msg("task persisted")
	o.session.Publish(events.NewEvent(models.EventTypeTaskSynced, models.EntityTypeTask, id,
		models.TaskSyncedPayload{RecordID: recordID, Score: *synced.Score, Gateway: o.gateway.Name()}))

	o.updateSplitParent(synced)
	if turn != nil {
		turn.persisted = append(turn.persisted, synced)
	}
	if current, ok := o.session.Focus().Current(); ok && current == id {
		o.session.Focus().Advance()
	}

	return Outcome{
		Action:   kind,
		TaskID:   id,
		Status:   StatusApplied,
		RecordID: recordID,
		Message:  fmt.Sprintf("Saved %q with a RICE score of %.2f.", synced.Description, *synced.Score),
	}
}

// updateSplitParent moves the parent of a synced subtask forward.
func (o *Orchestrator) updateSplitParent(child models.Task) {
	parentID := child.Metadata.ParentID
	if parentID == "" {
		return
	}
	store := o.session.Store()
	if !store.Exists(parentID) {
		return
	}
	allSynced := true
	for _, sibling := range store.Children(parentID) {
		if !sibling.IsSynced() {
			allSynced = false
			break
		}
	}
	parent, err := store.MarkSplitProgress(parentID, allSynced)
	if err != nil {
		o.logger.Warn().Err(err).Str("parent_id", parentID).Msg("failed to update split parent")
		return
	}
	eventType := models.EventTypeTaskPartiallySynced
	if parent.SyncStatus == models.SyncStatusSynced {
		eventType = models.EventTypeTaskSynced
	}
	o.session.Publish(events.NewEvent(eventType, models.EntityTypeTask, parentID, nil))
}

func (o *Orchestrator) applyRead(ctx context.Context, turn *turnState, act extract.RequestRead) {
	kind := act.Kind()
	gctx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
	records, err := o.gateway.ListRecords(gctx, act.Filter)
	cancel()
	if err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("record read failed")
		turn.add(failed(kind, "", err))
		return
	}
	turn.records = append(turn.records, records...)
	turn.add(Outcome{Action: kind, Status: StatusApplied, Message: fmt.Sprintf("Found %d saved tasks.", len(records))})
}

func (o *Orchestrator) applySplit(turn *turnState, act extract.Split) {
	kind := act.Kind()
	store := o.session.Store()
	parent, ok := store.Get(act.ParentID)
	if !ok {
		turn.add(rejected(kind, act.ParentID, fmt.Errorf("%w: %s", models.ErrTaskNotFound, act.ParentID)))
		return
	}

	subtasks := make([]string, 0, len(act.Subtasks))
	var errs []error
	for _, desc := range act.Subtasks {
		child, err := store.Create(fmt.Sprintf("%s (from: %s)", desc, parent.Description))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := store.UpdateMetadata(child.ID, models.MetadataUpdate{ParentID: models.String(parent.ID)}); err != nil {
			errs = append(errs, err)
		}
		o.placeNewTask(child.ID)
		subtasks = append(subtasks, child.ID)
	}
	if _, err := store.UpdateMetadata(parent.ID, models.MetadataUpdate{ShouldSplit: models.Bool(true)}); err != nil {
		errs = append(errs, err)
	}

	o.session.Publish(events.NewEvent(models.EventTypeTaskSplit, models.EntityTypeTask, parent.ID,
		models.TaskSplitPayload{SubtaskIDs: subtasks}))

	outcome := Outcome{
		Action:   kind,
		TaskID:   parent.ID,
		Status:   StatusApplied,
		Subtasks: subtasks,
		Message:  fmt.Sprintf("Split %q into %d subtasks.", parent.Description, len(subtasks)),
	}
	if err := errors.Join(errs...); err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
	}
	turn.add(outcome)
}
