package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/bishma/internal/extract"
	"github.com/tOgg1/bishma/internal/gateway"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/session"
	"github.com/tOgg1/bishma/internal/snapshot"
)

type step struct {
	resp extract.Response
	err  error
}

// script replays canned extractor responses and records each request.
type script struct {
	mu       sync.Mutex
	steps    []step
	requests []extract.Request
}

func (s *script) push(actions ...extract.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{resp: extract.Response{Actions: actions}})
}

func (s *script) pushResponse(resp extract.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{resp: resp})
}

func (s *script) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{err: err})
}

func (s *script) Extract(_ context.Context, req extract.Request) (extract.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return extract.Response{}, nil
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	return next.resp, next.err
}

// flakyGateway fails CreateRecord while failing is set.
type flakyGateway struct {
	*gateway.Memory
	mu      sync.Mutex
	failing bool
}

func (g *flakyGateway) setFailing(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing = v
}

func (g *flakyGateway) CreateRecord(ctx context.Context, task models.Task, score float64, sessionID string) (string, error) {
	g.mu.Lock()
	failing := g.failing
	g.mu.Unlock()
	if failing {
		return "", fmt.Errorf("%w: store offline", models.ErrCollaboratorUnavailable)
	}
	return g.Memory.CreateRecord(ctx, task, score, sessionID)
}

type harness struct {
	orch    *Orchestrator
	sess    *session.Session
	script  *script
	gateway *flakyGateway
	snaps   *snapshot.MemoryStore
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	n := 0
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	snaps := snapshot.NewMemoryStore()
	sess, err := session.Open(session.Options{
		ID:        "s1",
		Snapshots: snaps,
		Now:       now,
		TaskIDs: func() string {
			n++
			return fmt.Sprintf("task-%d", n)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	h := &harness{
		sess:    sess,
		script:  &script{},
		gateway: &flakyGateway{Memory: gateway.NewMemory()},
		snaps:   snaps,
	}
	h.orch = New(sess, h.script, h.gateway, append([]Option{WithNow(now)}, opts...)...)
	return h
}

func (h *harness) turn(t *testing.T, utterance string, actions ...extract.Action) TurnResult {
	t.Helper()
	h.script.push(actions...)
	result, err := h.orch.HandleTurn(context.Background(), utterance)
	require.NoError(t, err)
	return result
}

func params(r, i, c, e float64) models.ParameterUpdate {
	return models.ParameterUpdate{
		Reach: models.Float(r), Impact: models.Float(i), Confidence: models.Float(c), Effort: models.Float(e),
	}
}

func taskIDs(tasks []models.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func TestFixBugEndToEnd(t *testing.T) {
	h := newHarness(t)

	result := h.turn(t, "fix bug, affects 500 users", extract.CreateOrUpdate{
		Description: "fix bug",
		Params:      models.ParameterUpdate{Reach: models.Float(500)},
	})
	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].Created)
	require.NotNil(t, result.Focus)
	assert.Equal(t, "task-1", result.Focus.ID)
	assert.Empty(t, result.Persisted)

	result = h.turn(t, "impact 9, two hours", extract.CreateOrUpdate{
		TaskID: "task-1",
		Params: models.ParameterUpdate{Impact: models.Float(9), Effort: models.Float(2)},
	})
	assert.Empty(t, result.Completed)
	assert.Equal(t, 0, h.gateway.Creates())

	result = h.turn(t, "pretty sure, 80%", extract.CreateOrUpdate{
		TaskID: "task-1",
		Params: models.ParameterUpdate{Confidence: models.Float(0.8)},
	})
	require.Len(t, result.Completed, 1)
	require.Len(t, result.Persisted, 1)
	assert.Equal(t, 1, h.gateway.Creates())
	assert.Nil(t, result.Focus)
	assert.Empty(t, result.Incomplete)

	task, ok := h.sess.Store().Get("task-1")
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusSynced, task.SyncStatus)
	require.NotNil(t, task.Score)
	assert.Equal(t, 1800.0, *task.Score)
	assert.NotEmpty(t, task.RecordID)

	rec, ok := h.gateway.Get(task.RecordID)
	require.True(t, ok)
	assert.Equal(t, "fix bug", rec.Name)
	assert.Equal(t, "task-1", rec.TaskID)
	assert.Equal(t, 1800.0, rec.Score)
	assert.Equal(t, "s1", rec.SessionID)

	assert.Contains(t, result.Reply, "Saved \"fix bug\" with a RICE score of 1800.00.")
	assert.Len(t, h.orch.History(), 6)
}

func TestScoreRounding(t *testing.T) {
	h := newHarness(t)
	result := h.turn(t, "write docs", extract.CreateOrUpdate{Description: "write docs", Params: params(12, 7, 0.9, 1.5)})
	require.Len(t, result.Persisted, 1)
	assert.Equal(t, 50.40, *result.Persisted[0].Score)
}

func TestPriorityQueueOrder(t *testing.T) {
	h := newHarness(t, WithAutoPersist(false))
	h.turn(t, "three tasks",
		extract.CreateOrUpdate{Description: "A", Params: models.ParameterUpdate{Reach: models.Float(1)}},
		extract.CreateOrUpdate{Description: "B", Params: models.ParameterUpdate{Reach: models.Float(1), Impact: models.Float(2), Confidence: models.Float(0.5)}},
		extract.CreateOrUpdate{Description: "C"},
	)

	state := h.orch.State()
	assert.Equal(t, []string{"task-2", "task-1", "task-3"}, taskIDs(state.PriorityQueue))
	require.NotNil(t, state.Focus)
	assert.Equal(t, "task-1", state.Focus.ID)
	assert.Equal(t, []string{"task-2", "task-3"}, state.Backlog)
	assert.Contains(t, state.Digest, "CURRENT FOCUS: A\nMissing: impact, confidence, effort")
}

func TestAdvanceSkipsCompleteBacklogTasks(t *testing.T) {
	h := newHarness(t, WithAutoPersist(false))
	h.turn(t, "x y z",
		extract.CreateOrUpdate{Description: "X"},
		extract.CreateOrUpdate{Description: "Y"},
		extract.CreateOrUpdate{Description: "Z"},
	)
	h.turn(t, "y is done", extract.CreateOrUpdate{TaskID: "task-2", Params: params(1, 1, 1, 1)})

	focusID, _ := h.sess.Focus().Current()
	assert.Equal(t, "task-1", focusID)

	result := h.turn(t, "x is done", extract.CreateOrUpdate{TaskID: "task-1", Params: params(2, 2, 1, 1)})
	require.NotNil(t, result.Focus)
	assert.Equal(t, "task-3", result.Focus.ID)
	assert.Contains(t, result.Reply, `Next up: "Z".`)
	assert.Equal(t, 0, h.gateway.Creates())

	result = h.turn(t, "z is done", extract.CreateOrUpdate{TaskID: "task-3", Params: params(3, 3, 1, 1)})
	assert.Nil(t, result.Focus)
	_, ok := h.sess.Focus().Advance()
	assert.False(t, ok)
}

func TestPersistIncompleteRejected(t *testing.T) {
	h := newHarness(t)
	h.turn(t, "fix bug", extract.CreateOrUpdate{Description: "fix bug", Params: models.ParameterUpdate{Reach: models.Float(500)}})

	result := h.turn(t, "save it", extract.RequestPersist{TaskID: "task-1"})
	require.Len(t, result.Outcomes, 1)
	outcome := result.Outcomes[0]
	assert.Equal(t, StatusRejected, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, models.ErrTaskIncomplete))
	assert.NotEmpty(t, outcome.Error)
	assert.NoError(t, result.Err)

	task, _ := h.sess.Store().Get("task-1")
	assert.Equal(t, models.SyncStatusNotSynced, task.SyncStatus)
	assert.Equal(t, 0, h.gateway.Creates())

	result = h.turn(t, "save the other one", extract.RequestPersist{TaskID: "task-9"})
	assert.True(t, errors.Is(result.Outcomes[0].Err, models.ErrTaskNotFound))
}

func TestDuplicatePersistIsNoop(t *testing.T) {
	h := newHarness(t)
	h.turn(t, "fix bug", extract.CreateOrUpdate{Description: "fix bug", Params: params(500, 9, 0.8, 2)})
	require.Equal(t, 1, h.gateway.Creates())

	result := h.turn(t, "save it again", extract.RequestPersist{TaskID: "task-1"})
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, StatusNoop, result.Outcomes[0].Status)
	assert.True(t, result.Outcomes[0].OK())
	assert.Equal(t, 1, h.gateway.Creates())

	outcome, err := h.orch.ForceSync(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusNoop, outcome.Status)
	assert.Equal(t, 1, h.gateway.Creates())
}

func TestExtractorFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.turn(t, "fix bug", extract.CreateOrUpdate{Description: "fix bug"})
	writes := h.sess.SnapshotWrites()

	h.script.fail(fmt.Errorf("%w: timeout", models.ErrCollaboratorUnavailable))
	result, err := h.orch.HandleTurn(context.Background(), "reach is 500")
	require.NoError(t, err)

	assert.Equal(t, FallbackReply, result.Reply)
	assert.True(t, errors.Is(result.Err, models.ErrCollaboratorUnavailable))
	assert.NotEmpty(t, result.Error)
	assert.Len(t, h.orch.History(), 2)
	assert.Equal(t, writes, h.sess.SnapshotWrites())

	task, _ := h.sess.Store().Get("task-1")
	assert.Nil(t, task.Parameters.Reach)
	require.NotNil(t, result.Focus)
	assert.Equal(t, "task-1", result.Focus.ID)
}

func TestGatewayFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.gateway.setFailing(true)

	result := h.turn(t, "fix bug", extract.CreateOrUpdate{Description: "fix bug", Params: params(500, 9, 0.8, 2)})
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, StatusApplied, result.Outcomes[0].Status)
	assert.Equal(t, StatusFailed, result.Outcomes[1].Status)
	assert.True(t, errors.Is(result.Outcomes[1].Err, models.ErrCollaboratorUnavailable))
	assert.Empty(t, result.Persisted)
	assert.Nil(t, result.Focus)

	task, _ := h.sess.Store().Get("task-1")
	assert.True(t, task.Completeness.IsComplete)
	assert.Equal(t, models.SyncStatusNotSynced, task.SyncStatus)
	require.NotNil(t, task.Score)

	h.gateway.setFailing(false)
	outcome, err := h.orch.ForceSync(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, outcome.Status)
	task, _ = h.sess.Store().Get("task-1")
	assert.True(t, task.IsSynced())
}

func TestInvalidParametersRejected(t *testing.T) {
	h := newHarness(t)
	h.turn(t, "fix bug", extract.CreateOrUpdate{Description: "fix bug", Params: models.ParameterUpdate{Reach: models.Float(500)}})

	result := h.turn(t, "very confident", extract.CreateOrUpdate{
		TaskID: "task-1",
		Params: models.ParameterUpdate{Confidence: models.Float(2), Impact: models.Float(9)},
	})
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, StatusRejected, result.Outcomes[0].Status)
	assert.True(t, errors.Is(result.Outcomes[0].Err, models.ErrInvalidParameter))

	task, _ := h.sess.Store().Get("task-1")
	assert.Nil(t, task.Parameters.Impact)
	assert.Nil(t, task.Parameters.Confidence)

	result = h.turn(t, "update the ghost", extract.CreateOrUpdate{TaskID: "ghost", Params: params(1, 1, 1, 1)})
	assert.True(t, errors.Is(result.Outcomes[0].Err, models.ErrTaskNotFound))

	result = h.turn(t, "new and sure", extract.CreateOrUpdate{
		Description: "write docs",
		Params:      models.ParameterUpdate{Confidence: models.Float(5)},
	})
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, StatusRejected, result.Outcomes[0].Status)
	assert.False(t, result.Outcomes[0].Created)
	assert.True(t, errors.Is(result.Outcomes[0].Err, models.ErrInvalidParameter))
	assert.Equal(t, 1, h.sess.Store().Len())
	assert.Equal(t, []string{"task-1"}, taskIDs(h.sess.Store().ListAll()))
}

func TestOverflowingScoreRejected(t *testing.T) {
	h := newHarness(t)

	result := h.turn(t, "huge task", extract.CreateOrUpdate{Description: "huge", Params: params(1e200, 1e200, 1, 1)})
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, StatusRejected, result.Outcomes[0].Status)
	assert.True(t, errors.Is(result.Outcomes[0].Err, models.ErrInvalidParameter))
	assert.Equal(t, 0, h.sess.Store().Len())

	h.turn(t, "huge reach", extract.CreateOrUpdate{Description: "huge", Params: models.ParameterUpdate{
		Reach: models.Float(1e200), Confidence: models.Float(1), Effort: models.Float(1),
	}})
	result = h.turn(t, "huge impact", extract.CreateOrUpdate{TaskID: "task-1", Params: models.ParameterUpdate{Impact: models.Float(1e200)}})
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, StatusRejected, result.Outcomes[0].Status)

	task, ok := h.sess.Store().Get("task-1")
	require.True(t, ok)
	assert.False(t, task.Completeness.IsComplete)
	assert.Nil(t, task.Score)
	require.NoError(t, task.Validate())
	assert.Zero(t, h.gateway.Creates())
}

func TestMetadataAndRename(t *testing.T) {
	h := newHarness(t)
	deadline := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	h.turn(t, "fix bug", extract.CreateOrUpdate{Description: "fix bug"})
	h.turn(t, "it's the login bug, for work, due april", extract.CreateOrUpdate{
		TaskID:      "task-1",
		Description: "fix login bug",
		Metadata:    models.MetadataUpdate{Category: models.String("work"), Deadline: &deadline},
	})

	task, _ := h.sess.Store().Get("task-1")
	assert.Equal(t, "fix login bug", task.Description)
	assert.Equal(t, "work", task.Metadata.Category)
	require.NotNil(t, task.Metadata.Deadline)
	assert.True(t, deadline.Equal(*task.Metadata.Deadline))
}

func TestSplitAndParentSync(t *testing.T) {
	h := newHarness(t)
	h.turn(t, "launch site", extract.CreateOrUpdate{Description: "launch site"})

	result := h.turn(t, "split it", extract.Split{ParentID: "task-1", Subtasks: []string{"design", "build"}})
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, []string{"task-2", "task-3"}, result.Outcomes[0].Subtasks)

	parent, _ := h.sess.Store().Get("task-1")
	assert.True(t, parent.Metadata.ShouldSplit)
	child, _ := h.sess.Store().Get("task-2")
	assert.Equal(t, "design (from: launch site)", child.Description)
	assert.Equal(t, "task-1", child.Metadata.ParentID)
	assert.Equal(t, []string{"task-2", "task-3"}, h.sess.Focus().Backlog())

	h.turn(t, "design done", extract.CreateOrUpdate{TaskID: "task-2", Params: params(10, 5, 1, 5)})
	parent, _ = h.sess.Store().Get("task-1")
	assert.Equal(t, models.SyncStatusPartiallySynced, parent.SyncStatus)

	h.turn(t, "build done", extract.CreateOrUpdate{TaskID: "task-3", Params: params(10, 5, 1, 10)})
	parent, _ = h.sess.Store().Get("task-1")
	assert.Equal(t, models.SyncStatusSynced, parent.SyncStatus)
	assert.False(t, parent.Completeness.IsComplete)

	result = h.turn(t, "split nothing", extract.Split{ParentID: "nope", Subtasks: []string{"a"}})
	assert.True(t, errors.Is(result.Outcomes[0].Err, models.ErrTaskNotFound))
}

func TestReadDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	h.turn(t, "fix bug", extract.CreateOrUpdate{Description: "fix bug", Params: params(500, 9, 0.8, 2)})
	writes := h.sess.SnapshotWrites()
	before := h.orch.State()

	result := h.turn(t, "what's saved?", extract.RequestRead{Filter: models.RecordFilter{Limit: 20}})
	require.Len(t, result.Records, 1)
	assert.Equal(t, "fix bug", result.Records[0].Name)
	assert.Equal(t, "Found 1 saved tasks.", result.Reply)
	assert.Equal(t, before.Complete, h.orch.State().Complete)
	assert.LessOrEqual(t, h.sess.SnapshotWrites(), writes+1)
}

func TestRejectedToolCallsAndReplyText(t *testing.T) {
	h := newHarness(t)
	h.script.pushResponse(extract.Response{
		Reply:    "Let's start with the bug.",
		Actions:  []extract.Action{extract.CreateOrUpdate{Description: "fix bug"}},
		Rejected: []extract.Rejection{{Tool: "launch_rocket", Err: models.ErrInvalidAction}},
	})
	result, err := h.orch.HandleTurn(context.Background(), "bug and rockets")
	require.NoError(t, err)
	assert.Equal(t, "Let's start with the bug.", result.Reply)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, StatusRejected, result.Outcomes[1].Status)
	assert.Equal(t, extract.Kind("launch_rocket"), result.Outcomes[1].Action)

	history := h.orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.TurnRoleAssistant, history[1].Role)
	assert.Contains(t, string(history[1].Actions), `"kind":"update_task_state"`)
}

func TestEmptyTurnReply(t *testing.T) {
	h := newHarness(t)
	result := h.turn(t, "hello")
	assert.Equal(t, defaultReply, result.Reply)

	_, err := h.orch.HandleTurn(context.Background(), "   ")
	assert.True(t, errors.Is(err, models.ErrInvalidParameter))
}

func TestHistoryLimit(t *testing.T) {
	h := newHarness(t, WithHistoryLimit(3))
	h.turn(t, "one")
	h.turn(t, "two")
	h.turn(t, "three")

	h.script.mu.Lock()
	defer h.script.mu.Unlock()
	last := h.script.requests[len(h.script.requests)-1]
	require.Len(t, last.History, 3)
	assert.Equal(t, "two", last.History[0].Content)
	assert.Equal(t, "three", last.History[2].Content)
}

func TestOneSnapshotPerTurn(t *testing.T) {
	h := newHarness(t)
	before := h.sess.SnapshotWrites()
	h.turn(t, "two tasks",
		extract.CreateOrUpdate{Description: "A", Params: params(1, 1, 1, 1)},
		extract.CreateOrUpdate{Description: "B"},
	)
	assert.Equal(t, before+1, h.sess.SnapshotWrites())

	doc, err := h.snaps.Load()
	require.NoError(t, err)
	assert.Len(t, doc.Tasks, 2)
	assert.Equal(t, "task-2", doc.FocusID)
}

func TestResyncDeleteAndReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.turn(t, "fix bug", extract.CreateOrUpdate{Description: "fix bug", Params: params(500, 9, 0.8, 2)})
	h.turn(t, "rename", extract.CreateOrUpdate{TaskID: "task-1", Description: "fix the login bug"})

	progress, err := h.orch.Progress("task-1")
	require.NoError(t, err)
	assert.True(t, progress.Stale)
	assert.False(t, progress.CanSync)
	assert.Equal(t, 1.0, progress.Progress)

	require.NoError(t, h.orch.Resync(ctx, "task-1"))
	task, _ := h.sess.Store().Get("task-1")
	assert.False(t, task.Stale())
	rec, ok := h.gateway.Get(task.RecordID)
	require.True(t, ok)
	assert.Equal(t, "fix the login bug", rec.Name)

	h.turn(t, "another", extract.CreateOrUpdate{Description: "write docs"})
	assert.Error(t, h.orch.Resync(ctx, "task-2"))

	require.NoError(t, h.orch.DeleteTask(ctx, "task-1", true))
	_, ok = h.gateway.Get(task.RecordID)
	assert.False(t, ok)
	assert.False(t, h.sess.Store().Exists("task-1"))
	assert.True(t, errors.Is(h.orch.DeleteTask(ctx, "task-1", false), models.ErrTaskNotFound))

	_, err = h.orch.Progress("task-1")
	assert.True(t, errors.Is(err, models.ErrTaskNotFound))

	require.NoError(t, h.orch.Reset())
	assert.Empty(t, h.orch.History())
	assert.Equal(t, 0, h.sess.Store().Len())
	assert.Nil(t, h.orch.State().Focus)
}

func TestTestConnections(t *testing.T) {
	h := newHarness(t)
	conns := h.orch.TestConnections(context.Background())
	assert.True(t, conns.Gateway)
	assert.True(t, conns.Extractor)
	assert.Equal(t, gateway.BackendMemory, conns.Backend)

	offline := New(h.sess, nil, nil)
	conns = offline.TestConnections(context.Background())
	assert.False(t, conns.Gateway)
	assert.False(t, conns.Extractor)
}
