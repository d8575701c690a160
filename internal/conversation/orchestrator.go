// Package conversation runs one conversational turn at a time: it asks the
// extractor for actions, applies them to the session and persists complete
// tasks through the gateway.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/bishma/internal/events"
	"github.com/tOgg1/bishma/internal/extract"
	"github.com/tOgg1/bishma/internal/gateway"
	"github.com/tOgg1/bishma/internal/logging"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/session"
)

const (
	// FallbackReply is returned when the extractor cannot be reached.
	FallbackReply = "I'm having trouble connecting right now. Please try again in a moment."

	defaultReply            = "I've updated the task information."
	defaultExtractorTimeout = 60 * time.Second
	defaultGatewayTimeout   = 30 * time.Second
)

// Orchestrator drives the conversation for one session.
type Orchestrator struct {
	session   *session.Session
	extractor extract.Extractor
	gateway   gateway.Gateway

	autoPersist      bool
	extractorTimeout time.Duration
	gatewayTimeout   time.Duration
	historyLimit     int
	now              func() time.Time
	logger           zerolog.Logger

	// turnMu serializes turns and every other state-changing operation.
	turnMu sync.Mutex

	historyMu sync.RWMutex
	history   []models.Turn
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAutoPersist controls whether tasks are written as soon as they become
// complete. It defaults to true.
func WithAutoPersist(enabled bool) Option {
	return func(o *Orchestrator) {
		o.autoPersist = enabled
	}
}

// WithExtractorTimeout bounds each extractor call.
func WithExtractorTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.extractorTimeout = d
		}
	}
}

// WithGatewayTimeout bounds each gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.gatewayTimeout = d
		}
	}
}

// WithHistoryLimit caps how many recent turns are sent to the extractor.
// Zero sends the whole history.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.historyLimit = n
		}
	}
}

// WithNow overrides the clock used for turn timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an orchestrator over sess. A nil gateway rejects every
// persistence request.
func New(sess *session.Session, extractor extract.Extractor, gw gateway.Gateway, opts ...Option) *Orchestrator {
	if extractor == nil {
		extractor = extract.Unavailable{}
	}
	if gw == nil {
		gw = gateway.Unavailable{}
	}
	o := &Orchestrator{
		session:          sess,
		extractor:        extractor,
		gateway:          gw,
		autoPersist:      true,
		extractorTimeout: defaultExtractorTimeout,
		gatewayTimeout:   defaultGatewayTimeout,
		now:              time.Now,
		logger:           logging.WithSession(sess.ID()).With().Str("component", "conversation").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Session returns the underlying session.
func (o *Orchestrator) Session() *session.Session {
	return o.session
}

// AutoPersist reports whether complete tasks are written automatically.
func (o *Orchestrator) AutoPersist() bool {
	return o.autoPersist
}

// HandleTurn processes one user utterance. Extractor failures do not return
// an error: the result carries FallbackReply and Err, and neither history
// nor task state changes. The error return is reserved for bad input and
// closed sessions.
func (o *Orchestrator) HandleTurn(ctx context.Context, utterance string) (TurnResult, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return TurnResult{}, fmt.Errorf("%w: empty utterance", models.ErrInvalidParameter)
	}

	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	logger := o.logger.With().Int("history", o.historyLen()).Logger()
	ctx = logging.WithContext(ctx, logger)

	mark := o.appendTurn(models.Turn{Role: models.TurnRoleUser, Content: utterance, Timestamp: o.now().UTC()})

	req := o.request()
	extractCtx, cancel := context.WithTimeout(ctx, o.extractorTimeout)
	resp, err := o.extractor.Extract(extractCtx, req)
	cancel()
	if err != nil {
		o.truncateHistory(mark)
		logger.Warn().Err(err).Msg("extractor failed, turn rolled back")
		o.session.Publish(events.NewEvent(models.EventTypeTurnFailed, models.EntityTypeSession, o.session.ID(),
			models.ErrorPayload{Error: err.Error(), Context: "extract"}))
		result := o.snapshotResult(&turnState{})
		result.Reply = FallbackReply
		result.setErr(err)
		return result, nil
	}

	turn := &turnState{
		focusBefore:    o.currentFocus(),
		completeBefore: o.completeIDs(),
	}
	mutateErr := o.session.Mutate(func() error {
		for _, action := range resp.Actions {
			o.apply(ctx, turn, action)
		}
		return nil
	})
	for _, rejected := range resp.Rejected {
		turn.add(Outcome{
			Action:  extract.Kind(rejected.Tool),
			Status:  StatusRejected,
			Message: fmt.Sprintf("Ignored %s: %v.", rejected.Tool, rejected.Err),
			Err:     rejected.Err,
		})
	}
	if mutateErr != nil {
		o.truncateHistory(mark)
		return TurnResult{}, mutateErr
	}

	result := o.snapshotResult(turn)
	result.Reply = resp.Reply
	if result.Reply == "" {
		result.Reply = o.synthesizeReply(turn, result.Focus)
	}

	o.appendTurn(models.Turn{
		Role:      models.TurnRoleAssistant,
		Content:   result.Reply,
		Timestamp: o.now().UTC(),
		Actions:   encodeActions(resp.Actions),
	})
	o.publishFocusChange(turn.focusBefore, "turn")
	o.session.Publish(events.NewEvent(models.EventTypeTurnProcessed, models.EntityTypeSession, o.session.ID(), map[string]int{
		"actions":   len(resp.Actions),
		"rejected":  len(resp.Rejected),
		"persisted": len(result.Persisted),
	}))

	logger.Info().
		Int("actions", len(resp.Actions)).
		Int("rejected", len(resp.Rejected)).
		Int("completed", len(result.Completed)).
		Int("persisted", len(result.Persisted)).
		Msg("turn processed")
	return result, nil
}

// request builds the extractor input from the current history and state.
func (o *Orchestrator) request() extract.Request {
	store := o.session.Store()
	tasks := store.ListAll()
	var focusTask *models.Task
	if id, ok := o.session.Focus().Current(); ok {
		if task, ok := store.Get(id); ok {
			focusTask = &task
		}
	}

	o.historyMu.RLock()
	history := o.history
	if o.historyLimit > 0 && len(history) > o.historyLimit {
		history = history[len(history)-o.historyLimit:]
	}
	history = append([]models.Turn(nil), history...)
	o.historyMu.RUnlock()

	return extract.Request{
		History: history,
		Digest:  extract.BuildDigest(o.session.ID(), focusTask, tasks),
		Tasks:   tasks,
	}
}

// snapshotResult fills the state part of a turn result.
func (o *Orchestrator) snapshotResult(turn *turnState) TurnResult {
	store := o.session.Store()
	result := TurnResult{
		Outcomes:   turn.outcomes,
		Persisted:  turn.persisted,
		Records:    turn.records,
		Incomplete: store.ListIncomplete(),
	}
	if turn.completeBefore != nil {
		for _, task := range store.ListComplete() {
			if !turn.completeBefore[task.ID] {
				result.Completed = append(result.Completed, task)
			}
		}
	}
	if id, ok := o.session.Focus().Current(); ok {
		if task, ok := store.Get(id); ok {
			result.Focus = &task
		}
	}
	return result
}

func (o *Orchestrator) currentFocus() string {
	id, _ := o.session.Focus().Current()
	return id
}

func (o *Orchestrator) completeIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, task := range o.session.Store().ListComplete() {
		ids[task.ID] = true
	}
	return ids
}

func (o *Orchestrator) publishFocusChange(before, reason string) {
	after := o.currentFocus()
	if before == after {
		return
	}
	o.session.Publish(events.NewEvent(models.EventTypeFocusChanged, models.EntityTypeSession, o.session.ID(),
		models.FocusChangedPayload{OldFocusID: before, NewFocusID: after, Reason: reason}))
}

func (o *Orchestrator) appendTurn(turn models.Turn) int {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	mark := len(o.history)
	o.history = append(o.history, turn)
	return mark
}

func (o *Orchestrator) truncateHistory(mark int) {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	if mark < len(o.history) {
		o.history = o.history[:mark]
	}
}

func (o *Orchestrator) historyLen() int {
	o.historyMu.RLock()
	defer o.historyMu.RUnlock()
	return len(o.history)
}

type encodedAction struct {
	Kind   extract.Kind   `json:"kind"`
	Action extract.Action `json:"action"`
}

func encodeActions(actions []extract.Action) json.RawMessage {
	if len(actions) == 0 {
		return nil
	}
	out := make([]encodedAction, 0, len(actions))
	for _, action := range actions {
		out = append(out, encodedAction{Kind: action.Kind(), Action: action})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return data
}
