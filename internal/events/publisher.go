// Package events fans task and session notifications out to in-process
// subscribers, optionally recording them in an event log.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/bishma/internal/models"
)

// EventHandler is invoked for every event matching a subscription.
type EventHandler func(event *models.Event)

// Repository records published events.
type Repository interface {
	Create(ctx context.Context, event *models.Event) error
}

// Filter selects events. Zero-valued fields match everything.
type Filter struct {
	EventTypes  []models.EventType
	EntityTypes []models.EntityType
	EntityID    string

	// SessionID matches the "session_id" metadata key.
	SessionID string
}

// Matches reports whether event passes the filter.
func (f *Filter) Matches(event *models.Event) bool {
	if event == nil {
		return false
	}
	if len(f.EventTypes) > 0 && !containsType(f.EventTypes, event.Type) {
		return false
	}
	if len(f.EntityTypes) > 0 && !containsEntity(f.EntityTypes, event.EntityType) {
		return false
	}
	if f.EntityID != "" && event.EntityID != f.EntityID {
		return false
	}
	if f.SessionID != "" && event.Metadata["session_id"] != f.SessionID {
		return false
	}
	return true
}

func containsType(types []models.EventType, t models.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsEntity(types []models.EntityType, t models.EntityType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

type subscription struct {
	id      string
	filter  Filter
	handler EventHandler
}

// Publisher is the publish/subscribe surface used by stores and sessions.
type Publisher interface {
	// Publish delivers synchronously to every matching subscriber.
	Publish(ctx context.Context, event *models.Event)

	// PublishAsync delivers without blocking the caller.
	PublishAsync(ctx context.Context, event *models.Event)

	Subscribe(id string, filter Filter, handler EventHandler) error
	Unsubscribe(id string) error
	SubscriberCount() int
}

// InMemoryPublisher implements Publisher with in-process fan-out.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	repo          Repository
	onRepoError   func(error)
}

// PublisherOption configures an InMemoryPublisher.
type PublisherOption func(*InMemoryPublisher)

// WithRepository records every published event in repo.
func WithRepository(repo Repository) PublisherOption {
	return func(p *InMemoryPublisher) {
		p.repo = repo
	}
}

// WithRepositoryErrorHandler receives failures from the repository. Publishing
// never fails because of them.
func WithRepositoryErrorHandler(fn func(error)) PublisherOption {
	return func(p *InMemoryPublisher) {
		p.onRepoError = fn
	}
}

// NewInMemoryPublisher creates a publisher with no subscribers.
func NewInMemoryPublisher(opts ...PublisherOption) *InMemoryPublisher {
	p := &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish records the event, then invokes matching handlers in the caller's
// goroutine.
func (p *InMemoryPublisher) Publish(ctx context.Context, event *models.Event) {
	if event == nil {
		return
	}
	p.record(ctx, event)
	for _, handler := range p.matching(event) {
		handler(event)
	}
}

// PublishAsync records the event, then invokes each matching handler in its
// own goroutine.
func (p *InMemoryPublisher) PublishAsync(ctx context.Context, event *models.Event) {
	if event == nil {
		return
	}
	p.record(ctx, event)
	for _, handler := range p.matching(event) {
		go handler(event)
	}
}

func (p *InMemoryPublisher) record(ctx context.Context, event *models.Event) {
	if p.repo == nil {
		return
	}
	if err := p.repo.Create(ctx, event); err != nil && p.onRepoError != nil {
		p.onRepoError(err)
	}
}

// matching snapshots handlers under the read lock so they run unlocked.
func (p *InMemoryPublisher) matching(event *models.Event) []EventHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var handlers []EventHandler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	return handlers
}

// Subscribe registers handler under id.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler EventHandler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}
	p.subscriptions[id] = &subscription{id: id, filter: filter, handler: handler}
	return nil
}

// Unsubscribe removes the subscription registered under id.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}
	delete(p.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscriptions.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// Close drops all subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = make(map[string]*subscription)
}

// NewEvent builds an event with a fresh id and timestamp. payload is
// JSON-encoded when non-nil.
func NewEvent(eventType models.EventType, entityType models.EntityType, entityID string, payload any) *models.Event {
	event := &models.Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			event.Payload = data
		}
	}
	return event
}

// WithSession tags event with the session it belongs to and returns it.
func WithSession(event *models.Event, sessionID string) *models.Event {
	if event == nil || sessionID == "" {
		return event
	}
	if event.Metadata == nil {
		event.Metadata = make(map[string]string)
	}
	event.Metadata["session_id"] = sessionID
	return event
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError is returned by subscription management.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
