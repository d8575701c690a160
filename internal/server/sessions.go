package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tOgg1/bishma/internal/conversation"
)

// ErrSessionNotFound is returned for ids that are not open on this server.
var ErrSessionNotFound = errors.New("session not found")

// Opener builds the orchestrator for a session id. An empty id asks for a
// new session.
type Opener func(ctx context.Context, sessionID string) (*conversation.Orchestrator, error)

// Sessions keeps the open sessions of a server by id.
type Sessions struct {
	open Opener

	mu    sync.Mutex
	items map[string]*conversation.Orchestrator
}

// NewSessions creates an empty registry.
func NewSessions(open Opener) *Sessions {
	return &Sessions{open: open, items: make(map[string]*conversation.Orchestrator)}
}

// Open returns the session with id, opening it if needed. The second result
// is true when the session was not already open.
func (s *Sessions) Open(ctx context.Context, id string) (*conversation.Orchestrator, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if orch, ok := s.items[id]; ok {
			return orch, false, nil
		}
	}
	orch, err := s.open(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("open session: %w", err)
	}
	s.items[orch.Session().ID()] = orch
	return orch, true, nil
}

// Get returns an open session.
func (s *Sessions) Get(id string) (*conversation.Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orch, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return orch, nil
}

// Close writes the final snapshot of a session and forgets it. With purge
// set, every task and the snapshot are dropped first.
func (s *Sessions) Close(id string, purge bool) error {
	s.mu.Lock()
	orch, ok := s.items[id]
	if ok {
		delete(s.items, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if purge {
		if err := orch.Reset(); err != nil {
			return err
		}
	}
	return orch.Session().Close()
}

// CloseAll closes every open session.
func (s *Sessions) CloseAll() error {
	s.mu.Lock()
	items := s.items
	s.items = make(map[string]*conversation.Orchestrator)
	s.mu.Unlock()

	var errs []error
	for id, orch := range items {
		if err := orch.Session().Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// IDs lists the open session ids in sorted order.
func (s *Sessions) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
