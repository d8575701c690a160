// Package gateway writes complete tasks to an external record store and reads
// them back.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tOgg1/bishma/internal/models"
)

// Gateway is a remote record store. Implementations must be safe for
// concurrent use.
type Gateway interface {
	// Name identifies the backend.
	Name() string

	// CreateRecord stores a complete task and returns the new record id.
	CreateRecord(ctx context.Context, task models.Task, score float64, sessionID string) (string, error)

	// UpdateRecord merges fields into an existing record.
	UpdateRecord(ctx context.Context, recordID string, fields models.RecordFields) error

	// ListRecords returns records matching filter.
	ListRecords(ctx context.Context, filter models.RecordFilter) ([]models.Record, error)

	// DeleteRecord removes a record.
	DeleteRecord(ctx context.Context, recordID string) error

	// TestConnection reports whether the store is reachable.
	TestConnection(ctx context.Context) bool

	// Close releases resources held by the backend.
	Close() error
}

// Backend names.
const (
	BackendAirtable = "airtable"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

// Config carries settings for every backend; each reads its own section.
type Config struct {
	Timeout  time.Duration
	Airtable AirtableConfig
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	Path string
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	DSN string
}

// Factory builds a gateway from configuration.
type Factory func(ctx context.Context, cfg Config) (Gateway, error)

// Registry maps backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(BackendAirtable, newAirtableFromConfig)
	_ = r.Register(BackendSQLite, newSQLiteFromConfig)
	_ = r.Register(BackendPostgres, newPostgresFromConfig)
	_ = r.Register(BackendMemory, func(context.Context, Config) (Gateway, error) { return NewMemory(), nil })
	_ = r.Register(BackendNone, func(context.Context, Config) (Gateway, error) { return Unavailable{}, nil })
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("gateway backend %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Open builds the backend registered under name.
func (r *Registry) Open(ctx context.Context, name string, cfg Config) (Gateway, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gateway backend %s not registered", name)
	}
	return factory(ctx, cfg)
}

// Names lists registered backends in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unavailable rejects every call. It stands in when no backend is configured.
type Unavailable struct{}

func (Unavailable) Name() string { return BackendNone }

func (Unavailable) CreateRecord(context.Context, models.Task, float64, string) (string, error) {
	return "", fmt.Errorf("%w: no record store configured", models.ErrCollaboratorUnavailable)
}

func (Unavailable) UpdateRecord(context.Context, string, models.RecordFields) error {
	return fmt.Errorf("%w: no record store configured", models.ErrCollaboratorUnavailable)
}

func (Unavailable) ListRecords(context.Context, models.RecordFilter) ([]models.Record, error) {
	return nil, fmt.Errorf("%w: no record store configured", models.ErrCollaboratorUnavailable)
}

func (Unavailable) DeleteRecord(context.Context, string) error {
	return fmt.Errorf("%w: no record store configured", models.ErrCollaboratorUnavailable)
}

func (Unavailable) TestConnection(context.Context) bool { return false }

func (Unavailable) Close() error { return nil }
