package gateway

import (
	"context"
	"fmt"

	"github.com/tOgg1/bishma/internal/db"
	"github.com/tOgg1/bishma/internal/models"
)

// SQLite stores records in a local SQLite database.
type SQLite struct {
	db      *db.DB
	records *db.RecordRepository
	owned   bool
}

// NewSQLite wraps an already migrated database. Close leaves it open.
func NewSQLite(database *db.DB) *SQLite {
	return &SQLite{db: database, records: db.NewRecordRepository(database)}
}

// OpenSQLite opens and migrates the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	database, err := db.Open(db.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if _, err := database.MigrateUp(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate records database: %w", err)
	}
	gw := NewSQLite(database)
	gw.owned = true
	return gw, nil
}

func newSQLiteFromConfig(ctx context.Context, cfg Config) (Gateway, error) {
	if cfg.SQLite.Path == "" {
		return nil, fmt.Errorf("gateway.sqlite.path is required")
	}
	return OpenSQLite(ctx, cfg.SQLite.Path)
}

func (s *SQLite) Name() string { return BackendSQLite }

// CreateRecord inserts the task as a pending record.
func (s *SQLite) CreateRecord(ctx context.Context, task models.Task, score float64, sessionID string) (string, error) {
	rec, err := models.NewRecord(task, score, sessionID)
	if err != nil {
		return "", err
	}
	if err := s.records.Create(ctx, &rec); err != nil {
		return "", err
	}
	return rec.RecordID, nil
}

func (s *SQLite) UpdateRecord(ctx context.Context, recordID string, fields models.RecordFields) error {
	return s.records.Update(ctx, recordID, fields)
}

func (s *SQLite) ListRecords(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	return s.records.List(ctx, filter)
}

func (s *SQLite) DeleteRecord(ctx context.Context, recordID string) error {
	return s.records.Delete(ctx, recordID)
}

// TestConnection pings the database.
func (s *SQLite) TestConnection(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// DB exposes the underlying database so the event log can share it.
func (s *SQLite) DB() *db.DB {
	return s.db
}

// Close closes the database if OpenSQLite opened it.
func (s *SQLite) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
