package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/bishma/internal/models"
)

// Memory keeps records in process. It backs tests and offline use.
type Memory struct {
	mu      sync.RWMutex
	records map[string]models.Record
	now     func() time.Time
	creates int
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]models.Record), now: time.Now}
}

func (m *Memory) Name() string { return BackendMemory }

// CreateRecord stores the task under a new uuid.
func (m *Memory) CreateRecord(ctx context.Context, task models.Task, score float64, sessionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec, err := models.NewRecord(task, score, sessionID)
	if err != nil {
		return "", err
	}
	rec.RecordID = uuid.NewString()
	now := m.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.RecordID] = rec
	m.creates++
	return rec.RecordID, nil
}

// UpdateRecord merges fields into the record.
func (m *Memory) UpdateRecord(ctx context.Context, recordID string, fields models.RecordFields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, recordID)
	}
	rec = fields.Apply(rec)
	rec.UpdatedAt = m.now().UTC()
	m.records[recordID] = rec
	return nil
}

// ListRecords filters and sorts descending like the remote backends.
func (m *Memory) ListRecords(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = filter.Normalize()

	m.mu.RLock()
	out := make([]models.Record, 0, len(m.records))
	for _, rec := range m.records {
		if filter.Status != "" && string(rec.Status) != filter.Status {
			continue
		}
		if filter.SessionID != "" && rec.SessionID != filter.SessionID {
			continue
		}
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch filter.SortBy {
		case models.SortByEffort:
			if a.Effort != b.Effort {
				return a.Effort > b.Effort
			}
		case models.SortByStatus:
			if a.Status != b.Status {
				return a.Status > b.Status
			}
		case models.SortByCreatedAt:
		default:
			if a.Score != b.Score {
				return a.Score > b.Score
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.RecordID < b.RecordID
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteRecord removes the record.
func (m *Memory) DeleteRecord(ctx context.Context, recordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[recordID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, recordID)
	}
	delete(m.records, recordID)
	return nil
}

func (m *Memory) TestConnection(ctx context.Context) bool { return ctx.Err() == nil }

func (m *Memory) Close() error { return nil }

// Get returns a stored record.
func (m *Memory) Get(recordID string) (models.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordID]
	return rec, ok
}

// Creates counts successful CreateRecord calls.
func (m *Memory) Creates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creates
}
