package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tOgg1/bishma/internal/models"
)

// Postgres stores records in a rice_records table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool. Call EnsureTable before use.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func newPostgresFromConfig(ctx context.Context, cfg Config) (Gateway, error) {
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("gateway.postgres.dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", models.ErrCollaboratorUnavailable, err)
	}
	gw := NewPostgres(pool)
	if err := gw.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return gw, nil
}

// EnsureTable creates the rice_records table if it doesn't exist.
func (p *Postgres) EnsureTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rice_records (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL,
			name         TEXT NOT NULL,
			reach        DOUBLE PRECISION NOT NULL,
			impact       DOUBLE PRECISION NOT NULL,
			confidence   DOUBLE PRECISION NOT NULL,
			effort       DOUBLE PRECISION NOT NULL,
			rice_score   DOUBLE PRECISION NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			category     TEXT NOT NULL DEFAULT '',
			project      TEXT NOT NULL DEFAULT '',
			due_date     DATE,
			dependencies TEXT[] DEFAULT '{}',
			session_id   TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create rice_records: %w", err)
	}
	_, err = p.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_rice_records_session ON rice_records(session_id)`)
	return err
}

func (p *Postgres) Name() string { return BackendPostgres }

// CreateRecord inserts the task as a pending record.
func (p *Postgres) CreateRecord(ctx context.Context, task models.Task, score float64, sessionID string) (string, error) {
	rec, err := models.NewRecord(task, score, sessionID)
	if err != nil {
		return "", err
	}
	rec.RecordID = uuid.Must(uuid.NewV7()).String()
	now := time.Now().Truncate(time.Microsecond)
	deps := rec.Dependencies
	if deps == nil {
		deps = []string{}
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO rice_records (id, task_id, name, reach, impact, confidence, effort, rice_score, status,
			category, project, due_date, dependencies, session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
		rec.RecordID, rec.TaskID, rec.Name, rec.Reach, rec.Impact, rec.Confidence, rec.Effort, rec.Score,
		string(rec.Status), rec.Category, rec.Project, rec.DueDate, deps, rec.SessionID, now)
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	return rec.RecordID, nil
}

// UpdateRecord merges fields into the stored row.
func (p *Postgres) UpdateRecord(ctx context.Context, recordID string, fields models.RecordFields) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		current, err := scanPgRecord(tx.QueryRow(ctx, `SELECT `+pgRecordColumns+` FROM rice_records WHERE id = $1 FOR UPDATE`, recordID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", models.ErrRecordNotFound, recordID)
			}
			return fmt.Errorf("get record %s: %w", recordID, err)
		}
		next := fields.Apply(current)
		deps := next.Dependencies
		if deps == nil {
			deps = []string{}
		}
		_, err = tx.Exec(ctx, `
			UPDATE rice_records SET name = $2, reach = $3, impact = $4, confidence = $5, effort = $6,
				rice_score = $7, status = $8, category = $9, project = $10, due_date = $11,
				dependencies = $12, updated_at = NOW()
			WHERE id = $1`,
			recordID, next.Name, next.Reach, next.Impact, next.Confidence, next.Effort, next.Score,
			string(next.Status), next.Category, next.Project, next.DueDate, deps)
		if err != nil {
			return fmt.Errorf("update record %s: %w", recordID, err)
		}
		return nil
	})
}

var pgSortColumns = map[models.SortField]string{
	models.SortByScore:     "rice_score",
	models.SortByEffort:    "effort",
	models.SortByStatus:    "status",
	models.SortByCreatedAt: "created_at",
}

const pgRecordColumns = `id, task_id, name, reach, impact, confidence, effort, rice_score, status,
	category, project, due_date, dependencies, session_id, created_at, updated_at`

// ListRecords returns matching rows sorted descending.
func (p *Postgres) ListRecords(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	filter = filter.Normalize()

	query := `SELECT ` + pgRecordColumns + ` FROM rice_records WHERE 1=1`
	args := []any{}
	argIdx := 1
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	column, ok := pgSortColumns[filter.SortBy]
	if !ok {
		column = "rice_score"
	}
	query += fmt.Sprintf(" ORDER BY %s DESC, created_at DESC LIMIT $%d", column, argIdx)
	args = append(args, filter.Limit)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteRecord removes the row.
func (p *Postgres) DeleteRecord(ctx context.Context, recordID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rice_records WHERE id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", recordID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, recordID)
	}
	return nil
}

// TestConnection pings the pool.
func (p *Postgres) TestConnection(ctx context.Context) bool {
	return p.pool.Ping(ctx) == nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPgRecord(row pgx.Row) (models.Record, error) {
	var rec models.Record
	var status string
	var dueDate *time.Time
	err := row.Scan(&rec.RecordID, &rec.TaskID, &rec.Name, &rec.Reach, &rec.Impact, &rec.Confidence,
		&rec.Effort, &rec.Score, &status, &rec.Category, &rec.Project, &dueDate, &rec.Dependencies,
		&rec.SessionID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return models.Record{}, err
	}
	rec.Status = models.RecordStatus(status)
	rec.DueDate = dueDate
	if len(rec.Dependencies) == 0 {
		rec.Dependencies = nil
	}
	return rec, nil
}
