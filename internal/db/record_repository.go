package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/bishma/internal/models"
)

// RecordRepository stores persisted RICE records.
type RecordRepository struct {
	db  *DB
	now func() time.Time
}

// NewRecordRepository creates a RecordRepository.
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db, now: time.Now}
}

var recordSortColumns = map[models.SortField]string{
	models.SortByScore:     "rice_score",
	models.SortByEffort:    "effort",
	models.SortByStatus:    "status",
	models.SortByCreatedAt: "created_at",
}

const recordColumns = `id, task_id, name, reach, impact, confidence, effort, rice_score, status,
	category, project, due_date, dependencies_json, session_id, created_at, updated_at`

// Create inserts rec, assigning an id and timestamps when missing.
func (r *RecordRepository) Create(ctx context.Context, rec *models.Record) error {
	if rec.TaskID == "" || strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("%w: task id and name are required", models.ErrInvalidRecord)
	}
	if rec.RecordID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate record id: %w", err)
		}
		rec.RecordID = id.String()
	}
	if rec.Status == "" {
		rec.Status = models.RecordStatusPending
	}
	now := r.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	deps, err := encodeDependencies(rec.Dependencies)
	if err != nil {
		return err
	}

	_, err = r.db.ExecWithRetry(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RecordID,
		rec.TaskID,
		rec.Name,
		rec.Reach,
		rec.Impact,
		rec.Confidence,
		rec.Effort,
		rec.Score,
		string(rec.Status),
		nullString(rec.Category),
		nullString(rec.Project),
		formatDate(rec.DueDate),
		deps,
		nullString(rec.SessionID),
		rec.CreatedAt.Format(timestampLayout),
		rec.UpdatedAt.Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// Get returns the record with id.
func (r *RecordRepository) Get(ctx context.Context, id string) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
		}
		return nil, err
	}
	return rec, nil
}

// Update merges fields into the record with id.
func (r *RecordRepository) Update(ctx context.Context, id string, fields models.RecordFields) error {
	return r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
		current, err := scanRecord(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
			}
			return err
		}

		next := fields.Apply(*current)
		next.UpdatedAt = r.now().UTC()
		deps, err := encodeDependencies(next.Dependencies)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE records SET
				name = ?, reach = ?, impact = ?, confidence = ?, effort = ?, rice_score = ?,
				status = ?, category = ?, project = ?, due_date = ?, dependencies_json = ?, updated_at = ?
			WHERE id = ?
		`,
			next.Name, next.Reach, next.Impact, next.Confidence, next.Effort, next.Score,
			string(next.Status), nullString(next.Category), nullString(next.Project),
			formatDate(next.DueDate), deps, next.UpdatedAt.Format(timestampLayout), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update record: %w", err)
		}
		return nil
	})
}

// List returns records matching filter, sorted descending by the filter's
// sort field (rice_score when unset).
func (r *RecordRepository) List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	filter = filter.Normalize()

	query := `SELECT ` + recordColumns + ` FROM records WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}

	column, ok := recordSortColumns[filter.SortBy]
	if !ok {
		column = "rice_score"
	}
	query += ` ORDER BY ` + column + ` DESC, created_at DESC, id LIMIT ?`
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// Delete removes the record with id.
func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecWithRetry(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get deleted count: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
	}
	return nil
}

// Count returns the number of stored records.
func (r *RecordRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var status, createdAt, updatedAt string
	var category, project, dueDate, deps, sessionID sql.NullString

	err := row.Scan(
		&rec.RecordID,
		&rec.TaskID,
		&rec.Name,
		&rec.Reach,
		&rec.Impact,
		&rec.Confidence,
		&rec.Effort,
		&rec.Score,
		&status,
		&category,
		&project,
		&dueDate,
		&deps,
		&sessionID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.Status = models.RecordStatus(status)
	rec.Category = category.String
	rec.Project = project.String
	rec.SessionID = sessionID.String
	if dueDate.Valid && dueDate.String != "" {
		if t, err := time.Parse(time.DateOnly, dueDate.String); err == nil {
			rec.DueDate = &t
		}
	}
	if deps.Valid && deps.String != "" {
		if err := json.Unmarshal([]byte(deps.String), &rec.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to decode dependencies: %w", err)
		}
	}
	if t, err := time.Parse(timestampLayout, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(timestampLayout, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func encodeDependencies(deps []string) (*string, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dependencies: %w", err)
	}
	s := string(data)
	return &s, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.DateOnly)
	return &s
}
