package models

import "time"

// RecordStatus is the status column of a persisted record.
type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusInProgress RecordStatus = "in_progress"
	RecordStatusCompleted  RecordStatus = "completed"
	RecordStatusBlocked    RecordStatus = "blocked"
	RecordStatusDeferred   RecordStatus = "deferred"
)

// DefaultCategory is written when a task carries no category.
const DefaultCategory = "work"

// Valid reports whether s is a known status.
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusPending, RecordStatusInProgress, RecordStatusCompleted,
		RecordStatusBlocked, RecordStatusDeferred:
		return true
	}
	return false
}

// SortField names the column used to order record listings.
type SortField string

const (
	SortByScore     SortField = "rice_score"
	SortByEffort    SortField = "effort"
	SortByStatus    SortField = "status"
	SortByCreatedAt SortField = "created_at"
)

// Valid reports whether f is a known sort field.
func (f SortField) Valid() bool {
	switch f {
	case SortByScore, SortByEffort, SortByStatus, SortByCreatedAt:
		return true
	}
	return false
}

// DefaultRecordLimit caps listings when no limit is given.
const DefaultRecordLimit = 20

// Record is a task as stored by a persistence gateway.
type Record struct {
	RecordID     string       `json:"record_id"`
	TaskID       string       `json:"task_id"`
	Name         string       `json:"name"`
	Reach        float64      `json:"reach"`
	Impact       float64      `json:"impact"`
	Confidence   float64      `json:"confidence"`
	Effort       float64      `json:"effort"`
	Score        float64      `json:"rice_score"`
	Status       RecordStatus `json:"status"`
	Category     string       `json:"category,omitempty"`
	Project      string       `json:"project,omitempty"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
	SessionID    string       `json:"session_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// RecordFields is a partial update pushed to an existing record.
type RecordFields struct {
	Name         *string       `json:"name,omitempty"`
	Reach        *float64      `json:"reach,omitempty"`
	Impact       *float64      `json:"impact,omitempty"`
	Confidence   *float64      `json:"confidence,omitempty"`
	Effort       *float64      `json:"effort,omitempty"`
	Score        *float64      `json:"rice_score,omitempty"`
	Status       *RecordStatus `json:"status,omitempty"`
	Category     *string       `json:"category,omitempty"`
	Project      *string       `json:"project,omitempty"`
	DueDate      *time.Time    `json:"due_date,omitempty"`
	Dependencies []string      `json:"dependencies,omitempty"`
}

// RecordFilter narrows a record listing.
type RecordFilter struct {
	// Status filters by record status. Empty or "all" matches every status.
	Status    string    `json:"status,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	SortBy    SortField `json:"sort_by,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// Normalize fills defaults and drops unknown values.
func (f RecordFilter) Normalize() RecordFilter {
	if f.Status == "all" {
		f.Status = ""
	}
	if f.Status != "" && !RecordStatus(f.Status).Valid() {
		f.Status = ""
	}
	if f.SortBy != "" && !f.SortBy.Valid() {
		f.SortBy = ""
	}
	if f.Limit <= 0 {
		f.Limit = DefaultRecordLimit
	}
	return f
}

// Validate rejects unknown statuses and sort fields and negative limits.
func (f RecordFilter) Validate() error {
	validation := &ValidationErrors{}
	if f.Status != "" && f.Status != "all" && !RecordStatus(f.Status).Valid() {
		validation.AddInvalid("status", "unknown status %q", f.Status)
	}
	if f.SortBy != "" && !f.SortBy.Valid() {
		validation.AddInvalid("sort_by", "unknown sort field %q", f.SortBy)
	}
	if f.Limit < 0 {
		validation.AddInvalid("limit", "must not be negative, got %d", f.Limit)
	}
	return validation.Err()
}

// NewRecord builds the record written for a complete task.
func NewRecord(task Task, score float64, sessionID string) (Record, error) {
	if !task.Completeness.IsComplete {
		return Record{}, ErrTaskIncomplete
	}
	p := task.Parameters
	category := task.Metadata.Category
	if category == "" {
		category = DefaultCategory
	}
	rec := Record{
		TaskID:     task.ID,
		Name:       task.Description,
		Reach:      *p.Reach,
		Impact:     *p.Impact,
		Confidence: *p.Confidence,
		Effort:     *p.Effort,
		Score:      score,
		Status:     RecordStatusPending,
		Category:   category,
		Project:    task.Metadata.Project,
		SessionID:  sessionID,
	}
	if task.Metadata.Deadline != nil {
		d := *task.Metadata.Deadline
		rec.DueDate = &d
	}
	if len(task.Metadata.Dependencies) > 0 {
		rec.Dependencies = append([]string(nil), task.Metadata.Dependencies...)
	}
	return rec, nil
}

// FieldsFromTask builds the full update pushed by a resync.
func FieldsFromTask(task Task) RecordFields {
	p := task.Parameters.Clone()
	fields := RecordFields{
		Name:       String(task.Description),
		Reach:      p.Reach,
		Impact:     p.Impact,
		Confidence: p.Confidence,
		Effort:     p.Effort,
		Score:      cloneFloat(task.Score),
		Project:    String(task.Metadata.Project),
	}
	if task.Metadata.Category != "" {
		fields.Category = String(task.Metadata.Category)
	}
	if task.Metadata.Deadline != nil {
		d := *task.Metadata.Deadline
		fields.DueDate = &d
	}
	if len(task.Metadata.Dependencies) > 0 {
		fields.Dependencies = append([]string(nil), task.Metadata.Dependencies...)
	}
	return fields
}

// Apply merges fields into r.
func (fields RecordFields) Apply(r Record) Record {
	if fields.Name != nil {
		r.Name = *fields.Name
	}
	if fields.Reach != nil {
		r.Reach = *fields.Reach
	}
	if fields.Impact != nil {
		r.Impact = *fields.Impact
	}
	if fields.Confidence != nil {
		r.Confidence = *fields.Confidence
	}
	if fields.Effort != nil {
		r.Effort = *fields.Effort
	}
	if fields.Score != nil {
		r.Score = *fields.Score
	}
	if fields.Status != nil {
		r.Status = *fields.Status
	}
	if fields.Category != nil {
		r.Category = *fields.Category
	}
	if fields.Project != nil {
		r.Project = *fields.Project
	}
	if fields.DueDate != nil {
		d := *fields.DueDate
		r.DueDate = &d
	}
	if fields.Dependencies != nil {
		r.Dependencies = append([]string(nil), fields.Dependencies...)
	}
	return r
}
