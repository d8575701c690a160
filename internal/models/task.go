package models

import (
	"strings"
	"time"
)

// ParamName identifies one of the four RICE parameters.
type ParamName string

const (
	ParamReach      ParamName = "reach"
	ParamImpact     ParamName = "impact"
	ParamConfidence ParamName = "confidence"
	ParamEffort     ParamName = "effort"
)

// CanonicalParams is the fixed reporting order for parameters.
var CanonicalParams = []ParamName{ParamReach, ParamImpact, ParamConfidence, ParamEffort}

// SyncStatus tracks whether a task has been written to the remote record store.
type SyncStatus string

const (
	SyncStatusNotSynced       SyncStatus = "not-synced"
	SyncStatusPartiallySynced SyncStatus = "partially-synced"
	SyncStatusSynced          SyncStatus = "synced"
)

// rank orders statuses so transitions can be checked as forward-only.
func (s SyncStatus) rank() int {
	switch s {
	case SyncStatusPartiallySynced:
		return 1
	case SyncStatusSynced:
		return 2
	default:
		return 0
	}
}

// CanTransitionTo reports whether moving from s to next keeps the status forward-only.
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	return next.rank() >= s.rank()
}

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusNotSynced, SyncStatusPartiallySynced, SyncStatusSynced:
		return true
	}
	return false
}

// Parameters holds the four RICE inputs. A nil field is unset, which is
// distinct from an explicit zero.
type Parameters struct {
	Reach      *float64 `json:"reach,omitempty" yaml:"reach,omitempty"`
	Impact     *float64 `json:"impact,omitempty" yaml:"impact,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Effort     *float64 `json:"effort,omitempty" yaml:"effort,omitempty"`
}

// Get returns the value of a parameter by name.
func (p Parameters) Get(name ParamName) *float64 {
	switch name {
	case ParamReach:
		return p.Reach
	case ParamImpact:
		return p.Impact
	case ParamConfidence:
		return p.Confidence
	case ParamEffort:
		return p.Effort
	}
	return nil
}

// Clone returns a copy that shares no pointers with p.
func (p Parameters) Clone() Parameters {
	return Parameters{
		Reach:      cloneFloat(p.Reach),
		Impact:     cloneFloat(p.Impact),
		Confidence: cloneFloat(p.Confidence),
		Effort:     cloneFloat(p.Effort),
	}
}

// ParameterUpdate is a partial parameter set. Only non-nil fields are merged.
type ParameterUpdate Parameters

// IsEmpty reports whether the update carries no values.
func (u ParameterUpdate) IsEmpty() bool {
	return u.Reach == nil && u.Impact == nil && u.Confidence == nil && u.Effort == nil
}

// Completeness is derived from Parameters and never set directly.
type Completeness struct {
	HasReach      bool `json:"has_reach" yaml:"has_reach"`
	HasImpact     bool `json:"has_impact" yaml:"has_impact"`
	HasConfidence bool `json:"has_confidence" yaml:"has_confidence"`
	HasEffort     bool `json:"has_effort" yaml:"has_effort"`
	IsComplete    bool `json:"is_complete" yaml:"is_complete"`
}

// Metadata holds auxiliary task fields that never affect scoring.
type Metadata struct {
	Category     string     `json:"category,omitempty" yaml:"category,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Project      string     `json:"project,omitempty" yaml:"project,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	ShouldSplit  bool       `json:"should_split,omitempty" yaml:"should_split,omitempty"`

	// ParentID links a subtask to the task it was split from.
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Deadline != nil {
		d := *m.Deadline
		out.Deadline = &d
	}
	if m.Dependencies != nil {
		out.Dependencies = append([]string(nil), m.Dependencies...)
	}
	return out
}

// MetadataUpdate is a partial metadata set. Nil fields are left untouched.
type MetadataUpdate struct {
	Category     *string    `json:"category,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Project      *string    `json:"project,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	ShouldSplit  *bool      `json:"should_split,omitempty"`
	ParentID     *string    `json:"parent_id,omitempty"`
}

// IsEmpty reports whether the update carries no values.
func (u MetadataUpdate) IsEmpty() bool {
	return u.Category == nil && u.Deadline == nil && u.Project == nil &&
		u.Dependencies == nil && u.ShouldSplit == nil && u.ParentID == nil
}

// Apply merges u into m and returns the result.
func (u MetadataUpdate) Apply(m Metadata) Metadata {
	out := m.Clone()
	if u.Category != nil {
		out.Category = strings.TrimSpace(*u.Category)
	}
	if u.Deadline != nil {
		d := *u.Deadline
		out.Deadline = &d
	}
	if u.Project != nil {
		out.Project = strings.TrimSpace(*u.Project)
	}
	if u.Dependencies != nil {
		out.Dependencies = append([]string(nil), u.Dependencies...)
	}
	if u.ShouldSplit != nil {
		out.ShouldSplit = *u.ShouldSplit
	}
	if u.ParentID != nil {
		out.ParentID = *u.ParentID
	}
	return out
}

// Task is a loosely described piece of work whose RICE parameters are being
// gathered through conversation.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"id" yaml:"id"`

	// Seq is the per-session creation sequence used to break ordering ties.
	Seq int64 `json:"seq" yaml:"seq"`

	// Description is the free-text label. Changed only by explicit rename.
	Description string `json:"description" yaml:"description"`

	// Parameters are the RICE inputs gathered so far.
	Parameters Parameters `json:"parameters" yaml:"parameters"`

	// Completeness is derived from Parameters.
	Completeness Completeness `json:"completeness" yaml:"completeness"`

	// Score is present only when the task is complete.
	Score *float64 `json:"score,omitempty" yaml:"score,omitempty"`

	// Metadata holds auxiliary fields.
	Metadata Metadata `json:"metadata" yaml:"metadata"`

	// SyncStatus moves forward only.
	SyncStatus SyncStatus `json:"sync_status" yaml:"sync_status"`

	// RecordID is the remote record id once persisted.
	RecordID string `json:"record_id,omitempty" yaml:"record_id,omitempty"`

	// SyncedAt is when the task was last written remotely.
	SyncedAt *time.Time `json:"synced_at,omitempty" yaml:"synced_at,omitempty"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// LastUpdated is refreshed on every mutation.
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
}

// IsComplete reports whether all four parameters are known.
func (t *Task) IsComplete() bool {
	return t.Completeness.IsComplete
}

// IsSynced reports whether the task has been persisted remotely.
func (t *Task) IsSynced() bool {
	return t.SyncStatus == SyncStatusSynced
}

// Stale reports whether a synced task was edited after its last remote write.
func (t *Task) Stale() bool {
	if t.SyncedAt == nil {
		return false
	}
	return t.LastUpdated.After(*t.SyncedAt)
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	out := t
	out.Parameters = t.Parameters.Clone()
	out.Metadata = t.Metadata.Clone()
	out.Score = cloneFloat(t.Score)
	if t.SyncedAt != nil {
		s := *t.SyncedAt
		out.SyncedAt = &s
	}
	return out
}

// Validate checks structural invariants of a task, typically after restore.
func (t *Task) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(t.ID) == "" {
		validation.AddMessage("id", "id is required")
	}
	if strings.TrimSpace(t.Description) == "" {
		validation.AddMessage("description", "description is required")
	}
	if t.SyncStatus != "" && !t.SyncStatus.Valid() {
		validation.AddMessage("sync_status", "unknown sync status "+string(t.SyncStatus))
	}
	if t.Completeness.IsComplete != (t.Score != nil) {
		validation.AddMessage("score", "score must be present exactly when the task is complete")
	}
	return validation.Err()
}

// Float returns a pointer to v. Handy for building parameter updates.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
