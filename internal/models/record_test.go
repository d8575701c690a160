package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFilterValidate(t *testing.T) {
	assert.NoError(t, RecordFilter{}.Validate())
	assert.NoError(t, RecordFilter{Status: "all", SortBy: SortByEffort, Limit: 5}.Validate())

	err := RecordFilter{Status: "done", SortBy: "priority", Limit: -1}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	var validation *ValidationErrors
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, []string{"status", "sort_by", "limit"}, validation.Fields())
}

func TestRecordFilterNormalize(t *testing.T) {
	f := RecordFilter{Status: "all", SortBy: "priority"}.Normalize()
	assert.Empty(t, f.Status)
	assert.Empty(t, f.SortBy)
	assert.Equal(t, DefaultRecordLimit, f.Limit)
}

func TestNewRecordRequiresCompleteTask(t *testing.T) {
	_, err := NewRecord(Task{ID: "t1", Description: "x"}, 0, "s1")
	assert.ErrorIs(t, err, ErrTaskIncomplete)

	task := Task{
		ID:          "t1",
		Description: "Fix bug",
		Parameters:  Parameters{Reach: Float(500), Impact: Float(9), Confidence: Float(0.8), Effort: Float(2)},
		Completeness: Completeness{
			HasReach: true, HasImpact: true, HasConfidence: true, HasEffort: true, IsComplete: true,
		},
		Metadata: Metadata{Dependencies: []string{"t0"}},
	}
	rec, err := NewRecord(task, 1800, "s1")
	require.NoError(t, err)
	assert.Equal(t, DefaultCategory, rec.Category)
	assert.Equal(t, RecordStatusPending, rec.Status)
	assert.Equal(t, 1800.0, rec.Score)
	assert.Equal(t, []string{"t0"}, rec.Dependencies)

	rec = FieldsFromTask(task).Apply(Record{Name: "old"})
	assert.Equal(t, "Fix bug", rec.Name)
	assert.Equal(t, 2.0, rec.Effort)
}
