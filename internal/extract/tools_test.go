package extract

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/bishma/internal/models"
)

func TestParseToolCallUpdate(t *testing.T) {
	action, err := ParseToolCall("update_task_state", `{
		"task_description": "  fix bug ",
		"updates": {"reach": 500, "category": "work", "deadline": "2026-11-02", "dependencies": ["t1"]}
	}`)
	require.NoError(t, err)

	update, ok := action.(CreateOrUpdate)
	require.True(t, ok)
	assert.True(t, update.IsCreate())
	assert.Equal(t, "fix bug", update.Description)
	require.NotNil(t, update.Params.Reach)
	assert.Equal(t, 500.0, *update.Params.Reach)
	assert.Nil(t, update.Params.Impact)
	require.NotNil(t, update.Metadata.Category)
	assert.Equal(t, "work", *update.Metadata.Category)
	require.NotNil(t, update.Metadata.Deadline)
	assert.Equal(t, time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC), *update.Metadata.Deadline)
	assert.Equal(t, []string{"t1"}, update.Metadata.Dependencies)
}

func TestParseToolCallRead(t *testing.T) {
	tests := []struct {
		name string
		args string
		want models.RecordFilter
	}{
		{name: "defaults", args: `{}`, want: models.RecordFilter{Limit: 20}},
		{name: "empty arguments", args: ``, want: models.RecordFilter{Limit: 20}},
		{name: "all means no filter", args: `{"filter_status":"all"}`, want: models.RecordFilter{Limit: 20}},
		{
			name: "everything",
			args: `{"filter_status":"completed","sort_by":"effort","limit":5}`,
			want: models.RecordFilter{Status: "completed", SortBy: models.SortByEffort, Limit: 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := ParseToolCall("read_from_airtable", tt.args)
			require.NoError(t, err)
			read, ok := action.(RequestRead)
			require.True(t, ok)
			assert.Equal(t, tt.want, read.Filter)
		})
	}
}

func TestParseToolCallRejects(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args string
	}{
		{name: "unknown tool", tool: "delete_everything", args: `{}`},
		{name: "malformed json", tool: "write_to_airtable", args: `{"task_id":`},
		{name: "missing task id", tool: "write_to_airtable", args: `{}`},
		{name: "wrong type", tool: "update_task_state", args: `{"task_id":"t1","updates":{"reach":"lots"}}`},
		{name: "bad deadline", tool: "update_task_state", args: `{"task_id":"t1","updates":{"deadline":"next friday"}}`},
		{name: "no id or description", tool: "update_task_state", args: `{"updates":{"reach":1}}`},
		{name: "bad status", tool: "read_from_airtable", args: `{"filter_status":"done"}`},
		{name: "bad sort", tool: "read_from_airtable", args: `{"sort_by":"name"}`},
		{name: "fractional limit", tool: "read_from_airtable", args: `{"limit":2.5}`},
		{name: "zero limit", tool: "read_from_airtable", args: `{"limit":0}`},
		{name: "split without subtasks", tool: "split_task", args: `{"parent_task_id":"t1","subtasks":[]}`},
		{name: "split with blank subtask", tool: "split_task", args: `{"parent_task_id":"t1","subtasks":["a"," "]}`},
		{name: "trailing data", tool: "write_to_airtable", args: `{"task_id":"t1"} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := ParseToolCall(tt.tool, tt.args)
			require.Error(t, err)
			assert.Nil(t, action)
			assert.True(t, errors.Is(err, models.ErrInvalidAction), err.Error())
		})
	}
}

func TestParseToolCallSplitAndPersist(t *testing.T) {
	action, err := ParseToolCall("split_task", `{"parent_task_id":"t1","subtasks":[" design ","build"]}`)
	require.NoError(t, err)
	assert.Equal(t, Split{ParentID: "t1", Subtasks: []string{"design", "build"}}, action)

	action, err = ParseToolCall("write_to_airtable", `{"task_id":"t1"}`)
	require.NoError(t, err)
	assert.Equal(t, RequestPersist{TaskID: "t1"}, action)
	assert.Equal(t, KindRequestPersist, action.Kind())
}

func TestToolsSchema(t *testing.T) {
	tools := Tools()
	require.Len(t, tools, 4)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Function.Name)
		assert.Equal(t, "function", tool.Type)
	}
	assert.ElementsMatch(t, []string{"read_from_airtable", "update_task_state", "write_to_airtable", "split_task"}, names)

	data, err := json.Marshal(tools)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"required":["parent_task_id","subtasks"]`)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(CreateOrUpdate{TaskID: "t1"}))
	assert.True(t, errors.Is(Validate(nil), models.ErrInvalidAction))
	assert.True(t, errors.Is(Validate(RequestRead{Filter: models.RecordFilter{SortBy: "name"}}), models.ErrInvalidAction))

	var validation *models.ValidationErrors
	require.ErrorAs(t, Validate(Split{}), &validation)
	assert.Equal(t, []string{"parent_task_id", "subtasks"}, validation.Fields())
}
