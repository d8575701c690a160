package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tOgg1/bishma/internal/models"
)

// Tool is a function definition offered to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes one callable function and its JSON schema.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tools returns the four functions the model may call.
func Tools() []Tool {
	return []Tool{
		{
			Type: "function",
			Function: ToolFunction{
				Name:        string(KindRequestRead),
				Description: "Read saved tasks from the record store to answer questions about current tasks, priorities or status",
				Parameters: object(map[string]any{
					"filter_status": map[string]any{
						"type":        "string",
						"description": "Only return records with this status; all or omitted returns every status",
						"enum":        []string{"pending", "in_progress", "completed", "blocked", "deferred", "all"},
					},
					"sort_by": map[string]any{
						"type":        "string",
						"description": "Field to sort by, descending",
						"enum":        []string{"rice_score", "effort", "status", "created_at"},
						"default":     "rice_score",
					},
					"limit": map[string]any{
						"type":        "number",
						"description": "Maximum number of records to return",
						"default":     models.DefaultRecordLimit,
					},
				}),
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        string(KindCreateOrUpdate),
				Description: "Create a task or update an existing task with RICE parameters and metadata",
				Parameters: object(map[string]any{
					"task_id": map[string]any{
						"type":        "string",
						"description": "Id of the task to update; omit to create a new task",
					},
					"task_description": map[string]any{
						"type":        "string",
						"description": "Task description; required for new tasks, renames an existing task",
					},
					"updates": object(map[string]any{
						"reach":        numberField("How many people are affected"),
						"impact":       numberField("Size of the effect, 1 to 10"),
						"confidence":   numberField("Confidence in the estimates, 0.1 to 1.0"),
						"effort":       numberField("Hours of work required"),
						"category":     stringField("Category such as work, personal, home or business"),
						"deadline":     stringField("Deadline in YYYY-MM-DD format"),
						"project":      stringField("Project name or grouping"),
						"dependencies": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Ids of tasks that must finish first"},
					}),
				}),
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        string(KindRequestPersist),
				Description: "Write a task that has all four RICE parameters to the record store",
				Parameters: object(map[string]any{
					"task_id": stringField("Id of the task to write"),
				}, "task_id"),
			},
		},
		{
			Type: "function",
			Function: ToolFunction{
				Name:        string(KindSplit),
				Description: "Split a large task into smaller subtasks",
				Parameters: object(map[string]any{
					"parent_task_id": stringField("Id of the task to split"),
					"subtasks": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Subtask descriptions",
					},
				}, "parent_task_id", "subtasks"),
			},
		},
	}
}

func object(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func numberField(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func stringField(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

type readArgs struct {
	FilterStatus string   `json:"filter_status"`
	SortBy       string   `json:"sort_by"`
	Limit        *float64 `json:"limit"`
}

type updateArgs struct {
	TaskID          string `json:"task_id"`
	TaskDescription string `json:"task_description"`
	Updates         struct {
		Reach        *float64 `json:"reach"`
		Impact       *float64 `json:"impact"`
		Confidence   *float64 `json:"confidence"`
		Effort       *float64 `json:"effort"`
		Category     *string  `json:"category"`
		Deadline     *string  `json:"deadline"`
		Project      *string  `json:"project"`
		Dependencies []string `json:"dependencies"`
	} `json:"updates"`
}

type writeArgs struct {
	TaskID string `json:"task_id"`
}

type splitArgs struct {
	ParentTaskID string   `json:"parent_task_id"`
	Subtasks     []string `json:"subtasks"`
}

// ParseToolCall turns one tool call into an Action. Unknown names and
// arguments that don't fit the schema are rejected with ErrInvalidAction.
func ParseToolCall(name, arguments string) (Action, error) {
	var (
		action Action
		err    error
	)
	switch Kind(name) {
	case KindRequestRead:
		action, err = parseRead(arguments)
	case KindCreateOrUpdate:
		action, err = parseUpdate(arguments)
	case KindRequestPersist:
		var args writeArgs
		if err = decodeArgs(arguments, &args); err == nil {
			action = RequestPersist{TaskID: strings.TrimSpace(args.TaskID)}
		}
	case KindSplit:
		var args splitArgs
		if err = decodeArgs(arguments, &args); err == nil {
			subtasks := make([]string, 0, len(args.Subtasks))
			for _, desc := range args.Subtasks {
				subtasks = append(subtasks, strings.TrimSpace(desc))
			}
			action = Split{ParentID: strings.TrimSpace(args.ParentTaskID), Subtasks: subtasks}
		}
	default:
		return nil, fmt.Errorf("%w: unknown tool %q", models.ErrInvalidAction, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalidAction, name, err)
	}
	if err := Validate(action); err != nil {
		return nil, err
	}
	return action, nil
}

func decodeArgs(arguments string, out any) error {
	arguments = strings.TrimSpace(arguments)
	if arguments == "" {
		arguments = "{}"
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(arguments)))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("trailing data after arguments")
	}
	return nil
}

func parseRead(arguments string) (Action, error) {
	var args readArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}

	filter := models.RecordFilter{}
	switch status := strings.TrimSpace(args.FilterStatus); status {
	case "", "all":
	default:
		if !models.RecordStatus(status).Valid() {
			return nil, fmt.Errorf("unknown filter_status %q", status)
		}
		filter.Status = status
	}

	if sortBy := strings.TrimSpace(args.SortBy); sortBy != "" {
		if !models.SortField(sortBy).Valid() {
			return nil, fmt.Errorf("unknown sort_by %q", sortBy)
		}
		filter.SortBy = models.SortField(sortBy)
	}

	filter.Limit = models.DefaultRecordLimit
	if args.Limit != nil {
		limit := *args.Limit
		if limit <= 0 || limit != math.Trunc(limit) || limit > math.MaxInt32 {
			return nil, fmt.Errorf("limit must be a positive whole number, got %v", limit)
		}
		filter.Limit = int(limit)
	}
	return RequestRead{Filter: filter}, nil
}

func parseUpdate(arguments string) (Action, error) {
	var args updateArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}

	u := args.Updates
	action := CreateOrUpdate{
		TaskID:      strings.TrimSpace(args.TaskID),
		Description: strings.TrimSpace(args.TaskDescription),
		Params: models.ParameterUpdate{
			Reach:      u.Reach,
			Impact:     u.Impact,
			Confidence: u.Confidence,
			Effort:     u.Effort,
		},
		Metadata: models.MetadataUpdate{
			Category:     u.Category,
			Project:      u.Project,
			Dependencies: u.Dependencies,
		},
	}
	if u.Deadline != nil {
		raw := strings.TrimSpace(*u.Deadline)
		deadline, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("deadline %q is not YYYY-MM-DD", raw)
		}
		action.Metadata.Deadline = &deadline
	}
	return action, nil
}
