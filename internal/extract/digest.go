package extract

import (
	"fmt"
	"strings"

	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/rice"
)

// BuildDigest renders the task state the model is given each turn. tasks
// should be in creation order. focus may be nil.
func BuildDigest(sessionID string, focus *models.Task, tasks []models.Task) string {
	var incomplete, complete []models.Task
	for _, task := range tasks {
		if task.Completeness.IsComplete {
			complete = append(complete, task)
		} else {
			incomplete = append(incomplete, task)
		}
	}

	var b strings.Builder
	if focus != nil {
		fmt.Fprintf(&b, "CURRENT FOCUS: %s\n", focus.Description)
		fmt.Fprintf(&b, "Missing: %s\n\n", joinParams(rice.Missing(focus.Parameters)))
	}

	fmt.Fprintf(&b, "Session: %s\n", sessionID)
	fmt.Fprintf(&b, "Active Tasks: %d\n", len(incomplete))
	fmt.Fprintf(&b, "Completed Tasks: %d\n", len(complete))

	if len(incomplete) > 0 {
		b.WriteString("\nIncomplete Tasks:\n")
		for _, task := range incomplete {
			missing := rice.Missing(task.Parameters)
			fmt.Fprintf(&b, "- %s (%d/4 parameters) - Missing: %s\n",
				task.Description, len(models.CanonicalParams)-len(missing), joinParams(missing))
		}
	}

	if len(complete) > 0 {
		b.WriteString("\nReady to save:\n")
		for _, task := range complete {
			fmt.Fprintf(&b, "- %s (RICE: %s)%s\n", task.Description, formatScore(task.Score), syncNote(task))
		}
	}
	return b.String()
}

// TaskIndex lists known tasks by id for the model to reference.
func TaskIndex(tasks []models.Task) string {
	var b strings.Builder
	for _, task := range tasks {
		state := "INCOMPLETE"
		if task.Completeness.IsComplete {
			state = "COMPLETE"
		}
		fmt.Fprintf(&b, "- [%s] %q (%s)\n", task.ID, task.Description, state)
	}
	return b.String()
}

func joinParams(params []models.ParamName) string {
	if len(params) == 0 {
		return "none"
	}
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *score)
}

func syncNote(task models.Task) string {
	if task.SyncStatus == models.SyncStatusSynced {
		return " [saved]"
	}
	return ""
}
