package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/rice"
	"github.com/tOgg1/bishma/internal/session"
	"github.com/tOgg1/bishma/internal/snapshot"
)

func newTasksCmd(a *app) *cobra.Command {
	var (
		complete   bool
		incomplete bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task", "ls"},
		Short:   "List the tasks of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if complete && incomplete {
				return errors.New("--complete and --incomplete are mutually exclusive")
			}
			id, err := a.resolveSession(false)
			if err != nil {
				return err
			}
			// Read only: no gateway or extractor is needed to list.
			sess, err := session.Open(session.Options{
				ID:        id,
				Snapshots: snapshot.NewFileStore(snapshot.PathFor(a.cfg.SnapshotDir(), id)),
			})
			if err != nil {
				return err
			}
			store := sess.Store()

			var tasks []models.Task
			switch {
			case complete:
				tasks = store.ListComplete()
			case incomplete:
				tasks = store.PriorityQueue()
			default:
				tasks = store.ListAll()
			}

			if asJSON {
				return writeJSON(a.out, tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintf(a.out, "No tasks in session %s\n", id)
				return nil
			}
			focusID, _ := sess.Focus().Current()
			return writeTable(a.out, taskHeaders, taskRows(tasks, focusID, time.Now()))
		},
	}
	cmd.Flags().BoolVar(&complete, "complete", false, "only scored tasks")
	cmd.Flags().BoolVar(&incomplete, "incomplete", false, "only tasks still missing parameters, most complete first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

var taskHeaders = []string{"ID", "TASK", "PARAMS", "SCORE", "SYNC", "UPDATED"}

func taskRows(tasks []models.Task, focusID string, now time.Time) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		name := task.Description
		if task.ID == focusID {
			name = "* " + name
		}
		score := "-"
		if task.Score != nil {
			score = fmt.Sprintf("%.2f", *task.Score)
		}
		sync := string(task.SyncStatus)
		if task.IsSynced() && task.Stale() {
			sync += " (edited)"
		}
		rows = append(rows, []string{
			shortID(task.ID),
			name,
			fmt.Sprintf("%d/4", rice.SetCount(task.Parameters)),
			score,
			sync,
			humanize.RelTime(task.LastUpdated, now, "ago", "from now"),
		})
	}
	return rows
}
