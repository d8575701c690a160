package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tOgg1/bishma/internal/db"
	"github.com/tOgg1/bishma/internal/models"
)

func newEventsCmd(a *app) *cobra.Command {
	var (
		eventType   string
		limit       int
		allSessions bool
		prune       time.Duration
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the persisted event log",
		Long: `Show the persisted event log of the current session.

The log is written only when events.persist is enabled. With --prune the
command deletes events older than the given age instead of listing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Events.Persist {
				return errors.New("event log is off; set events.persist: true to record events")
			}
			ctx := cmd.Context()
			database, err := db.Open(db.Config{Path: a.cfg.EventsPath()})
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer database.Close()
			if _, err := database.MigrateUp(ctx); err != nil {
				return fmt.Errorf("migrate event log: %w", err)
			}
			repo := db.NewEventRepository(database)

			if prune > 0 {
				n, err := repo.DeleteOlderThan(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted %d event(s)\n", n)
				return nil
			}

			query := db.EventQuery{Limit: limit}
			if eventType != "" {
				t := models.EventType(eventType)
				query.Type = &t
			}
			if !allSessions {
				id, err := a.resolveSession(false)
				if err != nil {
					return err
				}
				query.SessionID = id
			}
			list, err := repo.Query(ctx, query)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(a.out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, "No events")
				return nil
			}
			return writeTable(a.out, eventHeaders, eventRows(list, time.Now()))
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "only events of this type, e.g. task.synced")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	cmd.Flags().BoolVar(&allSessions, "all", false, "events of every session")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete events older than this age")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

var eventHeaders = []string{"WHEN", "TYPE", "ENTITY", "ID"}

func eventRows(list []*models.Event, now time.Time) [][]string {
	rows := make([][]string, 0, len(list))
	for _, event := range list {
		rows = append(rows, []string{
			humanize.RelTime(event.Timestamp, now, "ago", "from now"),
			string(event.Type),
			string(event.EntityType),
			shortID(event.EntityID),
		})
	}
	return rows
}
