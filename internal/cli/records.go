package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tOgg1/bishma/internal/models"
)

func newRecordsCmd(a *app) *cobra.Command {
	var (
		status      string
		sortBy      string
		limit       int
		sessionOnly bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"saved"},
		Short:   "List tasks saved to the record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.RecordFilter{
				Status: status,
				SortBy: models.SortField(sortBy),
				Limit:  limit,
			}
			if err := filter.Validate(); err != nil {
				return err
			}
			if sessionOnly {
				id, err := a.resolveSession(false)
				if err != nil {
					return err
				}
				filter.SessionID = id
			}

			gw, err := a.registry.Open(cmd.Context(), a.cfg.Gateway.Backend, a.cfg.GatewayOptions())
			if err != nil {
				return fmt.Errorf("open %s gateway: %w", a.cfg.Gateway.Backend, err)
			}
			defer gw.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Gateway.Timeout)
			defer cancel()
			records, err := gw.ListRecords(ctx, filter.Normalize())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(a.out, records)
			}
			if len(records) == 0 {
				fmt.Fprintf(a.out, "No records in %s\n", gw.Name())
				return nil
			}
			return writeTable(a.out, recordHeaders, recordRows(records, time.Now()))
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "pending, in_progress, completed, blocked, deferred or all")
	cmd.Flags().StringVar(&sortBy, "sort", string(models.SortByScore), "rice_score, effort, status or created_at (always descending)")
	cmd.Flags().IntVar(&limit, "limit", models.DefaultRecordLimit, "maximum records to list")
	cmd.Flags().BoolVar(&sessionOnly, "this-session", false, "only records saved from the current session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

var recordHeaders = []string{"RECORD", "TASK", "SCORE", "R", "I", "C", "E", "STATUS", "SAVED"}

func recordRows(records []models.Record, now time.Time) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			shortID(rec.RecordID),
			rec.Name,
			fmt.Sprintf("%.2f", rec.Score),
			humanize.Ftoa(rec.Reach),
			humanize.Ftoa(rec.Impact),
			humanize.Ftoa(rec.Confidence),
			humanize.Ftoa(rec.Effort),
			string(rec.Status),
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
		})
	}
	return rows
}
