package app

import (
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/capsule-io/timelapse-trip/cmd/timelapse-trip/app/options"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/jobstore"
)

const recentJobs = 10

func newSessionsCommand(opts *options.TripOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List captured sessions and recent assembly jobs",
		Long: `List the sessions waiting in the capture root with the verdict admission
would give them, followed by the most recent assembly jobs. Nothing is moved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}

			verdicts, err := cfg.NewAdmission().Inspect()
			if err != nil {
				return err
			}

			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("SESSION", "FRAMES", "START", "VERDICT")
			for _, v := range verdicts {
				verdict := "accept"
				if !v.Accepted {
					verdict = "reject: " + v.Reason
				}
				table.AddRow(v.Session.Name, v.Session.Len(), formatTime(v.Session.Start()), verdict)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)

			store, err := jobstore.Open(cfg.JobStorePath)
			if err != nil {
				return fmt.Errorf("failed to open job store: %w", err)
			}
			defer store.Close()

			jobs, err := store.Recent(cmd.Context(), recentJobs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), jobsTable(jobs))
			return nil
		},
	}
}

func jobsTable(jobs []jobstore.Job) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("JOB", "SESSION", "STATE", "WRITTEN", "SKIPPED", "COVERAGE", "UPDATED", "ERROR")
	for _, j := range jobs {
		table.AddRow(j.ID, j.Session, j.State, j.Written, j.Skipped, j.Coverage, formatTime(j.UpdatedAt), j.Error)
	}
	return table
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateTime)
}
