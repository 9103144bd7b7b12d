package main

import (
	"slices"
	"time"

	"github.com/spf13/cobra"

	"aide/pkg/activity"
	"aide/pkg/protocol"
)

type activityConfig struct {
	user   string
	turn   string
	status string
	limit  int
	json   bool
}

// newActivityCmd creates the "aide activity" subcommand.
func newActivityCmd(e *env) *cobra.Command {
	var ac activityConfig

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the durable activity log",
		Long:  "Reads the activity log without opening the database for writing,\nso it is safe to run next to a busy aide serve.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := activity.NewReader(e.paths.StateDB)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			recs, err := r.Query(cmd.Context(), activity.QueryOpts{
				UserID:    ac.user,
				TurnToken: ac.turn,
				Status:    protocol.ActivityStatus(ac.status),
				Limit:     ac.limit,
			})
			if err != nil {
				return err
			}
			// Oldest first, like a log tail.
			slices.Reverse(recs)

			if ac.json {
				return writeJSONTo(cmd.OutOrStdout(), recs)
			}
			printActivity(newPrinter(cmd.OutOrStdout()), recs)
			return nil
		},
	}

	cmd.Flags().StringVar(&ac.user, "user", "", "only this user's activity")
	cmd.Flags().StringVar(&ac.turn, "turn", "", "only this turn token")
	cmd.Flags().StringVar(&ac.status, "status", "", "only this status (started, thinking, approval_required, completed, error, cancelled)")
	cmd.Flags().IntVarP(&ac.limit, "limit", "n", 20, "number of records (0 for all)")
	cmd.Flags().BoolVar(&ac.json, "json", false, "print JSON")

	return cmd
}

func printActivity(p *printer, recs []protocol.ActivityRecord) {
	if len(recs) == 0 {
		p.println(p.style(p.muted, "no activity"))
		return
	}
	for _, rec := range recs {
		agentType := string(rec.AgentType)
		if agentType == "" {
			agentType = "supervisor"
		}
		p.printf("%s  %-8s  %-10s  %s  %s\n",
			p.style(p.muted, rec.CreatedAt.Local().Format(time.DateTime)),
			rec.UserID, agentType, p.status(string(rec.Status)), rec.Detail)
	}
}
