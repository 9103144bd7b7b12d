package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aide/pkg/protocol"
	"aide/pkg/supervisor"
)

// defaultUserName is used when neither --user nor AIDE_USER is set.
const defaultUserName = "local"

func defaultUser() string {
	if v := os.Getenv("AIDE_USER"); v != "" {
		return v
	}
	return defaultUserName
}

type askConfig struct {
	user         string
	conversation string
	json         bool
}

// newAskCmd creates the "aide ask" subcommand.
func newAskCmd(e *env) *cobra.Command {
	var ac askConfig

	cmd := &cobra.Command{
		Use:   "ask <message...>",
		Short: "Submit one turn to the assistant",
		Long: "Plans the message, runs each step the agent is trusted to do, and\n" +
			"suspends on the first step that needs your approval.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), e.paths.StateDB, e.cfg, false, e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			res, err := rt.sup.SubmitTurn(cmd.Context(), ac.user, strings.Join(args, " "), ac.conversation)
			if res.Token == "" {
				return err
			}
			if ac.json {
				if jerr := writeJSONTo(cmd.OutOrStdout(), res); jerr != nil {
					return jerr
				}
				return err
			}
			printTurn(newPrinter(cmd.OutOrStdout()), res, time.Now())
			return err
		},
	}

	cmd.Flags().StringVar(&ac.user, "user", defaultUser(), "user id (default $AIDE_USER)")
	cmd.Flags().StringVar(&ac.conversation, "conversation", "", "continue a conversation by id")
	cmd.Flags().BoolVar(&ac.json, "json", false, "print the turn result as JSON")

	return cmd
}

// printTurn renders a turn result for a terminal.
func printTurn(p *printer, res supervisor.TurnResult, now time.Time) {
	p.println(res.Response)
	for _, a := range res.AgentActions {
		p.printf("  %s %s/%s %s\n", p.style(p.muted, "·"), a.AgentType, a.ActionType, outcome(p, a.Outcome))
	}
	for _, req := range res.PendingApprovals {
		left := req.ExpiresAt.Sub(now).Round(time.Second)
		p.printf("%s %s %s/%s, expires in %s\n",
			p.style(p.warn, "approval"), req.ID, req.AgentType, req.ActionType, left)
		p.printf("  %s\n", p.style(p.muted, fmt.Sprintf("aide approvals decide %s --approve", req.ID)))
	}
	p.println(p.style(p.muted, "conversation "+res.ConversationID))
}

func outcome(p *printer, o protocol.Outcome) string {
	switch o {
	case protocol.OutcomeSuccess, protocol.OutcomeApproved:
		return p.style(p.ok, string(o))
	case protocol.OutcomeRejected, protocol.OutcomeTimeout:
		return p.style(p.warn, string(o))
	default:
		return p.style(p.bad, string(o))
	}
}
