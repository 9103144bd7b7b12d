package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"aide/pkg/protocol"
)

// newTrustCmd creates the "aide trust" command group.
func newTrustCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and override agent trust levels",
	}
	cmd.AddCommand(newTrustListCmd(e), newTrustSetCmd(e))
	return cmd
}

func newTrustListCmd(e *env) *cobra.Command {
	var (
		user   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show trust scores for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), e.paths.StateDB, e.cfg, false, e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			scores, err := rt.sup.TrustOverview(cmd.Context(), user)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSONTo(cmd.OutOrStdout(), scores)
			}
			printScores(newPrinter(cmd.OutOrStdout()), scores)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", defaultUser(), "user id (default $AIDE_USER)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printScores(p *printer, scores []protocol.TrustScore) {
	if len(scores) == 0 {
		p.println(p.style(p.muted, "no trust history yet"))
		return
	}
	tw := p.table()
	fmt.Fprintln(tw, "AGENT\tACTION\tLEVEL\tSUCCESS\tOVERRIDE")
	for _, s := range scores {
		override := ""
		if s.ManualOverride {
			override = "manual"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d %s\t%d/%d\t%s\n",
			s.AgentType, s.ActionType, s.Level, s.Level, s.SuccessfulActions, s.TotalActions, override)
	}
	_ = tw.Flush()
}

func newTrustSetCmd(e *env) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "set <agent> <level>",
		Short: "Set every action of an agent to a trust level (1 new, 2 trusted, 3 autonomous)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentType := protocol.AgentType(args[0])
			if !agentType.Valid() {
				return fmt.Errorf("unknown agent %q (want one of %v)", args[0], protocol.AgentTypes)
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("level %q: %w", args[1], err)
			}

			rt, err := openRuntime(cmd.Context(), e.paths.StateDB, e.cfg, false, e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			scores, err := rt.sup.SetTrustLevel(cmd.Context(), user, agentType, protocol.TrustLevel(n))
			if err != nil {
				return err
			}
			printScores(newPrinter(cmd.OutOrStdout()), scores)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", defaultUser(), "user id (default $AIDE_USER)")
	return cmd
}
