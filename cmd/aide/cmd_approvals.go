package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aide/pkg/approval"
	"aide/pkg/protocol"
)

// newApprovalsCmd creates the "aide approvals" command group.
func newApprovalsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List, decide and expire approval requests",
	}
	cmd.AddCommand(
		newApprovalsListCmd(e),
		newApprovalsDecideCmd(e),
		newApprovalsSweepCmd(e),
	)
	return cmd
}

func newApprovalsListCmd(e *env) *cobra.Command {
	var (
		user   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), e.paths.StateDB, e.cfg, false, e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			pending, err := rt.sup.PendingApprovals(cmd.Context(), user)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSONTo(cmd.OutOrStdout(), pending)
			}
			printApprovals(newPrinter(cmd.OutOrStdout()), pending, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only this user's requests")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printApprovals(p *printer, pending []protocol.ApprovalRequest, now time.Time) {
	if len(pending) == 0 {
		p.println(p.style(p.muted, "no pending approvals"))
		return
	}
	tw := p.table()
	fmt.Fprintln(tw, "ID\tUSER\tACTION\tEXPIRES IN")
	for _, req := range pending {
		left := max(req.ExpiresAt.Sub(now), 0).Round(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\n", req.ID, req.UserID, req.AgentType, req.ActionType, left)
	}
	_ = tw.Flush()
}

type decideConfig struct {
	approve bool
	reject  bool
	reason  string
	json    bool
}

func newApprovalsDecideCmd(e *env) *cobra.Command {
	var dc decideConfig
	cmd := &cobra.Command{
		Use:   "decide <approval-id>",
		Short: "Approve or reject a pending request and resume its turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dc.approve == dc.reject {
				return errors.New("exactly one of --approve or --reject is required")
			}

			rt, err := openRuntime(cmd.Context(), e.paths.StateDB, e.cfg, false, e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			d, err := rt.sup.DecideApproval(cmd.Context(), args[0], dc.approve, dc.reason)
			if d.Approval.ID == "" {
				return err
			}
			if dc.json {
				if jerr := writeJSONTo(cmd.OutOrStdout(), d); jerr != nil {
					return jerr
				}
				return err
			}

			p := newPrinter(cmd.OutOrStdout())
			if d.Resolution == approval.AlreadyResolved {
				p.printf("approval %s was already %s\n", d.Approval.ID, p.status(string(d.Approval.Status)))
				return err
			}
			p.printf("approval %s %s\n", d.Approval.ID, p.status(string(d.Approval.Status)))
			if d.Turn != nil {
				printTurn(p, *d.Turn, time.Now())
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dc.approve, "approve", false, "approve the request")
	cmd.Flags().BoolVar(&dc.reject, "reject", false, "reject the request")
	cmd.Flags().StringVar(&dc.reason, "reason", "", "reason recorded with the decision")
	cmd.Flags().BoolVar(&dc.json, "json", false, "print the decision as JSON")
	return cmd
}

func newApprovalsSweepCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue approvals once and resume their turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), e.paths.StateDB, e.cfg, false, e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			n, err := rt.sup.ExpireSweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d approval(s)\n", n)
			return nil
		},
	}
}
