package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"partnerflow/apiclient"
	"partnerflow/resource"
)

func newLeadsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Manage customer leads",
	}
	cmd.AddCommand(
		newLeadsListCommand(a),
		newLeadsShowCommand(a),
		newLeadsCreateCommand(a),
		newLeadsStatusCommand(a),
		newLeadsRemarkCommand(a),
		newLeadsDeleteCommand(a),
	)
	return cmd
}

func newLeadsListCommand(a *app) *cobra.Command {
	var q apiclient.LeadQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			leads := resource.NewSlice[apiclient.Page[apiclient.Lead]]("leads")
			page, err := leads.Run(cmd.Context(), func(ctx context.Context) (apiclient.Page[apiclient.Lead], error) {
				return a.client.ListLeads(ctx, q)
			})
			if err != nil {
				return err
			}

			out := a.printer(cmd)
			if out.JSON() {
				return out.json(page)
			}
			rows := make([][]string, 0, len(page.Items))
			for _, l := range page.Items {
				rows = append(rows, []string{l.ID, l.CustomerName, l.LoanType, rupees(l.LoanAmount), l.Status, ago(l.UpdatedAt)})
			}
			if err := out.table(page, []string{"ID", "CUSTOMER", "TYPE", "AMOUNT", "STATUS", "UPDATED"}, rows); err != nil {
				return err
			}
			out.line("%d of %d leads", len(page.Items), page.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Status, "status", "", "only leads in this status")
	cmd.Flags().StringVar(&q.Search, "search", "", "match customer name, phone or email")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 20, "leads per page")
	cmd.Flags().StringVar(&q.SortKey, "sort", "", "sort by createdAt, updatedAt, loanAmount or customerName")
	cmd.Flags().StringVar(&q.SortOrder, "order", "", "asc or desc")
	return cmd
}

func newLeadsShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a lead with its timeline and remarks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := a.client.GetLead(ctx, args[0])
			if err != nil {
				return err
			}
			events, err := a.client.LeadTimeline(ctx, args[0])
			if err != nil {
				return err
			}
			remarks, err := a.client.LeadRemarks(ctx, args[0])
			if err != nil {
				return err
			}

			out := a.printer(cmd)
			if out.JSON() {
				return out.json(map[string]any{"lead": l, "timeline": events, "remarks": remarks})
			}
			out.line("%s  %s  %s", l.ID, l.CustomerName, l.CustomerPhone)
			out.line("%s loan of %s, status %s", l.LoanType, rupees(l.LoanAmount), l.Status)
			out.line("")
			out.line("Timeline:")
			for _, e := range events {
				out.line("  %-20s %s", e.Type, ago(e.CreatedAt))
			}
			if len(remarks) > 0 {
				out.line("Remarks:")
				for _, rm := range remarks {
					out.line("  %s (%s)", rm.Body, ago(rm.CreatedAt))
				}
			}
			return nil
		},
	}
}

func newLeadsCreateCommand(a *app) *cobra.Command {
	var in apiclient.LeadInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a new lead",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.client.CreateLead(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.printLead(cmd, "Created", l)
		},
	}
	cmd.Flags().StringVar(&in.CustomerName, "name", "", "customer name")
	cmd.Flags().StringVar(&in.CustomerPhone, "phone", "", "customer mobile number")
	cmd.Flags().StringVar(&in.CustomerEmail, "email", "", "customer email")
	cmd.Flags().StringVar(&in.LoanType, "type", "", "loan type, e.g. home, personal, business")
	cmd.Flags().Int64Var(&in.LoanAmount, "amount", 0, "loan amount in rupees")
	cmd.Flags().StringVar(&in.City, "city", "", "customer city")
	for _, f := range []string{"name", "phone", "type", "amount"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newLeadsStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a lead to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.client.UpdateLeadStatus(cmd.Context(), args[0], strings.ToLower(args[1]))
			if err != nil {
				return err
			}
			return a.printLead(cmd, "Updated", l)
		},
	}
}

func newLeadsRemarkCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remark <id> <text>...",
		Short: "Add a remark to a lead",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := a.client.AddLeadRemark(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			out := a.printer(cmd)
			if out.JSON() {
				return out.json(rm)
			}
			out.line("Remark %s added to lead %s", rm.ID, rm.LeadID)
			return nil
		},
	}
}

func newLeadsDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a lead that has not been submitted to a lender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.DeleteLead(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer(cmd).line("Deleted lead %s", args[0])
			return nil
		},
	}
}

func (a *app) printLead(cmd *cobra.Command, verb string, l apiclient.Lead) error {
	out := a.printer(cmd)
	if out.JSON() {
		return out.json(l)
	}
	out.line("%s lead %s", verb, l.ID)
	out.line("%s, %s loan of %s, status %s", l.CustomerName, l.LoanType, rupees(l.LoanAmount), l.Status)
	return nil
}
