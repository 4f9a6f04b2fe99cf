package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"partnerflow/apiclient"
	"partnerflow/resource"
)

func newCommissionsCommand(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "commissions",
		Short: "List commissions and their totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			commissions := resource.NewSlice[[]apiclient.Commission]("commissions")
			items, err := commissions.Run(ctx, func(ctx context.Context) ([]apiclient.Commission, error) {
				return a.client.ListCommissions(ctx, "")
			})
			if err != nil {
				return err
			}
			if status != "" {
				items = resource.Filter(items, func(c apiclient.Commission) bool { return c.Status == status })
			}
			summary, err := a.client.CommissionSummary(ctx)
			if err != nil {
				return err
			}

			out := a.printer(cmd)
			if out.JSON() {
				return out.json(map[string]any{"items": items, "summary": summary})
			}
			rows := make([][]string, 0, len(items))
			for _, c := range items {
				rows = append(rows, []string{c.ID, c.LeadID, paise(c.Amount), c.Status, ago(c.CreatedAt)})
			}
			if err := out.table(items, []string{"ID", "LEAD", "AMOUNT", "STATUS", "CREATED"}, rows); err != nil {
				return err
			}
			out.line("")
			out.line("Pending %s  Approved %s  Paid %s", paise(summary.Pending), paise(summary.Approved), paise(summary.Paid))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only commissions in this status")
	return cmd
}

func newAssociatesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "associates",
		Short: "Manage team associates",
	}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List associates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			associates := resource.NewSlice[[]apiclient.Associate]("associates")
			items, err := associates.Run(cmd.Context(), a.client.ListAssociates)
			if err != nil {
				return err
			}
			items = resource.Search(items, search, func(as apiclient.Associate) []string {
				return []string{as.FullName, as.Email, as.Phone}
			})
			rows := make([][]string, 0, len(items))
			for _, as := range items {
				rows = append(rows, []string{as.ID, as.FullName, as.Email, as.Phone, ago(as.CreatedAt)})
			}
			return a.printer(cmd).table(items, []string{"ID", "NAME", "EMAIL", "PHONE", "JOINED"}, rows)
		},
	}
	list.Flags().StringVar(&search, "search", "", "match name, email or phone")

	var in apiclient.AssociateInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an associate to your team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			as, err := a.client.CreateAssociate(cmd.Context(), in)
			if err != nil {
				return err
			}
			out := a.printer(cmd)
			if out.JSON() {
				return out.json(as)
			}
			out.line("Added %s <%s>", as.FullName, as.Email)
			return nil
		},
	}
	add.Flags().StringVar(&in.FullName, "name", "", "full name")
	add.Flags().StringVar(&in.Email, "email", "", "email")
	add.Flags().StringVar(&in.Phone, "phone", "", "mobile number")
	add.Flags().StringVar(&in.Password, "password", "", "initial password")
	for _, f := range []string{"name", "email", "password"} {
		_ = add.MarkFlagRequired(f)
	}

	cmd.AddCommand(list, add)
	return cmd
}

func newOffersCommand(a *app) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "offers",
		Short: "List running offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			offers := resource.NewSlice[[]apiclient.Offer]("offers")
			items, err := offers.Run(cmd.Context(), a.client.ListOffers)
			if err != nil {
				return err
			}
			items = resource.Search(items, search, func(o apiclient.Offer) []string {
				return []string{o.Title, o.Description, o.LoanType}
			})
			rows := make([][]string, 0, len(items))
			for _, o := range items {
				rows = append(rows, []string{o.ID, o.Title, o.LoanType, strconv.FormatFloat(o.BonusRate, 'f', -1, 64) + "%", o.ValidUntil.Format("02 Jan 2006")})
			}
			return a.printer(cmd).table(items, []string{"ID", "TITLE", "LOAN", "BONUS", "ENDS"}, rows)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "match title, description or loan type")
	return cmd
}

func newProductsCommand(a *app) *cobra.Command {
	var loanType string
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List loan products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			products := resource.NewSlice[[]apiclient.Product]("products")
			items, err := products.Run(cmd.Context(), a.client.ListProducts)
			if err != nil {
				return err
			}
			if loanType != "" {
				items = resource.Filter(items, func(p apiclient.Product) bool { return p.LoanType == loanType })
			}
			rows := make([][]string, 0, len(items))
			for _, p := range items {
				rows = append(rows, []string{p.ID, p.Name, p.LoanType, p.InterestRate, rupees(p.MinAmount) + " - " + rupees(p.MaxAmount)})
			}
			return a.printer(cmd).table(items, []string{"ID", "NAME", "TYPE", "RATE", "RANGE"}, rows)
		},
	}
	cmd.Flags().StringVar(&loanType, "type", "", "only products of this loan type")
	return cmd
}

func newSupportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "support",
		Short: "Show support contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			support := resource.NewSlice[apiclient.SupportInfo]("support")
			info, err := support.Run(cmd.Context(), a.client.SupportInfo)
			if err != nil {
				return err
			}
			out := a.printer(cmd)
			if out.JSON() {
				return out.json(info)
			}
			out.line("Email:    %s", info.Email)
			out.line("Phone:    %s", info.Phone)
			if info.WhatsApp != "" {
				out.line("WhatsApp: %s", info.WhatsApp)
			}
			if info.Hours != "" {
				out.line("Hours:    %s", info.Hours)
			}
			return nil
		},
	}
}
