package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"partnerflow/profile"
	"partnerflow/reconcile"
)

func newAcceptAgreementCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accept-agreement",
		Short: "Accept the partner agreement and wait for the server to confirm it",
		Long: `Accept the partner agreement.

The acceptance is shown immediately and then confirmed by re-reading the
profile, since the server applies it asynchronously. If the server never
shows the acceptance within the configured attempts, the acknowledged
write is trusted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAcceptAgreement(cmd)
		},
	}
}

type acceptOutput struct {
	Outcome  reconcile.Outcome    `json:"outcome"`
	Reads    int                  `json:"reads"`
	Accepted bool                 `json:"accepted"`
	Profile  *profile.UserProfile `json:"profile,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func (a *app) runAcceptAgreement(cmd *cobra.Command) error {
	ctx := cmd.Context()
	store := profile.NewStore()
	if _, err := store.Run(ctx, func(ctx context.Context) (*profile.UserProfile, error) {
		u, err := a.client.CurrentUser(ctx)
		return &u, err
	}); err != nil {
		return err
	}

	unsubscribe := store.Subscribe(func(st profile.State) {
		a.logger.Debug("profile state",
			zap.Bool("loading", st.Loading),
			zap.Bool("accepted", st.Data.AgreementAccepted()),
			zap.String("error", st.Error),
		)
	})
	defer unsubscribe()

	rc := reconcile.New(a.client, store,
		reconcile.WithConfig(reconcile.Config{
			MaxAttempts:  a.cfg.Reconcile.MaxAttempts,
			Delay:        a.cfg.Reconcile.Delay,
			InitialDelay: a.cfg.Reconcile.InitialDelay,
		}),
		reconcile.WithLogger(a.logger.Named("reconcile")),
	)
	res, err := rc.AcceptAgreement(ctx)

	out := a.printer(cmd)
	if out.JSON() {
		o := acceptOutput{Outcome: res.Outcome, Reads: res.Reads, Profile: res.Profile}
		o.Accepted = res.Profile.AgreementAccepted()
		if err != nil {
			o.Error = store.Get().Error
		}
		if jerr := out.json(o); jerr != nil {
			return jerr
		}
		return err
	}

	switch {
	case errors.Is(err, reconcile.ErrUnconfirmed):
		out.line("Agreement accepted, but the server could not be reached to confirm it. Check again with 'partnerctl whoami'.")
		return err
	case err != nil:
		return err
	case res.Outcome == reconcile.OutcomeConfirmed:
		out.line("Agreement accepted and confirmed")
	default:
		out.line("Agreement accepted; the server has not shown it yet after %d checks", res.Reads)
	}
	return nil
}
