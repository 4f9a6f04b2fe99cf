package main

import (
	"context"

	"github.com/spf13/cobra"

	"partnerflow/apiclient"
	"partnerflow/profile"
)

func newLoginCommand(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			return a.startSession(cmd, session)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.clearToken(); err != nil {
				return err
			}
			a.printer(cmd).line("Signed out")
			return nil
		},
	}
}

func newOTPCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Sign in with a one-time code",
	}

	var email string
	request := &cobra.Command{
		Use:   "request",
		Short: "Send a login code to the account email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.RequestOTP(cmd.Context(), email); err != nil {
				return err
			}
			a.printer(cmd).line("If %s has an account, a code is on its way", email)
			return nil
		},
	}
	request.Flags().StringVar(&email, "email", "", "account email")
	_ = request.MarkFlagRequired("email")

	var verifyEmail, code string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Exchange a login code for a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := a.client.VerifyOTP(cmd.Context(), verifyEmail, code)
			if err != nil {
				return err
			}
			return a.startSession(cmd, session)
		},
	}
	verify.Flags().StringVar(&verifyEmail, "email", "", "account email")
	verify.Flags().StringVar(&code, "code", "", "6-digit code")
	_ = verify.MarkFlagRequired("email")
	_ = verify.MarkFlagRequired("code")

	cmd.AddCommand(request, verify)
	return cmd
}

func newForgotPasswordCommand(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Send a password reset code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.ForgotPassword(cmd.Context(), email); err != nil {
				return err
			}
			a.printer(cmd).line("If %s has an account, a reset code is on its way", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newResetPasswordCommand(a *app) *cobra.Command {
	var email, code, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password with a reset code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.ResetPassword(cmd.Context(), email, code, password); err != nil {
				return err
			}
			a.printer(cmd).line("Password updated, sign in again")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&code, "code", "", "reset code")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	for _, f := range []string{"email", "code", "password"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := profile.NewStore()
			p, err := store.Run(cmd.Context(), func(ctx context.Context) (*profile.UserProfile, error) {
				u, err := a.client.CurrentUser(ctx)
				return &u, err
			})
			if err != nil {
				return err
			}
			return printProfile(a.printer(cmd), p)
		},
	}
}

func (a *app) startSession(cmd *cobra.Command, session apiclient.Session) error {
	if err := a.saveToken(session.Token); err != nil {
		return err
	}
	out := a.printer(cmd)
	if out.JSON() {
		return out.json(session.User)
	}
	out.line("Signed in as %s (%s)", session.User.FullName, session.User.Role)
	return nil
}

func printProfile(out printer, p *profile.UserProfile) error {
	if out.JSON() {
		return out.json(p)
	}
	out.line("Name:   %s", p.FullName)
	out.line("Email:  %s", p.Email)
	out.line("Role:   %s", p.Role)
	if p.Partner != nil {
		out.line("Code:   %s", p.Partner.PartnerCode)
		if p.Partner.CompanyName != "" {
			out.line("Firm:   %s", p.Partner.CompanyName)
		}
		agreement := "not accepted"
		if p.Partner.AgreementAccepted {
			agreement = "accepted"
			if p.Partner.AgreementAcceptedAt != nil {
				agreement += " " + ago(*p.Partner.AgreementAcceptedAt)
			}
		}
		out.line("Agreement: %s", agreement)
	}
	return nil
}
