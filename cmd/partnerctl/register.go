package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"partnerflow/registration"
)

func newRegisterCommand(a *app) *cobra.Command {
	w := registration.New()
	var docs []string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register as a new partner",
		Long: `Register as a new partner.

Every wizard step (personal, business, bank, documents) is validated
before anything is sent. Documents are attached with --doc kind=path,
for example --doc pan_card=./pan.pdf. Required kinds: pan_card,
aadhaar_card, cancelled_cheque, plus gst_certificate when --gstin is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range docs {
				kind, path, ok := strings.Cut(d, "=")
				if !ok || kind == "" || path == "" {
					return fmt.Errorf("invalid --doc %q: want kind=path", d)
				}
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s document: %w", kind, err)
				}
				w.Attach(kind, registration.File{Name: filepath.Base(path), Content: content})
			}
			return a.runRegister(cmd, w)
		},
	}

	f := cmd.Flags()
	p, b, bank := &w.Form.Personal, &w.Form.Business, &w.Form.Bank
	f.StringVar(&p.FullName, "full-name", "", "your full name")
	f.StringVar(&p.Email, "email", "", "email")
	f.StringVar(&p.Mobile, "mobile", "", "10-digit mobile number")
	f.StringVar(&p.Password, "password", "", "password, at least 8 characters")
	f.StringVar(&p.ConfirmPassword, "confirm-password", "", "repeat the password")
	f.StringVar(&b.CompanyName, "company", "", "company or firm name")
	f.StringVar(&b.BusinessType, "business-type", "", "individual, proprietorship, partnership or company")
	f.StringVar(&b.PAN, "pan", "", "PAN")
	f.StringVar(&b.GSTIN, "gstin", "", "GSTIN, if GST registered")
	f.StringVar(&b.Address, "address", "", "business address")
	f.StringVar(&b.City, "city", "", "city")
	f.StringVar(&b.State, "state", "", "state")
	f.StringVar(&b.Pincode, "pincode", "", "6-digit pincode")
	f.StringVar(&bank.AccountHolder, "account-holder", "", "bank account holder name")
	f.StringVar(&bank.AccountNumber, "account-number", "", "bank account number")
	f.StringVar(&bank.ConfirmAccountNumber, "confirm-account-number", "", "repeat the account number")
	f.StringVar(&bank.IFSC, "ifsc", "", "IFSC")
	f.StringVar(&bank.BankName, "bank", "", "bank name")
	f.StringArrayVar(&docs, "doc", nil, "document as kind=path, repeatable")
	return cmd
}

// runRegister walks the wizard step by step so the first failing step is
// reported with all of its field errors.
func (a *app) runRegister(cmd *cobra.Command, w *registration.Wizard) error {
	out := a.printer(cmd)
	for {
		err := w.Next()
		if errors.Is(err, registration.ErrLastStep) {
			break
		}
		if err != nil {
			return reportFieldErrors(out, w.Step(), err)
		}
	}
	if err := w.ValidateStep(registration.StepDocuments); err != nil {
		return reportFieldErrors(out, registration.StepDocuments, err)
	}

	res, err := w.Submit(cmd.Context(), a.client)
	if err != nil {
		return err
	}
	if out.JSON() {
		return out.json(res)
	}
	out.line("Registration received. Your partner code is %s", res.PartnerCode)
	out.line("Sign in with 'partnerctl login' once your account is verified")
	return nil
}

func reportFieldErrors(out printer, step registration.Step, err error) error {
	fields := registration.FieldErrors(err)
	if len(fields) == 0 {
		return err
	}
	if out.JSON() {
		_ = out.json(map[string]any{"step": step.String(), "errors": fields})
	} else {
		out.line("The %s step needs attention:", step)
		for _, fe := range fields {
			out.line("  %-16s %s", fe.Field, fe.Message)
		}
	}
	return fmt.Errorf("%s step is incomplete", step)
}
