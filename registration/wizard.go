// Package registration drives the partner sign-up wizard: four steps, each
// validated before the user may move on, and a final multipart submission.
package registration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"partnerflow/apiclient"
)

// Step is one page of the wizard.
type Step int

const (
	StepPersonal Step = iota
	StepBusiness
	StepBank
	StepDocuments
)

var stepNames = [...]string{"personal", "business", "bank", "documents"}

func (s Step) String() string {
	if s < StepPersonal || s > StepDocuments {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

// MaxDocumentSize is the largest accepted upload.
const MaxDocumentSize = 5 << 20

var (
	// ErrFirstStep is returned by Back on the first step.
	ErrFirstStep = errors.New("registration: already at first step")
	// ErrLastStep is returned by Next on the last step.
	ErrLastStep = errors.New("registration: already at last step")
	// ErrSubmitted is returned when the wizard is used after a successful
	// submission.
	ErrSubmitted = errors.New("registration: already submitted")
)

// Personal is the first step.
type Personal struct {
	FullName        string
	Email           string
	Mobile          string
	Password        string
	ConfirmPassword string
}

// Business is the second step.
type Business struct {
	CompanyName  string
	BusinessType string
	PAN          string
	GSTIN        string
	Address      string
	City         string
	State        string
	Pincode      string
}

// Bank is the third step.
type Bank struct {
	AccountHolder        string
	AccountNumber        string
	ConfirmAccountNumber string
	IFSC                 string
	BankName             string
}

// File is an attached document.
type File struct {
	Name    string
	Content []byte
}

// Form collects every step's input.
type Form struct {
	Personal  Personal
	Business  Business
	Bank      Bank
	Documents map[string]File
}

// RequiredDocuments lists the document kinds a registration must carry.
func RequiredDocuments(gstRegistered bool) []string {
	docs := []string{apiclient.DocPANCard, apiclient.DocAadhaarCard, apiclient.DocCancelledCheque}
	if gstRegistered {
		docs = append(docs, apiclient.DocGSTCertificate)
	}
	return docs
}

// Submitter sends a completed registration.
type Submitter interface {
	RegisterPartner(ctx context.Context, reg apiclient.PartnerRegistration, docs []apiclient.Document) (apiclient.RegisteredPartner, error)
}

// Wizard tracks the current step and the form. It is not safe for
// concurrent use.
type Wizard struct {
	Form      Form
	step      Step
	submitted bool
}

// New returns a wizard on the first step.
func New() *Wizard {
	return &Wizard{Form: Form{Documents: map[string]File{}}}
}

// Step returns the current step.
func (w *Wizard) Step() Step { return w.step }

// Attach sets the document of kind.
func (w *Wizard) Attach(kind string, f File) {
	if w.Form.Documents == nil {
		w.Form.Documents = map[string]File{}
	}
	w.Form.Documents[kind] = f
}

// ValidateStep validates the input of step s.
func (w *Wizard) ValidateStep(s Step) error {
	switch s {
	case StepPersonal:
		return ValidatePersonal(w.Form.Personal)
	case StepBusiness:
		return ValidateBusiness(w.Form.Business)
	case StepBank:
		return ValidateBank(w.Form.Bank)
	case StepDocuments:
		return ValidateDocuments(w.Form.Documents, w.Form.Business.GSTIN != "")
	default:
		return fmt.Errorf("registration: unknown step %d", int(s))
	}
}

// Next validates the current step and advances. The step does not change
// when validation fails.
func (w *Wizard) Next() error {
	if w.submitted {
		return ErrSubmitted
	}
	if w.step == StepDocuments {
		return ErrLastStep
	}
	if err := w.ValidateStep(w.step); err != nil {
		return err
	}
	w.step++
	return nil
}

// Back returns to the previous step without validating.
func (w *Wizard) Back() error {
	if w.submitted {
		return ErrSubmitted
	}
	if w.step == StepPersonal {
		return ErrFirstStep
	}
	w.step--
	return nil
}

// Validate checks every step.
func (w *Wizard) Validate() error {
	var err error
	for s := StepPersonal; s <= StepDocuments; s++ {
		err = multierr.Append(err, w.ValidateStep(s))
	}
	return err
}

// Submit validates every step and sends the registration. On validation
// failure the wizard jumps to the first invalid step.
func (w *Wizard) Submit(ctx context.Context, sub Submitter) (apiclient.RegisteredPartner, error) {
	if w.submitted {
		return apiclient.RegisteredPartner{}, ErrSubmitted
	}
	for s := StepPersonal; s <= StepDocuments; s++ {
		if err := w.ValidateStep(s); err != nil {
			w.step = s
			return apiclient.RegisteredPartner{}, err
		}
	}

	reg, docs := w.payload()
	out, err := sub.RegisterPartner(ctx, reg, docs)
	if err != nil {
		return apiclient.RegisteredPartner{}, fmt.Errorf("registration: submit: %w", err)
	}
	w.submitted = true
	return out, nil
}

func (w *Wizard) payload() (apiclient.PartnerRegistration, []apiclient.Document) {
	f := w.Form
	reg := apiclient.PartnerRegistration{
		FullName:      strings.TrimSpace(f.Personal.FullName),
		Email:         strings.ToLower(strings.TrimSpace(f.Personal.Email)),
		Mobile:        f.Personal.Mobile,
		Password:      f.Personal.Password,
		CompanyName:   strings.TrimSpace(f.Business.CompanyName),
		BusinessType:  f.Business.BusinessType,
		PAN:           f.Business.PAN,
		GSTIN:         f.Business.GSTIN,
		Address:       strings.TrimSpace(f.Business.Address),
		City:          strings.TrimSpace(f.Business.City),
		State:         strings.TrimSpace(f.Business.State),
		Pincode:       f.Business.Pincode,
		AccountHolder: strings.TrimSpace(f.Bank.AccountHolder),
		AccountNumber: f.Bank.AccountNumber,
		IFSC:          f.Bank.IFSC,
		BankName:      strings.TrimSpace(f.Bank.BankName),
	}

	kinds := make([]string, 0, len(f.Documents))
	for k := range f.Documents {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	docs := make([]apiclient.Document, 0, len(kinds))
	for _, k := range kinds {
		docs = append(docs, apiclient.Document{Kind: k, Filename: f.Documents[k].Name, Content: f.Documents[k].Content})
	}
	return reg, docs
}
