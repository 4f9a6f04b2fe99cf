package registration

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var (
	mobilePattern  = regexp.MustCompile(`^[6-9][0-9]{9}$`)
	panPattern     = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	ifscPattern    = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	pincodePattern = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	accountPattern = regexp.MustCompile(`^[0-9]{9,18}$`)
	gstinPattern   = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)
)

// FieldError reports one invalid field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("registration: %s: %s", e.Field, e.Message)
}

// UserMessage is the text shown next to the field.
func (e *FieldError) UserMessage() string { return e.Message }

// FieldErrors flattens err into its field errors.
func FieldErrors(err error) []*FieldError {
	var out []*FieldError
	for _, e := range multierr.Errors(err) {
		if fe, ok := e.(*FieldError); ok {
			out = append(out, fe)
		}
	}
	return out
}

func fieldErr(field, msg string) error {
	return &FieldError{Field: field, Message: msg}
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fieldErr(field, "is required")
	}
	return nil
}

func matches(field, value string, re *regexp.Regexp, msg string) error {
	if err := required(field, value); err != nil {
		return err
	}
	if !re.MatchString(value) {
		return fieldErr(field, msg)
	}
	return nil
}

// ValidatePersonal checks the personal details step.
func ValidatePersonal(p Personal) error {
	var err error
	err = multierr.Append(err, required("fullName", p.FullName))
	if e := required("email", p.Email); e != nil {
		err = multierr.Append(err, e)
	} else if addr, perr := mail.ParseAddress(p.Email); perr != nil || addr.Address != p.Email {
		err = multierr.Append(err, fieldErr("email", "must be a valid email address"))
	}
	err = multierr.Append(err, matches("mobile", p.Mobile, mobilePattern, "must be a 10-digit mobile number"))
	if len(p.Password) < 8 {
		err = multierr.Append(err, fieldErr("password", "must be at least 8 characters"))
	}
	if p.Password != p.ConfirmPassword {
		err = multierr.Append(err, fieldErr("confirmPassword", "does not match password"))
	}
	return err
}

// ValidateBusiness checks the business details step.
func ValidateBusiness(b Business) error {
	var err error
	err = multierr.Append(err, required("companyName", b.CompanyName))
	err = multierr.Append(err, required("businessType", b.BusinessType))
	err = multierr.Append(err, matches("pan", b.PAN, panPattern, "must be a valid PAN, e.g. ABCDE1234F"))
	if b.GSTIN != "" && !gstinPattern.MatchString(b.GSTIN) {
		err = multierr.Append(err, fieldErr("gstin", "must be a valid GSTIN"))
	}
	err = multierr.Append(err, required("address", b.Address))
	err = multierr.Append(err, required("city", b.City))
	err = multierr.Append(err, required("state", b.State))
	err = multierr.Append(err, matches("pincode", b.Pincode, pincodePattern, "must be a 6-digit pincode"))
	return err
}

// ValidateBank checks the bank details step.
func ValidateBank(b Bank) error {
	var err error
	err = multierr.Append(err, required("accountHolder", b.AccountHolder))
	err = multierr.Append(err, matches("accountNumber", b.AccountNumber, accountPattern, "must be 9 to 18 digits"))
	if b.AccountNumber != b.ConfirmAccountNumber {
		err = multierr.Append(err, fieldErr("confirmAccountNumber", "does not match account number"))
	}
	err = multierr.Append(err, matches("ifsc", b.IFSC, ifscPattern, "must be a valid IFSC, e.g. HDFC0001234"))
	err = multierr.Append(err, required("bankName", b.BankName))
	return err
}

// ValidateDocuments checks that every required document is attached and
// none is empty or oversized.
func ValidateDocuments(docs map[string]File, gstRegistered bool) error {
	var err error
	for _, kind := range RequiredDocuments(gstRegistered) {
		f, ok := docs[kind]
		if !ok {
			err = multierr.Append(err, fieldErr(kind, "is required"))
			continue
		}
		if len(f.Content) == 0 {
			err = multierr.Append(err, fieldErr(kind, "is empty"))
		}
	}
	for kind, f := range docs {
		if len(f.Content) > MaxDocumentSize {
			err = multierr.Append(err, fieldErr(kind, "exceeds 5 MB"))
		}
	}
	return err
}
