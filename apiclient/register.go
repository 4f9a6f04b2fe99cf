package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

// Document kinds accepted by partner registration.
const (
	DocPANCard         = "pan_card"
	DocAadhaarCard     = "aadhaar_card"
	DocCancelledCheque = "cancelled_cheque"
	DocGSTCertificate  = "gst_certificate"
)

// PartnerRegistration is the data collected by the registration wizard.
type PartnerRegistration struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	Password string `json:"password"`

	CompanyName  string `json:"companyName"`
	BusinessType string `json:"businessType"`
	PAN          string `json:"pan"`
	GSTIN        string `json:"gstin,omitempty"`
	Address      string `json:"address"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`

	AccountHolder string `json:"accountHolder"`
	AccountNumber string `json:"accountNumber"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bankName"`
}

// Document is one uploaded file.
type Document struct {
	Kind     string
	Filename string
	Content  []byte
}

// RegisteredPartner is returned by RegisterPartner.
type RegisteredPartner struct {
	UserID      string `json:"userId"`
	PartnerCode string `json:"partnerCode"`
}

// RegisterPartner submits a partner registration as multipart form data:
// the registration JSON in field "registration" and one file part per
// document, named by its kind.
func (c *Client) RegisterPartner(ctx context.Context, reg PartnerRegistration, docs []Document) (RegisteredPartner, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	payload, err := json.Marshal(reg)
	if err != nil {
		return RegisteredPartner{}, fmt.Errorf("apiclient: marshal registration: %w", err)
	}
	if err := mw.WriteField("registration", string(payload)); err != nil {
		return RegisteredPartner{}, fmt.Errorf("apiclient: write registration field: %w", err)
	}
	for _, d := range docs {
		part, err := mw.CreateFormFile(d.Kind, d.Filename)
		if err != nil {
			return RegisteredPartner{}, fmt.Errorf("apiclient: create %s part: %w", d.Kind, err)
		}
		if _, err := part.Write(d.Content); err != nil {
			return RegisteredPartner{}, fmt.Errorf("apiclient: write %s part: %w", d.Kind, err)
		}
	}
	if err := mw.Close(); err != nil {
		return RegisteredPartner{}, fmt.Errorf("apiclient: close multipart: %w", err)
	}

	var out RegisteredPartner
	err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/partners/register",
		raw:         &buf,
		contentType: mw.FormDataContentType(),
	}, &out)
	return out, err
}
