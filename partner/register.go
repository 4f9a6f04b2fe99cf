package partner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const defaultBcryptCost = bcrypt.DefaultCost

// MaxDocumentSize is the largest accepted document.
const MaxDocumentSize = 5 << 20

var (
	// ErrInvalidRegistration wraps registration validation failures.
	ErrInvalidRegistration = errors.New("partner: invalid registration")

	requiredDocuments = []string{"pan_card", "aadhaar_card", "cancelled_cheque"}
	allowedDocTypes   = map[string]bool{
		"application/pdf": true,
		"image/jpeg":      true,
		"image/png":       true,
	}
)

// Register creates the partner user, profile and documents in one
// transaction.
func (s *Service) Register(ctx context.Context, reg Registration, docs []Document) (Registered, error) {
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))
	reg.FullName = strings.TrimSpace(reg.FullName)
	reg.PAN = strings.ToUpper(strings.TrimSpace(reg.PAN))
	reg.IFSC = strings.ToUpper(strings.TrimSpace(reg.IFSC))
	reg.GSTIN = strings.ToUpper(strings.TrimSpace(reg.GSTIN))

	docs, err := checkRegistration(reg, docs)
	if err != nil {
		return Registered{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.bcryptCost)
	if err != nil {
		return Registered{}, fmt.Errorf("partner: hash password: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Registered{}, fmt.Errorf("partner: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	out, err := s.repo.CreatePartner(ctx, tx, reg, string(hash))
	if err != nil {
		return Registered{}, err
	}
	for _, d := range docs {
		if err := s.repo.InsertDocument(ctx, tx, out.UserID, d); err != nil {
			return Registered{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Registered{}, fmt.Errorf("partner: commit registration: %w", err)
	}

	s.logger.Info("partner registered",
		zap.String("user_id", out.UserID),
		zap.String("partner_code", out.PartnerCode),
		zap.Int("documents", len(docs)),
	)
	return out, nil
}

// checkRegistration is the server-side guard; the client wizard performs
// the detailed field checks. It returns docs with sniffed content types.
func checkRegistration(reg Registration, docs []Document) ([]Document, error) {
	switch {
	case reg.Email == "" || reg.FullName == "":
		return nil, fmt.Errorf("%w: email and full name are required", ErrInvalidRegistration)
	case len(reg.Password) < 8:
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidRegistration)
	case reg.CompanyName == "" || reg.PAN == "":
		return nil, fmt.Errorf("%w: company name and PAN are required", ErrInvalidRegistration)
	case reg.AccountNumber == "" || reg.IFSC == "":
		return nil, fmt.Errorf("%w: bank account and IFSC are required", ErrInvalidRegistration)
	}

	byKind := make(map[string]bool, len(docs))
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if byKind[d.Kind] {
			return nil, fmt.Errorf("%w: duplicate document %s", ErrInvalidRegistration, d.Kind)
		}
		byKind[d.Kind] = true
		if len(d.Content) == 0 || len(d.Content) > MaxDocumentSize {
			return nil, fmt.Errorf("%w: document %s must be between 1 byte and 5 MB", ErrInvalidRegistration, d.Kind)
		}
		ct := http.DetectContentType(d.Content)
		if !allowedDocTypes[ct] {
			return nil, fmt.Errorf("%w: document %s has unsupported type %s", ErrInvalidRegistration, d.Kind, ct)
		}
		d.ContentType = ct
		out = append(out, d)
	}
	for _, kind := range requiredDocuments {
		if !byKind[kind] {
			return nil, fmt.Errorf("%w: missing document %s", ErrInvalidRegistration, kind)
		}
	}
	if reg.GSTIN != "" && !byKind["gst_certificate"] {
		return nil, fmt.Errorf("%w: missing document gst_certificate", ErrInvalidRegistration)
	}
	return out, nil
}
