package partner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"partnerflow/profile"
	"partnerflow/test/infra"
)

// TestAcceptAndProject_Integration runs the acceptance transaction and the
// projector against a real PostgreSQL in an isolated schema.
func TestAcceptAndProject_Integration(t *testing.T) {
	pool := infra.Setup(t).Pool

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := NewService(pool, nil).WithBcryptCost(bcrypt.MinCost)
	reg := Registration{
		FullName:      "Asha Rao",
		Email:         fmt.Sprintf("asha+%d@example.com", time.Now().UnixNano()),
		Password:      "supersafe",
		CompanyName:   "Rao Finserv",
		PAN:           "ABCDE1234F",
		AccountNumber: "123456789012",
		IFSC:          "HDFC0001234",
	}
	docs := []Document{
		{Kind: "pan_card", Filename: "pan.pdf", Content: []byte("%PDF-1.4 pan")},
		{Kind: "aadhaar_card", Filename: "aadhaar.pdf", Content: []byte("%PDF-1.4 aadhaar")},
		{Kind: "cancelled_cheque", Filename: "cheque.pdf", Content: []byte("%PDF-1.4 cheque")},
	}
	created, err := svc.Register(ctx, reg, docs)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.PartnerCode == "" {
		t.Fatalf("expected partner code")
	}
	if _, err := svc.Register(ctx, reg, docs); err == nil {
		t.Fatalf("expected duplicate email to fail")
	}

	key := uuid.NewString()
	if _, err := svc.AcceptAgreement(ctx, AcceptRequest{UserID: created.UserID, IdempotencyKey: key}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	res, err := svc.AcceptAgreement(ctx, AcceptRequest{UserID: created.UserID, IdempotencyKey: key})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Replayed {
		t.Fatalf("expected replay, got %+v", res)
	}

	p, err := svc.CurrentUser(ctx, created.UserID)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if profile.AgreementConfirmed(p) {
		t.Fatalf("profile flag set before projection")
	}

	var pending int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = $1 AND status = 'pending'`, OutboxTopicAgreementAccepted).Scan(&pending); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending outbox row, got %d", pending)
	}

	n, err := NewProjector(pool, nil).Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 projected message, got %d", n)
	}

	p, err = svc.CurrentUser(ctx, created.UserID)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if !profile.AgreementConfirmed(p) || p.Partner.AgreementAcceptedAt == nil {
		t.Fatalf("expected accepted profile, got %+v", p.Partner)
	}
	if p.Partner.PartnerCode != created.PartnerCode {
		t.Fatalf("partner code mismatch: %q vs %q", p.Partner.PartnerCode, created.PartnerCode)
	}
}
