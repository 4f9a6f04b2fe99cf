package partner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"partnerflow/profile"
	"partnerflow/test/fakes"
)

func TestAcceptAgreement_Success(t *testing.T) {
	pool := &fakes.Pool{}
	repo := newFakeRepo()
	repo.roles["u1"] = profile.RolePartner
	svc := NewService(pool, repo)

	res, err := svc.AcceptAgreement(context.Background(), AcceptRequest{UserID: "u1", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Replayed || res.AlreadyAccepted {
		t.Fatalf("unexpected result %+v", res)
	}
	if !pool.Last().Committed() {
		t.Errorf("expected commit to be called")
	}
	if len(repo.outbox) != 1 || repo.outbox[0].Topic != OutboxTopicAgreementAccepted {
		t.Fatalf("expected one outbox message, got %+v", repo.outbox)
	}

	var payload acceptedPayload
	if err := json.Unmarshal(repo.outbox[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.UserID != "u1" || payload.Version != CurrentAgreementVersion {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if repo.profiles["u1"] {
		t.Fatalf("acceptance must not write the profile flag directly")
	}
}

func TestAcceptAgreement_Idempotent(t *testing.T) {
	pool := &fakes.Pool{}
	repo := newFakeRepo()
	repo.roles["u1"] = profile.RolePartner
	svc := NewService(pool, repo)
	ctx := context.Background()

	if _, err := svc.AcceptAgreement(ctx, AcceptRequest{UserID: "u1", IdempotencyKey: "k1"}); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	res, err := svc.AcceptAgreement(ctx, AcceptRequest{UserID: "u1", IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Replayed {
		t.Errorf("expected replay to be reported")
	}
	if pool.Last().Committed() {
		t.Errorf("expected commit to be skipped on idempotent replay")
	}
	if !pool.Last().RolledBack() {
		t.Errorf("expected rollback to be called")
	}
	if len(repo.outbox) != 1 {
		t.Errorf("expected a single outbox message, got %d", len(repo.outbox))
	}
}

func TestAcceptAgreement_AlreadyAcceptedWithNewKey(t *testing.T) {
	pool := &fakes.Pool{}
	repo := newFakeRepo()
	repo.roles["u1"] = profile.RolePartner
	svc := NewService(pool, repo)
	ctx := context.Background()

	if _, err := svc.AcceptAgreement(ctx, AcceptRequest{UserID: "u1", IdempotencyKey: "k1"}); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	res, err := svc.AcceptAgreement(ctx, AcceptRequest{UserID: "u1", IdempotencyKey: "k2"})
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if !res.AlreadyAccepted {
		t.Errorf("expected AlreadyAccepted")
	}
	if len(repo.outbox) != 1 {
		t.Errorf("expected no new outbox message, got %d", len(repo.outbox))
	}
}

func TestAcceptAgreement_Rejections(t *testing.T) {
	repo := newFakeRepo()
	repo.roles["admin"] = profile.RoleAdmin
	svc := NewService(&fakes.Pool{}, repo)
	ctx := context.Background()

	if _, err := svc.AcceptAgreement(ctx, AcceptRequest{UserID: "admin", IdempotencyKey: "k"}); !errors.Is(err, ErrNotPartner) {
		t.Fatalf("expected ErrNotPartner, got %v", err)
	}
	if _, err := svc.AcceptAgreement(ctx, AcceptRequest{UserID: "ghost", IdempotencyKey: "k"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := svc.AcceptAgreement(ctx, AcceptRequest{UserID: "admin", IdempotencyKey: "  "}); !errors.Is(err, ErrMissingIdempotencyKey) {
		t.Fatalf("expected ErrMissingIdempotencyKey, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	pool := &fakes.Pool{}
	repo := newFakeRepo()
	svc := NewService(pool, repo).WithBcryptCost(bcrypt.MinCost)

	reg := Registration{
		FullName:      "Asha Rao",
		Email:         " Asha@Example.com",
		Password:      "supersafe",
		CompanyName:   "Rao Finserv",
		PAN:           "abcde1234f",
		AccountNumber: "123456789012",
		IFSC:          "hdfc0001234",
	}
	docs := []Document{
		{Kind: "pan_card", Filename: "pan.pdf", Content: []byte("%PDF-1.4 pan")},
		{Kind: "aadhaar_card", Filename: "aadhaar.pdf", Content: []byte("%PDF-1.4 aadhaar")},
		{Kind: "cancelled_cheque", Filename: "cheque.png", Content: []byte("\x89PNG\r\n\x1a\nrest")},
	}

	out, err := svc.Register(context.Background(), reg, docs)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if out.PartnerCode == "" || !pool.Last().Committed() {
		t.Fatalf("expected committed registration, got %+v", out)
	}
	if repo.registered.Email != "asha@example.com" || repo.registered.PAN != "ABCDE1234F" {
		t.Fatalf("expected normalized registration, got %+v", repo.registered)
	}
	if bcrypt.CompareHashAndPassword([]byte(repo.passwordHash), []byte("supersafe")) != nil {
		t.Fatalf("password was not hashed with bcrypt")
	}
	if len(repo.documents) != 3 || repo.documents[2].ContentType != "image/png" {
		t.Fatalf("unexpected documents %+v", repo.documents)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := NewService(&fakes.Pool{}, newFakeRepo()).WithBcryptCost(bcrypt.MinCost)
	base := Registration{FullName: "A", Email: "a@example.com", Password: "supersafe", CompanyName: "C", PAN: "ABCDE1234F", AccountNumber: "123456789", IFSC: "HDFC0001234"}

	cases := map[string][]Document{
		"missing documents": nil,
		"bad type": {
			{Kind: "pan_card", Content: []byte("plain text")},
			{Kind: "aadhaar_card", Content: []byte("%PDF-1.4")},
			{Kind: "cancelled_cheque", Content: []byte("%PDF-1.4")},
		},
		"duplicate kind": {
			{Kind: "pan_card", Content: []byte("%PDF-1.4")},
			{Kind: "pan_card", Content: []byte("%PDF-1.4")},
		},
	}
	for name, docs := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), base, docs); !errors.Is(err, ErrInvalidRegistration) {
				t.Fatalf("expected ErrInvalidRegistration, got %v", err)
			}
		})
	}
}

type fakeRepo struct {
	mu           sync.Mutex
	roles        map[string]profile.Role
	keys         map[string]bool
	accepted     map[string]time.Time
	profiles     map[string]bool
	outbox       []OutboxMessage
	processed    map[int64]bool
	failed       map[int64]bool
	registered   Registration
	passwordHash string
	documents    []Document
	claimErr     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		roles:     map[string]profile.Role{},
		keys:      map[string]bool{},
		accepted:  map[string]time.Time{},
		profiles:  map[string]bool{},
		processed: map[int64]bool{},
		failed:    map[int64]bool{},
	}
}

func (f *fakeRepo) LockUserRole(_ context.Context, _ pgx.Tx, userID string) (profile.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return role, nil
}

func (f *fakeRepo) InsertIdempotencyKey(_ context.Context, _ pgx.Tx, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return ErrDuplicateIdempotencyKey
	}
	f.keys[key] = true
	return nil
}

func (f *fakeRepo) InsertAcceptance(_ context.Context, _ pgx.Tx, userID, _ string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accepted[userID]; ok {
		return time.Time{}, false, nil
	}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.accepted[userID] = at
	return at, true, nil
}

func (f *fakeRepo) EnqueueOutbox(_ context.Context, _ pgx.Tx, topic string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbox = append(f.outbox, OutboxMessage{ID: int64(len(f.outbox) + 1), Topic: topic, Payload: b, Status: "pending"})
	return nil
}

func (f *fakeRepo) GetProfile(_ context.Context, _ Querier, userID string) (profile.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[userID]
	if !ok {
		return profile.UserProfile{}, ErrUserNotFound
	}
	return profile.UserProfile{
		ID:      userID,
		Role:    role,
		Partner: &profile.PartnerDetails{AgreementAccepted: f.profiles[userID]},
	}, nil
}

func (f *fakeRepo) CreatePartner(_ context.Context, _ pgx.Tx, reg Registration, passwordHash string) (Registered, error) {
	f.registered = reg
	f.passwordHash = passwordHash
	return Registered{UserID: "u-new", PartnerCode: "MSP-00001"}, nil
}

func (f *fakeRepo) InsertDocument(_ context.Context, _ pgx.Tx, _ string, doc Document) error {
	f.documents = append(f.documents, doc)
	return nil
}

func (f *fakeRepo) ClaimPending(_ context.Context, _ pgx.Tx, topic string, limit int) ([]OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	var out []OutboxMessage
	for _, m := range f.outbox {
		if m.Topic == topic && !f.processed[m.ID] && !f.failed[m.ID] && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkAgreementAccepted(_ context.Context, _ pgx.Tx, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[userID]; !ok {
		return ErrUserNotFound
	}
	f.profiles[userID] = true
	return nil
}

func (f *fakeRepo) MarkProcessed(_ context.Context, _ pgx.Tx, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = true
	return nil
}

func (f *fakeRepo) MarkFailed(_ context.Context, _ pgx.Tx, id int64, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = true
	return nil
}

func (f *fakeRepo) flagSet(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[userID]
}
