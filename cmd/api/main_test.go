package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"partnerflow/apiclient"
	"partnerflow/auth"
	"partnerflow/catalog"
	"partnerflow/commission"
	"partnerflow/lead"
	"partnerflow/partner"
	"partnerflow/profile"
	"partnerflow/reconcile"
)

type tokenClaims struct {
	userID string
	role   auth.Role
}

type stubAuthService struct {
	tokens map[string]tokenClaims

	loginResult auth.LoginResult
	loginErr    error
	associates  []auth.User
	created     *auth.User
}

func (s *stubAuthService) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	return &auth.User{ID: "u-new", Email: req.Email, FullName: req.FullName, Role: auth.RolePartner}, nil
}

func (s *stubAuthService) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubAuthService) RequestOTP(context.Context, string) error { return nil }

func (s *stubAuthService) VerifyOTP(context.Context, string, string) (auth.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubAuthService) ForgotPassword(context.Context, string) error { return nil }

func (s *stubAuthService) ResetPassword(context.Context, string, string, string) error { return nil }

func (s *stubAuthService) VerifyToken(token string) (string, auth.Role, error) {
	c, ok := s.tokens[token]
	if !ok {
		return "", "", errors.New("invalid token")
	}
	return c.userID, c.role, nil
}

func (s *stubAuthService) CreateAssociate(_ context.Context, managerID string, req auth.AssociateRequest) (*auth.User, error) {
	if s.created != nil {
		return s.created, nil
	}
	return &auth.User{ID: "a1", Email: req.Email, FullName: req.FullName, Role: auth.RoleAssociate, ManagerID: &managerID}, nil
}

func (s *stubAuthService) ListAssociates(context.Context, string) ([]auth.User, error) {
	return s.associates, nil
}

// stubPartnerService mimics the outbox lag: an acceptance becomes visible
// on the lagReads+1-th profile read after it.
type stubPartnerService struct {
	mu        sync.Mutex
	accepted  bool
	readsLeft int
	lagReads  int
	keys      []string
	acceptErr error

	gotReg  partner.Registration
	gotDocs []partner.Document
}

func (s *stubPartnerService) CurrentUser(_ context.Context, userID string) (profile.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	visible := false
	if s.accepted {
		if s.readsLeft > 0 {
			s.readsLeft--
		} else {
			visible = true
		}
	}
	return profile.UserProfile{
		ID:       userID,
		Role:     profile.RolePartner,
		FullName: "Asha Rao",
		Email:    "asha@example.com",
		Partner:  &profile.PartnerDetails{PartnerCode: "MSP-00001", AgreementAccepted: visible},
	}, nil
}

func (s *stubPartnerService) AcceptAgreement(_ context.Context, req partner.AcceptRequest) (partner.AcceptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acceptErr != nil {
		return partner.AcceptResult{}, s.acceptErr
	}
	if req.IdempotencyKey == "" {
		return partner.AcceptResult{}, partner.ErrMissingIdempotencyKey
	}
	s.keys = append(s.keys, req.IdempotencyKey)
	if !s.accepted {
		s.accepted = true
		s.readsLeft = s.lagReads
	}
	return partner.AcceptResult{}, nil
}

func (s *stubPartnerService) Register(_ context.Context, reg partner.Registration, docs []partner.Document) (partner.Registered, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotReg, s.gotDocs = reg, docs
	return partner.Registered{UserID: "p-new", PartnerCode: "MSP-00042"}, nil
}

type stubLeadService struct {
	lead      lead.Lead
	list      lead.ListResult
	err       error
	gotFilter lead.Filters
	gotActor  lead.Actor
	gotStatus lead.Status
}

func (s *stubLeadService) Create(_ context.Context, actor lead.Actor, in lead.Input) (lead.Lead, error) {
	s.gotActor = actor
	return lead.Lead{ID: "l-new", PartnerID: actor.ID, CustomerName: in.CustomerName, Status: lead.StatusNew}, s.err
}

func (s *stubLeadService) Get(_ context.Context, actor lead.Actor, id string) (lead.Lead, error) {
	s.gotActor = actor
	if s.err != nil {
		return lead.Lead{}, s.err
	}
	l := s.lead
	l.ID = id
	return l, nil
}

func (s *stubLeadService) List(_ context.Context, actor lead.Actor, filters lead.Filters) (lead.ListResult, error) {
	s.gotActor, s.gotFilter = actor, filters
	return s.list, s.err
}

func (s *stubLeadService) Update(context.Context, lead.Actor, string, lead.Input) (lead.Lead, error) {
	return s.lead, s.err
}

func (s *stubLeadService) UpdateStatus(_ context.Context, _ lead.Actor, _ string, next lead.Status) (lead.Lead, error) {
	s.gotStatus = next
	return s.lead, s.err
}

func (s *stubLeadService) Delete(context.Context, lead.Actor, string) error { return s.err }

func (s *stubLeadService) Timeline(context.Context, lead.Actor, string) ([]lead.Event, error) {
	return nil, s.err
}

func (s *stubLeadService) AddRemark(_ context.Context, actor lead.Actor, id, body string) (lead.Remark, error) {
	return lead.Remark{ID: "r1", LeadID: id, AuthorID: actor.ID, Body: body}, s.err
}

func (s *stubLeadService) Remarks(context.Context, lead.Actor, string) ([]lead.Remark, error) {
	return nil, s.err
}

type stubCommissionReader struct {
	items []commission.Commission
}

func (s *stubCommissionReader) GetByID(context.Context, string) (commission.Commission, error) {
	return commission.Commission{}, commission.ErrNotFound
}

func (s *stubCommissionReader) List(_ context.Context, partnerID string, status commission.Status, _ int) ([]commission.Commission, error) {
	var out []commission.Commission
	for _, c := range s.items {
		if c.PartnerID == partnerID && (status == "" || c.Status == status) {
			out = append(out, c)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *stubAuthService, *stubPartnerService, *stubLeadService) {
	t.Helper()
	authSvc := &stubAuthService{tokens: map[string]tokenClaims{
		"partner-token":   {userID: "p1", role: auth.RolePartner},
		"associate-token": {userID: "a9", role: auth.RoleAssociate},
		"admin-token":     {userID: "adm", role: auth.RoleAdmin},
	}}
	partnerSvc := &stubPartnerService{}
	leadSvc := &stubLeadService{}
	server := &Server{
		authService:    authSvc,
		partnerService: partnerSvc,
		leadService:    leadSvc,
		commissionService: commission.NewService(&stubCommissionReader{items: []commission.Commission{
			{ID: "c1", PartnerID: "p1", Amount: 150_000, Status: commission.StatusPaid},
			{ID: "c2", PartnerID: "p1", Amount: 20_000, Status: commission.StatusPending},
			{ID: "c3", PartnerID: "p2", Amount: 99_000, Status: commission.StatusPaid},
		}}),
		logger: zaptest.NewLogger(t),
	}
	return server, authSvc, partnerSvc, leadSvc
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	return env
}

func TestAuthMiddleware_RejectsMissingAndBadTokens(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	h := server.routes()

	for _, token := range []string{"", "forged"} {
		rec := do(t, h, http.MethodGet, "/api/users/me", token, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, rec.Code)
		}
		if env := decodeEnvelope(t, rec); env.Success || env.Message == "" {
			t.Fatalf("expected failure envelope, got %+v", env)
		}
	}
}

func TestHandleCurrentUser(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	rec := do(t, server.routes(), http.MethodGet, "/api/users/me", "partner-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	var p profile.UserProfile
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if p.ID != "p1" || p.Partner == nil || p.Partner.PartnerCode != "MSP-00001" {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestHandleAcceptAgreement_RequiresIdempotencyKey(t *testing.T) {
	server, _, partnerSvc, _ := newTestServer(t)
	h := server.routes()

	rec := do(t, h, http.MethodPost, "/api/partner/agreement/accept", "partner-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/partner/agreement/accept", nil)
	req.Header.Set("Authorization", "Bearer partner-token")
	req.Header.Set("Idempotency-Key", "key-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); !env.Success || env.Message != "Agreement accepted" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if len(partnerSvc.keys) != 1 || partnerSvc.keys[0] != "key-1" {
		t.Fatalf("expected key-1 to reach the service, got %v", partnerSvc.keys)
	}
}

func TestHandleAcceptAgreement_NotPartner(t *testing.T) {
	server, _, partnerSvc, _ := newTestServer(t)
	partnerSvc.acceptErr = partner.ErrNotPartner

	req := httptest.NewRequest(http.MethodPost, "/api/partner/agreement/accept", nil)
	req.Header.Set("Authorization", "Bearer associate-token")
	req.Header.Set("Idempotency-Key", "k")
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Message != "Only partners can accept the agreement" {
		t.Fatalf("unexpected message %q", env.Message)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	server, authSvc, _, _ := newTestServer(t)
	authSvc.loginErr = auth.ErrInvalidCredentials

	rec := do(t, server.routes(), http.MethodPost, "/api/auth/login", "", `{"email":"a@b.com","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Message != "Invalid credentials" {
		t.Fatalf("unexpected message %q", env.Message)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	server, authSvc, _, _ := newTestServer(t)
	created := time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)
	authSvc.loginResult = auth.LoginResult{
		Token: "jwt",
		User:  auth.User{ID: "p1", Email: "asha@example.com", Role: auth.RolePartner, CreatedAt: created},
	}

	rec := do(t, server.routes(), http.MethodPost, "/api/auth/login", "", `{"email":"asha@example.com","password":"secret123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var session sessionResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Token != "jwt" || session.User.CreatedAt != created.Format(time.RFC3339) {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestHandleLeads_ListPassesFilters(t *testing.T) {
	server, _, _, leadSvc := newTestServer(t)
	leadSvc.list = lead.ListResult{Items: []lead.Lead{{ID: "l1", PartnerID: "p1", Status: lead.StatusNew}}, Total: 7}

	rec := do(t, server.routes(), http.MethodGet, "/api/leads?status=new&search=ravi&page=2&pageSize=5&sort=loanAmount&order=desc", "partner-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := lead.Filters{Status: lead.StatusNew, Search: "ravi", Page: 2, PageSize: 5, SortKey: "loanAmount", SortOrder: "desc"}
	if leadSvc.gotFilter != want {
		t.Fatalf("filters = %+v, want %+v", leadSvc.gotFilter, want)
	}
	if leadSvc.gotActor != (lead.Actor{ID: "p1", Role: "partner"}) {
		t.Fatalf("unexpected actor %+v", leadSvc.gotActor)
	}
	var page struct {
		Items []leadResponse `json:"items"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 7 || len(page.Items) != 1 || page.Items[0].ID != "l1" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestHandleLeads_BadPage(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	rec := do(t, server.routes(), http.MethodGet, "/api/leads?page=two", "partner-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleLeadDetail_UsesPathID(t *testing.T) {
	server, _, _, leadSvc := newTestServer(t)
	leadSvc.lead = lead.Lead{PartnerID: "p1", CustomerName: "Ravi", Status: lead.StatusContacted}

	rec := do(t, server.routes(), http.MethodGet, "/api/leads/l-42", "partner-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got leadResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &got); err != nil {
		t.Fatalf("decode lead: %v", err)
	}
	if got.ID != "l-42" || got.Status != "contacted" {
		t.Fatalf("unexpected lead %+v", got)
	}
}

func TestHandleLeadErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		method string
		path   string
		body   string
		want   int
	}{
		{"not found", lead.ErrNotFound, http.MethodGet, "/api/leads/x", "", http.StatusNotFound},
		{"bad transition", lead.ErrInvalidTransition, http.MethodPatch, "/api/leads/x/status", `{"status":"submitted"}`, http.StatusConflict},
		{"forbidden status", lead.ErrForbidden, http.MethodPatch, "/api/leads/x/status", `{"status":"sanctioned"}`, http.StatusForbidden},
		{"locked", lead.ErrLocked, http.MethodDelete, "/api/leads/x", "", http.StatusConflict},
		{"invalid input", lead.ErrInvalidInput, http.MethodPost, "/api/leads", `{"customerName":""}`, http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.MethodGet, "/api/leads/x", "", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, _, _, leadSvc := newTestServer(t)
			leadSvc.err = tc.err
			rec := do(t, server.routes(), tc.method, tc.path, "partner-token", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestHandleLeadStatus_MissingStatus(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	rec := do(t, server.routes(), http.MethodPatch, "/api/leads/x/status", "admin-token", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCommissionSummary(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	rec := do(t, server.routes(), http.MethodGet, "/api/commissions/summary", "partner-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sum summaryResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum != (summaryResponse{Pending: 20_000, Paid: 150_000, Count: 2}) {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestHandleCommissions_InvalidStatus(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	rec := do(t, server.routes(), http.MethodGet, "/api/commissions?status=refunded", "partner-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreateAssociate_ForbidAssociateRole(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	body := `{"fullName":"Team Member","email":"tm@example.com","password":"secret123"}`

	rec := do(t, server.routes(), http.MethodPost, "/api/associates", "associate-token", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = do(t, server.routes(), http.MethodPost, "/api/associates", "partner-token", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var u userResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.ManagerID != "p1" || u.Role != "associate" {
		t.Fatalf("unexpected associate %+v", u)
	}
}

func TestHandleOffers_ActiveOnly(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	server.now = func() time.Time { return now }
	server.catalog = &catalog.Catalog{Offers: []catalog.Offer{
		{ID: "past", Title: "Past", ValidFrom: now.AddDate(0, -2, 0), ValidUntil: now.AddDate(0, -1, 0)},
		{ID: "live", Title: "Live", ValidFrom: now.AddDate(0, -1, 0), ValidUntil: now.AddDate(0, 1, 0)},
	}}

	rec := do(t, server.routes(), http.MethodGet, "/api/offers", "partner-token", "")
	var offers []catalog.Offer
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &offers); err != nil {
		t.Fatalf("decode offers: %v", err)
	}
	if len(offers) != 1 || offers[0].ID != "live" {
		t.Fatalf("unexpected offers %+v", offers)
	}
}

func TestHandleSupport_NotConfigured(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	rec := do(t, server.routes(), http.MethodGet, "/api/support", "partner-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPublicMessage(t *testing.T) {
	cases := map[string]string{
		"lead: not found":                      "Not found",
		"lead: invalid input: remark is empty": "Invalid input: remark is empty",
		"plain failure":                        "Plain failure",
	}
	for in, want := range cases {
		if got := publicMessage(errors.New(in)); got != want {
			t.Errorf("publicMessage(%q) = %q, want %q", in, got, want)
		}
	}
}

func newAPIClient(t *testing.T, baseURL, token string) *apiclient.Client {
	t.Helper()
	client, err := apiclient.New(apiclient.Config{BaseURL: baseURL, Token: token, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestPartnerRegister_Multipart(t *testing.T) {
	server, _, partnerSvc, _ := newTestServer(t)
	ts := httptest.NewServer(server.routes())
	defer ts.Close()

	pdf := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 64)...)
	reg := apiclient.PartnerRegistration{FullName: "Asha Rao", Email: "asha@example.com", CompanyName: "Rao Finserv", PAN: "ABCDE1234F"}
	docs := []apiclient.Document{
		{Kind: apiclient.DocPANCard, Filename: "pan.pdf", Content: pdf},
		{Kind: apiclient.DocAadhaarCard, Filename: "aadhaar.pdf", Content: pdf},
	}

	out, err := newAPIClient(t, ts.URL, "").RegisterPartner(context.Background(), reg, docs)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if out.PartnerCode != "MSP-00042" {
		t.Fatalf("unexpected result %+v", out)
	}
	if partnerSvc.gotReg.CompanyName != "Rao Finserv" {
		t.Fatalf("registration not decoded: %+v", partnerSvc.gotReg)
	}
	if len(partnerSvc.gotDocs) != 2 || partnerSvc.gotDocs[0].Kind != apiclient.DocAadhaarCard || !bytes.Equal(partnerSvc.gotDocs[1].Content, pdf) {
		t.Fatalf("unexpected documents %+v", partnerSvc.gotDocs)
	}
}

// The acceptance is acknowledged at once but only shows up on the second
// profile read, as when the projector has not yet run.
func TestAgreementReconcile_AgainstLaggingServer(t *testing.T) {
	server, _, partnerSvc, _ := newTestServer(t)
	partnerSvc.lagReads = 1
	ts := httptest.NewServer(server.routes())
	defer ts.Close()

	client := newAPIClient(t, ts.URL, "partner-token")
	ctx := context.Background()

	store := profile.NewStore()
	current, err := client.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	store.Set(&current)

	rec := reconcile.New(client, store,
		reconcile.WithConfig(reconcile.Config{MaxAttempts: 3, Delay: 5 * time.Millisecond, InitialDelay: 5 * time.Millisecond}),
		reconcile.WithLogger(zaptest.NewLogger(t)),
	)
	res, err := rec.AcceptAgreement(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Outcome != reconcile.OutcomeConfirmed || res.Reads != 2 {
		t.Fatalf("expected confirmation on read 2, got %+v", res)
	}
	if st := store.Get(); !st.Data.AgreementAccepted() || st.Loading || st.Error != "" {
		t.Fatalf("unexpected store state %+v", st)
	}
	if len(partnerSvc.keys) != 1 {
		t.Fatalf("expected one write, got %d", len(partnerSvc.keys))
	}
}
