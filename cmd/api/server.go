package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"partnerflow/auth"
	"partnerflow/catalog"
	"partnerflow/commission"
	"partnerflow/lead"
	"partnerflow/partner"
	"partnerflow/profile"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyRole   ctxKey = "role"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (auth.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	VerifyToken(token string) (string, auth.Role, error)
	CreateAssociate(ctx context.Context, managerID string, req auth.AssociateRequest) (*auth.User, error)
	ListAssociates(ctx context.Context, managerID string) ([]auth.User, error)
}

type partnerService interface {
	CurrentUser(ctx context.Context, userID string) (profile.UserProfile, error)
	AcceptAgreement(ctx context.Context, req partner.AcceptRequest) (partner.AcceptResult, error)
	Register(ctx context.Context, reg partner.Registration, docs []partner.Document) (partner.Registered, error)
}

type leadService interface {
	Create(ctx context.Context, actor lead.Actor, in lead.Input) (lead.Lead, error)
	Get(ctx context.Context, actor lead.Actor, id string) (lead.Lead, error)
	List(ctx context.Context, actor lead.Actor, filters lead.Filters) (lead.ListResult, error)
	Update(ctx context.Context, actor lead.Actor, id string, in lead.Input) (lead.Lead, error)
	UpdateStatus(ctx context.Context, actor lead.Actor, id string, next lead.Status) (lead.Lead, error)
	Delete(ctx context.Context, actor lead.Actor, id string) error
	Timeline(ctx context.Context, actor lead.Actor, id string) ([]lead.Event, error)
	AddRemark(ctx context.Context, actor lead.Actor, id, body string) (lead.Remark, error)
	Remarks(ctx context.Context, actor lead.Actor, id string) ([]lead.Remark, error)
}

// Server holds the HTTP handlers of the partner API.
type Server struct {
	authService       authService
	partnerService    partnerService
	leadService       leadService
	commissionService *commission.Service
	catalog           *catalog.Catalog
	logger            *zap.Logger
	now               func() time.Time
	maxUploadBytes    int64
}

// routes wires every endpoint. Handlers behind withAuth see the caller in
// the request context.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/otp", s.handleRequestOTP)
	mux.HandleFunc("POST /api/auth/otp/verify", s.handleVerifyOTP)
	mux.HandleFunc("POST /api/auth/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", s.handleResetPassword)
	mux.HandleFunc("POST /api/partners/register", s.handlePartnerRegister)

	mux.Handle("GET /api/users/me", s.withAuth(s.handleCurrentUser))
	mux.Handle("POST /api/partner/agreement/accept", s.withAuth(s.handleAcceptAgreement))

	mux.Handle("GET /api/leads", s.withAuth(s.handleListLeads))
	mux.Handle("POST /api/leads", s.withAuth(s.handleCreateLead))
	mux.Handle("GET /api/leads/{id}", s.withAuth(s.handleGetLead))
	mux.Handle("PATCH /api/leads/{id}", s.withAuth(s.handleUpdateLead))
	mux.Handle("DELETE /api/leads/{id}", s.withAuth(s.handleDeleteLead))
	mux.Handle("PATCH /api/leads/{id}/status", s.withAuth(s.handleUpdateLeadStatus))
	mux.Handle("GET /api/leads/{id}/timeline", s.withAuth(s.handleLeadTimeline))
	mux.Handle("GET /api/leads/{id}/remarks", s.withAuth(s.handleLeadRemarks))
	mux.Handle("POST /api/leads/{id}/remarks", s.withAuth(s.handleAddLeadRemark))

	mux.Handle("GET /api/commissions", s.withAuth(s.handleCommissions))
	mux.Handle("GET /api/commissions/summary", s.withAuth(s.handleCommissionSummary))
	mux.Handle("GET /api/associates", s.withAuth(s.handleListAssociates))
	mux.Handle("POST /api/associates", s.withAuth(s.handleCreateAssociate))

	mux.Handle("GET /api/offers", s.withAuth(s.handleOffers))
	mux.Handle("GET /api/products", s.withAuth(s.handleProducts))
	mux.Handle("GET /api/support", s.withAuth(s.handleSupport))

	return s.withRecovery(s.withLogging(mux))
}

func (s *Server) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", s.clock().Sub(start)),
		)
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.log().Error("handler panic", zap.Any("panic", v), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

func (s *Server) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func userIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func roleFromContext(ctx context.Context) auth.Role {
	v, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return v
}

func actorFromContext(ctx context.Context) lead.Actor {
	return lead.Actor{ID: userIDFromContext(ctx), Role: string(roleFromContext(ctx))}
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, envelope{Success: true, Message: message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, envelope{Success: false, Message: message})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// errorStatus maps service sentinels to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidOTP),
		errors.Is(err, auth.ErrOTPExpired):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrOTPLocked):
		return http.StatusTooManyRequests
	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, partner.ErrNotPartner),
		errors.Is(err, lead.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, partner.ErrUserNotFound),
		errors.Is(err, lead.ErrNotFound),
		errors.Is(err, commission.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, partner.ErrDuplicateEmail),
		errors.Is(err, lead.ErrInvalidTransition),
		errors.Is(err, lead.ErrNotEditable),
		errors.Is(err, lead.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrMissingFields),
		errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, partner.ErrMissingIdempotencyKey),
		errors.Is(err, partner.ErrInvalidRegistration),
		errors.Is(err, lead.ErrInvalidInput),
		errors.Is(err, commission.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Unmapped errors
// are logged and hidden from the caller.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, publicMessage(err))
}

// publicMessage drops the "pkg: " prefix of sentinel errors.
func publicMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i > 0 && !strings.Contains(msg[:i], " ") {
		msg = msg[i+2:]
	}
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
