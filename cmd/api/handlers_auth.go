package main

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"partnerflow/auth"
	"partnerflow/partner"
)

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role"`
	ManagerID string `json:"managerId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	resp := userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
	if u.Phone != nil {
		resp.Phone = *u.Phone
	}
	if u.ManagerID != nil {
		resp.ManagerID = *u.ManagerID
	}
	return resp
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: res.Token, User: toUserResponse(res.User)})
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := s.authService.RequestOTP(r.Context(), req.Email); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "If the account exists, a code has been sent")
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Email == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "email and code are required")
		return
	}
	res, err := s.authService.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: res.Token, User: toUserResponse(res.User)})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := s.authService.ForgotPassword(r.Context(), req.Email); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "If the account exists, a reset code has been sent")
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.authService.ResetPassword(r.Context(), req.Email, req.Code, req.Password); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password updated")
}

// handlePartnerRegister accepts the registration wizard's multipart form:
// a "registration" JSON field plus one file part per document kind.
func (s *Server) handlePartnerRegister(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadBytes
	if limit <= 0 {
		limit = 25 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var reg partner.Registration
	if err := json.Unmarshal([]byte(r.FormValue("registration")), &reg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration payload")
		return
	}

	kinds := make([]string, 0, len(r.MultipartForm.File))
	for kind := range r.MultipartForm.File {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	docs := make([]partner.Document, 0, len(kinds))
	for _, kind := range kinds {
		headers := r.MultipartForm.File[kind]
		if len(headers) != 1 {
			writeError(w, http.StatusBadRequest, "exactly one file per document kind is allowed")
			return
		}
		f, err := headers[0].Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable document "+kind)
			return
		}
		content, err := io.ReadAll(io.LimitReader(f, partner.MaxDocumentSize+1))
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable document "+kind)
			return
		}
		docs = append(docs, partner.Document{
			Kind:        kind,
			Filename:    headers[0].Filename,
			ContentType: headers[0].Header.Get("Content-Type"),
			Content:     content,
		})
	}

	out, err := s.partnerService.Register(r.Context(), reg, docs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}
