package main

import (
	"net/http"
	"strconv"
	"time"

	"partnerflow/auth"
	"partnerflow/commission"
)

type commissionResponse struct {
	ID        string  `json:"id"`
	LeadID    string  `json:"leadId,omitempty"`
	Amount    int64   `json:"amount"`
	Rate      float64 `json:"rate"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt"`
	PaidAt    string  `json:"paidAt,omitempty"`
}

func toCommissionResponse(c commission.Commission) commissionResponse {
	resp := commissionResponse{
		ID:        c.ID,
		Amount:    c.Amount,
		Rate:      c.Rate,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.LeadID != nil {
		resp.LeadID = *c.LeadID
	}
	if c.PaidAt != nil {
		resp.PaidAt = c.PaidAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type summaryResponse struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Paid     int64 `json:"paid"`
	Count    int   `json:"count"`
}

func (s *Server) handleCommissions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = n
	}
	status := commission.Status(r.URL.Query().Get("status"))

	items, err := s.commissionService.List(r.Context(), userIDFromContext(r.Context()), status, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]commissionResponse, 0, len(items))
	for _, c := range items {
		out = append(out, toCommissionResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCommissionSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.commissionService.Summary(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Pending:  sum.Pending,
		Approved: sum.Approved,
		Paid:     sum.Paid,
		Count:    sum.Count,
	})
}

func (s *Server) handleListAssociates(w http.ResponseWriter, r *http.Request) {
	users, err := s.authService.ListAssociates(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAssociate(w http.ResponseWriter, r *http.Request) {
	if !roleFromContext(r.Context()).CanManageTeam() {
		writeError(w, http.StatusForbidden, "only partners and managers can add associates")
		return
	}
	var req auth.AssociateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.authService.CreateAssociate(r.Context(), userIDFromContext(r.Context()), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.ActiveOffers(s.clock()))
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.ProductsByType(r.URL.Query().Get("loanType")))
}

func (s *Server) handleSupport(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusNotFound, "support information is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.Support)
}
