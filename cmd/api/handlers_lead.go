package main

import (
	"net/http"
	"strconv"
	"time"

	"partnerflow/lead"
)

type leadResponse struct {
	ID            string `json:"id"`
	PartnerID     string `json:"partnerId"`
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	LoanType      string `json:"loanType"`
	LoanAmount    int64  `json:"loanAmount"`
	City          string `json:"city,omitempty"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

func toLeadResponse(l lead.Lead) leadResponse {
	return leadResponse{
		ID:            l.ID,
		PartnerID:     l.PartnerID,
		CustomerName:  l.CustomerName,
		CustomerPhone: l.CustomerPhone,
		CustomerEmail: l.CustomerEmail,
		LoanType:      l.LoanType,
		LoanAmount:    l.LoanAmount,
		City:          l.City,
		Status:        string(l.Status),
		CreatedAt:     l.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     l.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type leadRequest struct {
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail"`
	LoanType      string `json:"loanType"`
	LoanAmount    int64  `json:"loanAmount"`
	City          string `json:"city"`
}

func (req leadRequest) input() lead.Input {
	return lead.Input{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		LoanType:      req.LoanType,
		LoanAmount:    req.LoanAmount,
		City:          req.City,
	}
}

type eventResponse struct {
	ID        int64          `json:"id"`
	LeadID    string         `json:"leadId"`
	Type      string         `json:"type"`
	ActorID   string         `json:"actorId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

type remarkResponse struct {
	ID        string `json:"id"`
	LeadID    string `json:"leadId"`
	AuthorID  string `json:"authorId"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

func toRemarkResponse(rm lead.Remark) remarkResponse {
	return remarkResponse{
		ID:        rm.ID,
		LeadID:    rm.LeadID,
		AuthorID:  rm.AuthorID,
		Body:      rm.Body,
		CreatedAt: rm.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := lead.Filters{
		PartnerID: q.Get("partnerId"),
		Status:    lead.Status(q.Get("status")),
		Search:    q.Get("search"),
		SortKey:   q.Get("sort"),
		SortOrder: q.Get("order"),
	}
	var err error
	if filters.Page, err = intParam(q.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "page must be a number")
		return
	}
	if filters.PageSize, err = intParam(q.Get("pageSize")); err != nil {
		writeError(w, http.StatusBadRequest, "pageSize must be a number")
		return
	}

	res, err := s.leadService.List(r.Context(), actorFromContext(r.Context()), filters)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]leadResponse, 0, len(res.Items))
	for _, l := range res.Items {
		items = append(items, toLeadResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": res.Total})
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	l, err := s.leadService.Create(r.Context(), actorFromContext(r.Context()), req.input())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeadResponse(l))
}

func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	l, err := s.leadService.Get(r.Context(), actorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadResponse(l))
}

func (s *Server) handleUpdateLead(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	l, err := s.leadService.Update(r.Context(), actorFromContext(r.Context()), r.PathValue("id"), req.input())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadResponse(l))
}

func (s *Server) handleUpdateLeadStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	l, err := s.leadService.UpdateStatus(r.Context(), actorFromContext(r.Context()), r.PathValue("id"), lead.Status(req.Status))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadResponse(l))
}

func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	if err := s.leadService.Delete(r.Context(), actorFromContext(r.Context()), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Lead deleted")
}

func (s *Server) handleLeadTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.leadService.Timeline(r.Context(), actorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		resp := eventResponse{
			ID:        e.ID,
			LeadID:    e.LeadID,
			Type:      e.Type,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if e.ActorID != nil {
			resp.ActorID = *e.ActorID
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeadRemarks(w http.ResponseWriter, r *http.Request) {
	remarks, err := s.leadService.Remarks(r.Context(), actorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]remarkResponse, 0, len(remarks))
	for _, rm := range remarks {
		out = append(out, toRemarkResponse(rm))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddLeadRemark(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rm, err := s.leadService.AddRemark(r.Context(), actorFromContext(r.Context()), r.PathValue("id"), req.Body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRemarkResponse(rm))
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
