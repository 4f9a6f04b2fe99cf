package main

import (
	"net/http"

	"go.uber.org/zap"

	"partnerflow/partner"
)

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	p, err := s.partnerService.CurrentUser(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type acceptResponse struct {
	Replayed        bool `json:"replayed"`
	AlreadyAccepted bool `json:"alreadyAccepted"`
}

// handleAcceptAgreement acknowledges the write only. The profile flag
// becomes visible once the projector has applied the outbox message.
func (s *Server) handleAcceptAgreement(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	res, err := s.partnerService.AcceptAgreement(r.Context(), partner.AcceptRequest{
		UserID:         userID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.log().Debug("agreement accepted",
		zap.String("user_id", userID),
		zap.Bool("replayed", res.Replayed),
		zap.Bool("already_accepted", res.AlreadyAccepted),
	)
	writeEnvelope(w, http.StatusOK, envelope{
		Success: true,
		Message: "Agreement accepted",
		Data:    acceptResponse{Replayed: res.Replayed, AlreadyAccepted: res.AlreadyAccepted},
	})
}
