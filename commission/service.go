// Package commission exposes partner payouts and their totals.
package commission

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidStatus = errors.New("commission: invalid status")

// Reader abstracts repository operations for the service.
type Reader interface {
	GetByID(ctx context.Context, id string) (Commission, error)
	List(ctx context.Context, partnerID string, status Status, limit int) ([]Commission, error)
}

type Service struct {
	repo Reader
}

func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, partnerID string, status Status, limit int) ([]Commission, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.repo.List(ctx, partnerID, status, limit)
}

// GetByID returns the commission only when it belongs to partnerID.
func (s *Service) GetByID(ctx context.Context, partnerID, id string) (Commission, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Commission{}, err
	}
	if c.PartnerID != partnerID {
		return Commission{}, ErrNotFound
	}
	return c, nil
}

// Summary totals every commission of the partner.
func (s *Service) Summary(ctx context.Context, partnerID string) (Summary, error) {
	items, err := s.repo.List(ctx, partnerID, "", maxListLimit)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(items), nil
}

func Summarize(items []Commission) Summary {
	var sum Summary
	for _, c := range items {
		sum.Count++
		switch c.Status {
		case StatusPending:
			sum.Pending += c.Amount
		case StatusApproved:
			sum.Approved += c.Amount
		case StatusPaid:
			sum.Paid += c.Amount
		}
	}
	return sum
}
