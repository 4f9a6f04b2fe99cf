// Package lead manages the customer loan leads partners submit. Every
// mutation appends a timeline event in the same transaction.
package lead

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	ErrForbidden         = errors.New("lead: forbidden")
	ErrInvalidTransition = errors.New("lead: invalid status transition")
	ErrNotEditable       = errors.New("lead: lead can no longer be edited")
	ErrLocked            = errors.New("lead: lead is with the lender and cannot be deleted")
	ErrInvalidInput      = errors.New("lead: invalid input")
)

var phonePattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	idGenerator func() string
	logger      *zap.Logger
}

func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		idGenerator: func() string { return uuid.NewString() },
		logger:      zap.NewNop(),
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	s.logger = logger
	return s
}

func (s *Service) Create(ctx context.Context, actor Actor, in Input) (Lead, error) {
	if actor.ID == "" {
		return Lead{}, fmt.Errorf("lead: missing actor id")
	}
	in, err := cleanInput(in)
	if err != nil {
		return Lead{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Lead{}, fmt.Errorf("lead: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Lead{
		ID:            s.idGenerator(),
		PartnerID:     actor.ID,
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
		CustomerEmail: in.CustomerEmail,
		LoanType:      in.LoanType,
		LoanAmount:    in.LoanAmount,
		City:          in.City,
		Status:        StatusNew,
	})
	if err != nil {
		return Lead{}, err
	}

	payload := map[string]any{
		"loan_type":   created.LoanType,
		"loan_amount": created.LoanAmount,
	}
	if err := s.repo.AppendEvent(ctx, tx, created.ID, EventCreated, actor.ID, payload); err != nil {
		return Lead{}, fmt.Errorf("lead: append timeline: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Lead{}, fmt.Errorf("lead: commit tx: %w", err)
	}
	s.logger.Info("lead created", zap.String("lead_id", created.ID), zap.String("partner_id", actor.ID))
	return created, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id string) (Lead, error) {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	if err := authorize(actor, l); err != nil {
		return Lead{}, err
	}
	return l, nil
}

// List returns the actor's leads. Admins and managers may filter by
// partner or see all partners' leads.
func (s *Service) List(ctx context.Context, actor Actor, filters Filters) (ListResult, error) {
	if !actor.SeesAll() {
		filters.PartnerID = actor.ID
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return ListResult{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filters.Status)
	}
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

func (s *Service) Update(ctx context.Context, actor Actor, id string, in Input) (Lead, error) {
	in, err := cleanInput(in)
	if err != nil {
		return Lead{}, err
	}

	return s.mutate(ctx, actor, id, func(tx pgx.Tx, current Lead) (Lead, error) {
		if !current.Status.Editable() {
			return Lead{}, ErrNotEditable
		}
		updated, err := s.repo.Update(ctx, tx, id, in)
		if err != nil {
			return Lead{}, err
		}
		payload := map[string]any{"fields": changedFields(current, updated)}
		if err := s.repo.AppendEvent(ctx, tx, id, EventUpdated, actor.ID, payload); err != nil {
			return Lead{}, fmt.Errorf("lead: append timeline: %w", err)
		}
		return updated, nil
	})
}

func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id string, next Status) (Lead, error) {
	if !next.Valid() {
		return Lead{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, next)
	}
	if staffOnly[next] && !actor.SeesAll() {
		return Lead{}, ErrForbidden
	}

	return s.mutate(ctx, actor, id, func(tx pgx.Tx, current Lead) (Lead, error) {
		if !current.Status.CanTransition(next) {
			return Lead{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}
		updated, err := s.repo.UpdateStatus(ctx, tx, id, next)
		if err != nil {
			return Lead{}, err
		}
		payload := map[string]any{
			"previous_status": current.Status,
			"next_status":     next,
		}
		if err := s.repo.AppendEvent(ctx, tx, id, EventStatusChanged, actor.ID, payload); err != nil {
			return Lead{}, fmt.Errorf("lead: append timeline: %w", err)
		}
		return updated, nil
	})
}

// Delete soft-deletes a lead that has not reached the lender.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) error {
	_, err := s.mutate(ctx, actor, id, func(tx pgx.Tx, current Lead) (Lead, error) {
		if current.Status.Locked() {
			return Lead{}, ErrLocked
		}
		if err := s.repo.AppendEvent(ctx, tx, id, EventDeleted, actor.ID, nil); err != nil {
			return Lead{}, fmt.Errorf("lead: append timeline: %w", err)
		}
		if err := s.repo.SoftDelete(ctx, tx, id); err != nil {
			return Lead{}, err
		}
		return current, nil
	})
	return err
}

func (s *Service) Timeline(ctx context.Context, actor Actor, id string) ([]Event, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, id)
}

func (s *Service) AddRemark(ctx context.Context, actor Actor, id, body string) (Remark, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Remark{}, fmt.Errorf("%w: remark is empty", ErrInvalidInput)
	}
	if len(body) > 2000 {
		return Remark{}, fmt.Errorf("%w: remark exceeds 2000 characters", ErrInvalidInput)
	}

	var remark Remark
	_, err := s.mutate(ctx, actor, id, func(tx pgx.Tx, current Lead) (Lead, error) {
		rm, err := s.repo.InsertRemark(ctx, tx, id, actor.ID, body)
		if err != nil {
			return Lead{}, err
		}
		if err := s.repo.AppendEvent(ctx, tx, id, EventRemarkAdded, actor.ID, map[string]any{"remark_id": rm.ID}); err != nil {
			return Lead{}, fmt.Errorf("lead: append timeline: %w", err)
		}
		remark = rm
		return current, nil
	})
	if err != nil {
		return Remark{}, err
	}
	return remark, nil
}

func (s *Service) Remarks(ctx context.Context, actor Actor, id string) ([]Remark, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.Remarks(ctx, id)
}

// mutate locks the lead, checks ownership and runs fn in one transaction.
func (s *Service) mutate(ctx context.Context, actor Actor, id string, fn func(tx pgx.Tx, current Lead) (Lead, error)) (Lead, error) {
	if id == "" {
		return Lead{}, fmt.Errorf("lead: missing id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Lead{}, fmt.Errorf("lead: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Lead{}, err
	}
	if err := authorize(actor, current); err != nil {
		return Lead{}, err
	}

	out, err := fn(tx, current)
	if err != nil {
		return Lead{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Lead{}, fmt.Errorf("lead: commit tx: %w", err)
	}
	return out, nil
}

func authorize(actor Actor, l Lead) error {
	if actor.SeesAll() || l.PartnerID == actor.ID {
		return nil
	}
	// Hide other partners' leads entirely.
	return ErrNotFound
}

func cleanInput(in Input) (Input, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	in.CustomerEmail = strings.ToLower(strings.TrimSpace(in.CustomerEmail))
	in.LoanType = strings.ToLower(strings.TrimSpace(in.LoanType))
	in.City = strings.TrimSpace(in.City)

	switch {
	case in.CustomerName == "":
		return Input{}, fmt.Errorf("%w: customer name is required", ErrInvalidInput)
	case !phonePattern.MatchString(in.CustomerPhone):
		return Input{}, fmt.Errorf("%w: customer phone must be a 10-digit mobile number", ErrInvalidInput)
	case in.LoanType == "":
		return Input{}, fmt.Errorf("%w: loan type is required", ErrInvalidInput)
	case in.LoanAmount <= 0:
		return Input{}, fmt.Errorf("%w: loan amount must be positive", ErrInvalidInput)
	}
	return in, nil
}

func changedFields(before, after Lead) []string {
	var out []string
	if before.CustomerName != after.CustomerName {
		out = append(out, "customerName")
	}
	if before.CustomerPhone != after.CustomerPhone {
		out = append(out, "customerPhone")
	}
	if before.CustomerEmail != after.CustomerEmail {
		out = append(out, "customerEmail")
	}
	if before.LoanType != after.LoanType {
		out = append(out, "loanType")
	}
	if before.LoanAmount != after.LoanAmount {
		out = append(out, "loanAmount")
	}
	if before.City != after.City {
		out = append(out, "city")
	}
	return out
}
