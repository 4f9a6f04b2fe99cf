// Package partner owns the partner profile read model: agreement
// acceptance, the outbox projector that applies it, and partner
// registration.
//
// Accepting the agreement does not touch partner_profiles directly. The
// acceptance transaction records the acceptance and enqueues an outbox
// message; the Projector later sets the profile flag. Reads of the
// profile may therefore lag an acknowledged acceptance.
package partner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"partnerflow/profile"
)

var (
	// ErrNotPartner is returned when a non-partner accepts the agreement.
	ErrNotPartner = errors.New("partner: only partners can accept the agreement")
	// ErrMissingIdempotencyKey is returned when a write carries no key.
	ErrMissingIdempotencyKey = errors.New("partner: missing idempotency key")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the service.
type Store interface {
	LockUserRole(ctx context.Context, tx pgx.Tx, userID string) (profile.Role, error)
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	InsertAcceptance(ctx context.Context, tx pgx.Tx, userID, version string) (time.Time, bool, error)
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload any) error
	GetProfile(ctx context.Context, q Querier, userID string) (profile.UserProfile, error)
	CreatePartner(ctx context.Context, tx pgx.Tx, reg Registration, passwordHash string) (Registered, error)
	InsertDocument(ctx context.Context, tx pgx.Tx, userID string, doc Document) error
}

// Pool is what the service needs from pgxpool.Pool.
type Pool interface {
	TxBeginner
	Querier
}

type Service struct {
	pool       Pool
	repo       Store
	logger     *zap.Logger
	bcryptCost int
}

func NewService(pool Pool, repo Store) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		logger:     zap.NewNop(),
		bcryptCost: defaultBcryptCost,
	}
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	s.logger = logger
	return s
}

// WithBcryptCost lowers the hashing cost, for tests.
func (s *Service) WithBcryptCost(cost int) *Service {
	s.bcryptCost = cost
	return s
}

// CurrentUser returns the profile read model of userID.
func (s *Service) CurrentUser(ctx context.Context, userID string) (profile.UserProfile, error) {
	return s.repo.GetProfile(ctx, s.pool, userID)
}

// AcceptAgreement records that the partner accepted the agreement. The
// idempotency key, the acceptance row and the outbox message are written
// in one transaction. Replaying a key is a no-op.
func (s *Service) AcceptAgreement(ctx context.Context, req AcceptRequest) (AcceptResult, error) {
	if req.UserID == "" {
		return AcceptResult{}, fmt.Errorf("partner: missing user id")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return AcceptResult{}, ErrMissingIdempotencyKey
	}
	version := req.Version
	if version == "" {
		version = CurrentAgreementVersion
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("partner: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	role, err := s.repo.LockUserRole(ctx, tx, req.UserID)
	if err != nil {
		return AcceptResult{}, err
	}
	if role != profile.RolePartner {
		return AcceptResult{}, ErrNotPartner
	}

	// Keys are scoped per user so one partner cannot replay another's.
	if err := s.repo.InsertIdempotencyKey(ctx, tx, req.UserID+":"+key); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			s.logger.Debug("agreement acceptance replayed", zap.String("user_id", req.UserID))
			return AcceptResult{Replayed: true}, nil
		}
		return AcceptResult{}, err
	}

	acceptedAt, inserted, err := s.repo.InsertAcceptance(ctx, tx, req.UserID, version)
	if err != nil {
		return AcceptResult{}, err
	}
	if inserted {
		payload := acceptedPayload{UserID: req.UserID, Version: version, AcceptedAt: acceptedAt.UTC()}
		if err := s.repo.EnqueueOutbox(ctx, tx, OutboxTopicAgreementAccepted, payload); err != nil {
			return AcceptResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, fmt.Errorf("partner: commit tx: %w", err)
	}

	s.logger.Info("agreement accepted",
		zap.String("user_id", req.UserID),
		zap.String("version", version),
		zap.Bool("first", inserted),
	)
	return AcceptResult{AlreadyAccepted: !inserted}, nil
}
