package partner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"partnerflow/clock"
)

// OutboxStore is the data access used by the Projector.
type OutboxStore interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, topic string, limit int) ([]OutboxMessage, error)
	MarkAgreementAccepted(ctx context.Context, tx pgx.Tx, userID string, at time.Time) error
	MarkProcessed(ctx context.Context, tx pgx.Tx, id int64) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id int64, cause error) error
}

// Projector applies agreement acceptances from the outbox to the
// partner profile read model.
type Projector struct {
	pool     TxBeginner
	repo     OutboxStore
	clock    clock.Clock
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

func NewProjector(pool TxBeginner, repo OutboxStore) *Projector {
	if repo == nil {
		repo = NewRepository()
	}
	return &Projector{
		pool:     pool,
		repo:     repo,
		clock:    clock.Real(),
		interval: 2 * time.Second,
		batch:    100,
		logger:   zap.NewNop(),
	}
}

func (p *Projector) WithClock(c clock.Clock) *Projector {
	p.clock = c
	return p
}

func (p *Projector) WithInterval(d time.Duration) *Projector {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *Projector) WithBatchSize(n int) *Projector {
	if n > 0 {
		p.batch = n
	}
	return p
}

func (p *Projector) WithLogger(logger *zap.Logger) *Projector {
	p.logger = logger
	return p
}

// Run drains the outbox on every tick until ctx is done. Errors of a
// single drain are logged and retried on the next tick.
func (p *Projector) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("agreement projector started", zap.Duration("interval", p.interval), zap.Int("batch", p.batch))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("agreement projector stopped")
			return nil
		case <-ticker.C:
			if _, err := p.Drain(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("agreement projector drain failed", zap.Error(err))
			}
		}
	}
}

// Drain applies batches until the outbox has no pending acceptances and
// returns the number of messages handled.
func (p *Projector) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := p.RunOnce(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < p.batch {
			return total, nil
		}
	}
}

// RunOnce applies one batch in a single transaction.
func (p *Projector) RunOnce(ctx context.Context) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("partner: projector begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := p.repo.ClaimPending(ctx, tx, OutboxTopicAgreementAccepted, p.batch)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	for _, m := range msgs {
		applyErr := p.apply(ctx, tx, m)
		switch {
		case applyErr == nil:
			if err := p.repo.MarkProcessed(ctx, tx, m.ID); err != nil {
				return 0, err
			}
		case errors.Is(applyErr, errPoison):
			p.logger.Warn("outbox message parked", zap.Int64("outbox_id", m.ID), zap.Error(applyErr))
			if err := p.repo.MarkFailed(ctx, tx, m.ID, applyErr); err != nil {
				return 0, err
			}
		default:
			return 0, applyErr
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("partner: projector commit: %w", err)
	}
	p.logger.Debug("agreement acceptances projected", zap.Int("count", len(msgs)))
	return len(msgs), nil
}

// errPoison marks messages that will never apply and must not block the
// queue.
var errPoison = errors.New("partner: unprocessable outbox message")

func (p *Projector) apply(ctx context.Context, tx pgx.Tx, m OutboxMessage) error {
	var payload acceptedPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode: %v", errPoison, err)
	}
	if payload.UserID == "" {
		return fmt.Errorf("%w: missing user_id", errPoison)
	}
	at := payload.AcceptedAt
	if at.IsZero() {
		at = m.CreatedAt
	}
	if err := p.repo.MarkAgreementAccepted(ctx, tx, payload.UserID, at); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fmt.Errorf("%w: no partner profile for %s", errPoison, payload.UserID)
		}
		return err
	}
	return nil
}
