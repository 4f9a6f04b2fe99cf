package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("commission: not found")

const maxListLimit = 500

// Repository provides read access to commissions.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id string) (Commission, error) {
	const query = `
		SELECT id, partner_id, lead_id, amount, rate, status, created_at, paid_at
		FROM commissions
		WHERE id = $1
	`

	c, err := scanCommission(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commission{}, ErrNotFound
		}
		return Commission{}, fmt.Errorf("commission: query by id: %w", err)
	}
	return c, nil
}

// List returns up to limit commissions for a partner, newest first. An
// empty status matches every status.
func (r *Repository) List(ctx context.Context, partnerID string, status Status, limit int) ([]Commission, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	const query = `
		SELECT id, partner_id, lead_id, amount, rate, status, created_at, paid_at
		FROM commissions
		WHERE partner_id = $1
		  AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, partnerID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("commission: list: %w", err)
	}
	defer rows.Close()

	out := make([]Commission, 0)
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("commission: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commission: iterate: %w", err)
	}
	return out, nil
}

func scanCommission(row pgx.Row) (Commission, error) {
	var (
		c      Commission
		status string
	)
	err := row.Scan(&c.ID, &c.PartnerID, &c.LeadID, &c.Amount, &c.Rate, &status, &c.CreatedAt, &c.PaidAt)
	c.Status = Status(status)
	return c, err
}
