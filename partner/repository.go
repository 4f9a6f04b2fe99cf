package partner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"partnerflow/profile"
)

var (
	// ErrDuplicateIdempotencyKey signals the idempotency insert hit an existing key.
	ErrDuplicateIdempotencyKey = errors.New("partner: duplicate idempotency key")
	// ErrUserNotFound is returned when no user row exists for the identifier.
	ErrUserNotFound = errors.New("partner: user not found")
	// ErrDuplicateEmail signals a registration for an existing email.
	ErrDuplicateEmail = errors.New("partner: email already registered")
)

// Querier is the read surface shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository holds the SQL for the partner domain. Writes run inside the
// caller's transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// LockUserRole returns the role of userID, locking the user row.
func (r *Repository) LockUserRole(ctx context.Context, tx pgx.Tx, userID string) (profile.Role, error) {
	var role profile.Role
	if err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("partner: load user role: %w", err)
	}
	return role, nil
}

// InsertIdempotencyKey attempts to reserve the idempotency key inside the active transaction.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("partner: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("partner: insert idempotency key: %w", err)
	}

	return nil
}

// InsertAcceptance records the acceptance. It reports false when the user
// had already accepted.
func (r *Repository) InsertAcceptance(ctx context.Context, tx pgx.Tx, userID, version string) (time.Time, bool, error) {
	const insertSQL = `
INSERT INTO agreement_acceptances (user_id, version)
VALUES ($1, $2)
ON CONFLICT (user_id) DO NOTHING
RETURNING accepted_at;
`
	var acceptedAt time.Time
	if err := tx.QueryRow(ctx, insertSQL, userID, version).Scan(&acceptedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("partner: insert acceptance: %w", err)
	}
	return acceptedAt, true, nil
}

// EnqueueOutbox writes an outbox row.
func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("partner: marshal outbox payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, topic, payloadBytes); err != nil {
		return fmt.Errorf("partner: insert outbox message: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit pending rows of topic. Rows locked by
// another projector are skipped.
func (r *Repository) ClaimPending(ctx context.Context, tx pgx.Tx, topic string, limit int) ([]OutboxMessage, error) {
	const selectSQL = `
SELECT id, topic, payload, status, attempts, created_at
FROM outbox
WHERE topic = $1 AND status = 'pending'
ORDER BY id
LIMIT $2
FOR UPDATE SKIP LOCKED;
`
	rows, err := tx.Query(ctx, selectSQL, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("partner: claim outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("partner: scan outbox: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partner: iterate outbox: %w", err)
	}
	return out, nil
}

// MarkAgreementAccepted sets the profile flag. A later acceptance time
// never overwrites an earlier one.
func (r *Repository) MarkAgreementAccepted(ctx context.Context, tx pgx.Tx, userID string, at time.Time) error {
	const updateSQL = `
UPDATE partner_profiles
SET agreement_accepted = true,
    agreement_accepted_at = COALESCE(agreement_accepted_at, $2),
    updated_at = now()
WHERE user_id = $1;
`
	tag, err := tx.Exec(ctx, updateSQL, userID, at)
	if err != nil {
		return fmt.Errorf("partner: mark agreement accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkProcessed finishes an outbox row.
func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, id int64) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', processed_at = now(), attempts = attempts + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("partner: mark outbox processed: %w", err)
	}
	return nil
}

// MarkFailed parks an outbox row that cannot be applied.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, cause error) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'failed', last_error = $2, attempts = attempts + 1 WHERE id = $1`, id, cause.Error()); err != nil {
		return fmt.Errorf("partner: mark outbox failed: %w", err)
	}
	return nil
}

// GetProfile reads the current-user profile.
func (r *Repository) GetProfile(ctx context.Context, q Querier, userID string) (profile.UserProfile, error) {
	const selectSQL = `
SELECT u.id, u.role, u.full_name, u.email, COALESCE(u.phone, ''), COALESCE(u.manager_id::text, ''),
       p.partner_code, p.company_name, p.agreement_accepted, p.agreement_accepted_at
FROM users u
LEFT JOIN partner_profiles p ON p.user_id = u.id
WHERE u.id = $1;
`
	var (
		out         profile.UserProfile
		partnerCode *string
		companyName *string
		accepted    *bool
		acceptedAt  *time.Time
	)
	err := q.QueryRow(ctx, selectSQL, userID).Scan(
		&out.ID, &out.Role, &out.FullName, &out.Email, &out.Phone, &out.ManagerID,
		&partnerCode, &companyName, &accepted, &acceptedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.UserProfile{}, ErrUserNotFound
		}
		return profile.UserProfile{}, fmt.Errorf("partner: get profile: %w", err)
	}

	if out.Role == profile.RolePartner {
		details := &profile.PartnerDetails{AgreementAcceptedAt: acceptedAt}
		if partnerCode != nil {
			details.PartnerCode = *partnerCode
		}
		if companyName != nil {
			details.CompanyName = *companyName
		}
		if accepted != nil {
			details.AgreementAccepted = *accepted
		}
		out.Partner = details
	}
	return out, nil
}

// CreatePartner inserts the user and partner profile rows of a registration.
func (r *Repository) CreatePartner(ctx context.Context, tx pgx.Tx, reg Registration, passwordHash string) (Registered, error) {
	var out Registered
	err := tx.QueryRow(ctx, `
INSERT INTO users (email, full_name, password_hash, phone, role)
VALUES ($1, $2, $3, $4, 'partner')
RETURNING id`, reg.Email, reg.FullName, passwordHash, reg.Mobile).Scan(&out.UserID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Registered{}, ErrDuplicateEmail
		}
		return Registered{}, fmt.Errorf("partner: insert user: %w", err)
	}

	err = tx.QueryRow(ctx, `
INSERT INTO partner_profiles (user_id, company_name, business_type, pan, gstin, address, city, state, pincode,
    account_holder, account_number, ifsc, bank_name)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING partner_code`,
		out.UserID, reg.CompanyName, reg.BusinessType, reg.PAN, reg.GSTIN, reg.Address, reg.City, reg.State, reg.Pincode,
		reg.AccountHolder, reg.AccountNumber, reg.IFSC, reg.BankName,
	).Scan(&out.PartnerCode)
	if err != nil {
		return Registered{}, fmt.Errorf("partner: insert profile: %w", err)
	}
	return out, nil
}

// InsertDocument stores one registration document.
func (r *Repository) InsertDocument(ctx context.Context, tx pgx.Tx, userID string, doc Document) error {
	_, err := tx.Exec(ctx, `
INSERT INTO partner_documents (user_id, kind, filename, content_type, size_bytes, content)
VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, doc.Kind, doc.Filename, doc.ContentType, len(doc.Content), doc.Content)
	if err != nil {
		return fmt.Errorf("partner: insert document %s: %w", doc.Kind, err)
	}
	return nil
}
