package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
	// ErrOTPNotFound signals that no code was issued for the email.
	ErrOTPNotFound = errors.New("auth: otp not found")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	ListByManager(ctx context.Context, managerID string) ([]User, error)

	CreateOTP(ctx context.Context, params CreateOTPParams) (OTP, error)
	LatestOTP(ctx context.Context, email string, purpose OTPPurpose) (OTP, error)
	IncrementOTPAttempts(ctx context.Context, id string) error
	ConsumeOTP(ctx context.Context, id string, at time.Time) (bool, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	Role         Role
	ManagerID    *string
}

// CreateOTPParams contains write parameters for issuing a code.
type CreateOTPParams struct {
	Email     string
	Purpose   OTPPurpose
	CodeHash  string
	ExpiresAt time.Time
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, full_name, password_hash, phone, role, manager_id, created_at, updated_at`

// CreateUser inserts a new user with hashed password. Partners also get an
// empty partner profile row.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	const insertSQL = `
		WITH u AS (
			INSERT INTO users (email, full_name, password_hash, phone, role, manager_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING ` + userColumns + `
		), p AS (
			INSERT INTO partner_profiles (user_id)
			SELECT id FROM u WHERE role = 'partner'
		)
		SELECT ` + userColumns + ` FROM u
	`

	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL,
		params.Email, params.FullName, params.PasswordHash, params.Phone, params.Role, params.ManagerID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by email: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}

	return user, nil
}

// UpdatePassword replaces a user's password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListByManager returns the users whose manager is managerID, newest first.
func (r *PGRepository) ListByManager(ctx context.Context, managerID string) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE manager_id = $1 ORDER BY created_at DESC`, managerID)
	if err != nil {
		return nil, fmt.Errorf("auth: list by manager: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("auth: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auth: iterate users: %w", err)
	}
	return users, nil
}

const otpColumns = `id, email, purpose, code_hash, attempts, expires_at, consumed_at, created_at`

// CreateOTP stores a newly issued code.
func (r *PGRepository) CreateOTP(ctx context.Context, params CreateOTPParams) (OTP, error) {
	const insertSQL = `
		INSERT INTO otp_codes (email, purpose, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + otpColumns

	otp, err := scanOTP(r.pool.QueryRow(ctx, insertSQL, params.Email, params.Purpose, params.CodeHash, params.ExpiresAt))
	if err != nil {
		return OTP{}, fmt.Errorf("auth: create otp: %w", err)
	}
	return otp, nil
}

// LatestOTP returns the most recently issued code for email and purpose.
func (r *PGRepository) LatestOTP(ctx context.Context, email string, purpose OTPPurpose) (OTP, error) {
	const selectSQL = `
		SELECT ` + otpColumns + `
		FROM otp_codes
		WHERE lower(email) = lower($1) AND purpose = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	otp, err := scanOTP(r.pool.QueryRow(ctx, selectSQL, email, purpose))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OTP{}, ErrOTPNotFound
		}
		return OTP{}, fmt.Errorf("auth: latest otp: %w", err)
	}
	return otp, nil
}

// IncrementOTPAttempts records a failed verification.
func (r *PGRepository) IncrementOTPAttempts(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE otp_codes SET attempts = attempts + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("auth: increment otp attempts: %w", err)
	}
	return nil
}

// ConsumeOTP marks a code used. It reports false when another caller
// consumed it first.
func (r *PGRepository) ConsumeOTP(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE otp_codes SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("auth: consume otp: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Phone,
		&user.Role,
		&user.ManagerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func scanOTP(row pgx.Row) (OTP, error) {
	var otp OTP
	err := row.Scan(
		&otp.ID,
		&otp.Email,
		&otp.Purpose,
		&otp.CodeHash,
		&otp.Attempts,
		&otp.ExpiresAt,
		&otp.ConsumedAt,
		&otp.CreatedAt,
	)
	return otp, err
}
