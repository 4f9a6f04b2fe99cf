package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MaxOTPAttempts is the number of wrong guesses a code tolerates.
const MaxOTPAttempts = 5

var (
	// ErrInvalidOTP signals a wrong or unknown code.
	ErrInvalidOTP = errors.New("auth: invalid code")
	// ErrOTPExpired signals an expired or already used code.
	ErrOTPExpired = errors.New("auth: code expired")
	// ErrOTPLocked signals too many wrong guesses.
	ErrOTPLocked = errors.New("auth: too many attempts")
)

// OTPSender delivers a code to the user.
type OTPSender interface {
	SendOTP(ctx context.Context, email string, purpose OTPPurpose, code string) error
}

// LogSender writes codes to the log. It stands in for SMS or email
// delivery outside production.
type LogSender struct {
	Logger *zap.Logger
}

func (l LogSender) SendOTP(_ context.Context, email string, purpose OTPPurpose, code string) error {
	l.Logger.Info("otp issued", zap.String("email", email), zap.String("purpose", string(purpose)), zap.String("code", code))
	return nil
}

// RequestOTP issues a login code. Unknown emails succeed without sending
// anything so the endpoint cannot be used to probe accounts.
func (s *Service) RequestOTP(ctx context.Context, email string) error {
	return s.requestOTP(ctx, email, OTPLogin)
}

// VerifyOTP exchanges a login code for a session.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (LoginResult, error) {
	user, err := s.consumeOTP(ctx, email, OTPLogin, code)
	if err != nil {
		return LoginResult{}, err
	}
	return s.issue(user)
}

// ForgotPassword issues a reset code. Unknown emails succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	return s.requestOTP(ctx, email, OTPReset)
}

// ResetPassword sets a new password after verifying a reset code.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}
	user, err := s.consumeOTP(ctx, email, OTPReset, code)
	if err != nil {
		return err
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return nil
}

func (s *Service) requestOTP(ctx context.Context, email string, purpose OTPPurpose) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrMissingFields
	}
	if _, err := s.repo.GetUserByEmail(ctx, email); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.logger.Debug("otp requested for unknown email", zap.String("purpose", string(purpose)))
			return nil
		}
		return err
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	hash, err := s.hash(code)
	if err != nil {
		return err
	}
	if _, err := s.repo.CreateOTP(ctx, CreateOTPParams{
		Email:     email,
		Purpose:   purpose,
		CodeHash:  hash,
		ExpiresAt: s.now().Add(s.otpTTL),
	}); err != nil {
		return err
	}
	if err := s.sender.SendOTP(ctx, email, purpose, code); err != nil {
		return fmt.Errorf("auth: send otp: %w", err)
	}
	return nil
}

func (s *Service) consumeOTP(ctx context.Context, email string, purpose OTPPurpose, code string) (User, error) {
	email = normalizeEmail(email)
	otp, err := s.repo.LatestOTP(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, ErrOTPNotFound) {
			return User{}, ErrInvalidOTP
		}
		return User{}, err
	}

	now := s.now()
	if otp.ConsumedAt != nil || !now.Before(otp.ExpiresAt) {
		return User{}, ErrOTPExpired
	}
	if otp.Attempts >= MaxOTPAttempts {
		return User{}, ErrOTPLocked
	}
	if bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)) != nil {
		if err := s.repo.IncrementOTPAttempts(ctx, otp.ID); err != nil {
			return User{}, err
		}
		return User{}, ErrInvalidOTP
	}

	ok, err := s.repo.ConsumeOTP(ctx, otp.ID, now)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrOTPExpired
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidOTP
		}
		return User{}, err
	}
	return user, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("auth: generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
