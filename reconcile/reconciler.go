// Package reconcile accepts the partner agreement and reconciles the
// locally held profile with a server whose profile read model lags behind
// its writes.
//
// The flow for one attempt:
//
//	optimistic set -> write -> initial delay -> poll reads -> store replace
//
// A failed write rolls the optimistic flag back. Reads that never show the
// flag still resolve successfully with the last profile read, because the
// write was acknowledged. Reads that all fail leave the optimistic flag in
// place and return ErrUnconfirmed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"partnerflow/clock"
	"partnerflow/profile"
	"partnerflow/resource"
	"partnerflow/retry"
)

var (
	// ErrNoProfile is returned when no profile has been loaded yet.
	ErrNoProfile = errors.New("reconcile: profile not loaded")
	// ErrNotPartner is returned when the loaded profile is not a partner.
	ErrNotPartner = errors.New("reconcile: agreement acceptance requires a partner profile")
	// ErrWriteFailed wraps a failed acceptance write. The optimistic flag
	// has been rolled back.
	ErrWriteFailed = errors.New("reconcile: accept agreement failed")
	// ErrUnconfirmed means the write succeeded but no confirmation read
	// succeeded. The optimistic flag is kept.
	ErrUnconfirmed = errors.New("reconcile: agreement accepted but could not be confirmed")

	errUserChanged = errors.New("reconcile: profile read returned another user")
)

// Outcome is the terminal state of one acceptance attempt.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
)

// Result describes a finished attempt.
type Result struct {
	Outcome Outcome
	// Profile is the profile left in the store.
	Profile *profile.UserProfile
	// Reads is the number of confirmation reads performed.
	Reads int
	// Shared is true when the caller joined an attempt started by another
	// caller.
	Shared bool
}

// API is the part of the partner API the reconciler needs.
type API interface {
	AcceptAgreement(ctx context.Context) error
	CurrentUser(ctx context.Context) (profile.UserProfile, error)
}

// Config tunes the confirmation loop.
type Config struct {
	MaxAttempts  int
	Delay        time.Duration
	InitialDelay time.Duration
}

// DefaultConfig waits 1s, then reads up to three times 1.5s apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		Delay:        1500 * time.Millisecond,
		InitialDelay: time.Second,
	}
}

// Reconciler runs agreement acceptance against API and keeps store in
// step. At most one attempt runs at a time; concurrent callers share it.
type Reconciler struct {
	api    API
	store  *profile.Store
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	flights singleflight.Group
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option { return func(r *Reconciler) { r.cfg = cfg } }

// WithClock overrides the real clock.
func WithClock(c clock.Clock) Option { return func(r *Reconciler) { r.clock = c } }

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// New builds a Reconciler.
func New(api API, store *profile.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		api:    api,
		store:  store,
		cfg:    DefaultConfig(),
		clock:  clock.Real(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const acceptKey = "accept-agreement"

// AcceptAgreement accepts the partner agreement. If an attempt is already
// in flight the caller waits for it and receives its result.
//
// The attempt itself is not cancelled by ctx: once started it runs to
// completion so the store ends in a consistent state. ctx only bounds how
// long this caller waits.
func (r *Reconciler) AcceptAgreement(ctx context.Context) (Result, error) {
	detached := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(acceptKey, func() (any, error) {
		return r.accept(detached)
	})

	select {
	case <-ctx.Done():
		return Result{Outcome: OutcomePending}, ctx.Err()
	case out := <-ch:
		res, _ := out.Val.(Result)
		res.Shared = out.Shared
		return res, out.Err
	}
}

func (r *Reconciler) accept(ctx context.Context) (Result, error) {
	prev := r.store.Get().Data
	if prev == nil {
		return r.reject(nil, ErrNoProfile)
	}
	if !prev.IsPartner() {
		return r.reject(prev, ErrNotPartner)
	}
	policy := retry.Policy{MaxAttempts: r.cfg.MaxAttempts, Delay: r.cfg.Delay}
	if err := policy.Validate(); err != nil {
		return r.reject(prev, err)
	}
	userID := prev.ID
	prevAccepted := prev.AgreementAccepted()
	log := r.logger.With(zap.String("user_id", userID))

	r.store.Update(func(st *profile.State) {
		if !sameUser(st, userID) {
			return
		}
		next := st.Data.Clone()
		if next.Partner == nil {
			next.Partner = &profile.PartnerDetails{}
		}
		next.Partner.AgreementAccepted = true
		st.Data = next
		st.Loading = true
		st.Error = ""
	})
	log.Debug("agreement optimistically accepted", zap.Bool("previous", prevAccepted))

	if err := r.api.AcceptAgreement(ctx); err != nil {
		rolled := r.rollback(userID, prevAccepted, err)
		log.Warn("agreement write failed, rolled back", zap.Error(err))
		return Result{Outcome: OutcomeFailed, Profile: rolled}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	if err := retry.Sleep(ctx, r.clock, r.cfg.InitialDelay); err != nil {
		return r.unconfirmed(log, userID, 0, err)
	}

	var (
		reads    int
		lastGood *profile.UserProfile
	)
	read := func(ctx context.Context) (profile.UserProfile, error) {
		reads++
		p, err := r.api.CurrentUser(ctx)
		if err != nil {
			log.Debug("confirmation read failed", zap.Int("read", reads), zap.Error(err))
			return p, err
		}
		if p.ID != userID {
			err := fmt.Errorf("%w: %q", errUserChanged, p.ID)
			log.Warn("confirmation read rejected", zap.Int("read", reads), zap.Error(err))
			return profile.UserProfile{}, err
		}
		lastGood = p.Clone()
		return p, nil
	}

	fetched, err := retry.Poll(ctx, r.clock, policy, read, profile.AgreementConfirmed)
	switch {
	case err == nil && profile.AgreementConfirmed(fetched):
		final := r.replace(userID, fetched.Clone())
		log.Info("agreement acceptance confirmed", zap.Int("reads", reads))
		return Result{Outcome: OutcomeConfirmed, Profile: final, Reads: reads}, nil
	case err == nil:
		final := r.replace(userID, fetched.Clone())
		log.Warn("agreement not visible after retries, trusting write", zap.Int("reads", reads))
		return Result{Outcome: OutcomeExhausted, Profile: final, Reads: reads}, nil
	case lastGood != nil:
		final := r.replace(userID, lastGood)
		log.Warn("final confirmation read failed, using last good read", zap.Int("reads", reads), zap.Error(err))
		return Result{Outcome: OutcomeExhausted, Profile: final, Reads: reads}, nil
	default:
		return r.unconfirmed(log, userID, reads, err)
	}
}

// sameUser reports whether st still holds the profile an attempt started
// from. A logout or another login in between leaves st alone.
func sameUser(st *profile.State, userID string) bool {
	return st.Data != nil && st.Data.ID == userID
}

// reject records a failed precondition in the store.
func (r *Reconciler) reject(current *profile.UserProfile, err error) (Result, error) {
	r.store.Update(func(st *profile.State) {
		st.Error = resource.Message(err)
	})
	return Result{Outcome: OutcomeFailed, Profile: current}, err
}

// rollback restores the pre-attempt flag unless the store now holds a
// different user (or none, after logout).
func (r *Reconciler) rollback(userID string, prevAccepted bool, cause error) *profile.UserProfile {
	var out *profile.UserProfile
	r.store.Update(func(st *profile.State) {
		out = st.Data
		if !sameUser(st, userID) {
			return
		}
		st.Loading = false
		st.Error = resource.Message(cause)
		next := st.Data.Clone()
		if next.Partner != nil {
			next.Partner.AgreementAccepted = prevAccepted
		}
		st.Data = next
		out = next
	})
	return out
}

// replace stores the confirmed profile p and returns what the store
// holds afterwards.
func (r *Reconciler) replace(userID string, p *profile.UserProfile) *profile.UserProfile {
	var out *profile.UserProfile
	r.store.Update(func(st *profile.State) {
		if sameUser(st, userID) {
			st.Data = p
			st.Loading = false
			st.Error = ""
		}
		out = st.Data
	})
	return out
}

func (r *Reconciler) unconfirmed(log *zap.Logger, userID string, reads int, cause error) (Result, error) {
	err := fmt.Errorf("%w: %w", ErrUnconfirmed, cause)
	var current *profile.UserProfile
	r.store.Update(func(st *profile.State) {
		current = st.Data
		if !sameUser(st, userID) {
			return
		}
		st.Loading = false
		st.Error = resource.Message(err)
	})
	log.Error("agreement acceptance unconfirmed", zap.Int("reads", reads), zap.Error(cause))
	return Result{Outcome: OutcomeFailed, Profile: current, Reads: reads}, err
}
