// Package actors drives concurrent load against the services during the
// stress test. Each actor loops until stop closes and returns an error
// only when it observes a broken invariant.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"partnerflow/lead"
	"partnerflow/partner"
	"partnerflow/profile"
)

// Stats counts what the actors did. Interrupted counts calls that failed
// for reasons outside the services' control, such as a killed backend.
type Stats struct {
	Accepted    atomic.Int64
	Replayed    atomic.Int64
	Projected   atomic.Int64
	Reads       atomic.Int64
	LeadWrites  atomic.Int64
	Contended   atomic.Int64
	Interrupted atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("accepted=%d replayed=%d projected=%d reads=%d lead_writes=%d contended=%d interrupted=%d",
		s.Accepted.Load(), s.Replayed.Load(), s.Projected.Load(), s.Reads.Load(),
		s.LeadWrites.Load(), s.Contended.Load(), s.Interrupted.Load())
}

// Acceptor accepts the agreement for random partners. About a third of
// the calls replay a key the actor used before.
func Acceptor(ctx context.Context, svc *partner.Service, userIDs []string, stats *Stats, stop <-chan struct{}) error {
	type sent struct{ userID, key string }
	var history []sent

	for running(ctx, stop) {
		req := partner.AcceptRequest{UserID: userIDs[rand.IntN(len(userIDs))], IdempotencyKey: uuid.NewString()}
		if len(history) > 0 && rand.IntN(3) == 0 {
			h := history[rand.IntN(len(history))]
			req.UserID, req.IdempotencyKey = h.userID, h.key
		}

		res, err := svc.AcceptAgreement(ctx, req)
		switch {
		case errors.Is(err, partner.ErrNotPartner), errors.Is(err, partner.ErrMissingIdempotencyKey):
			return fmt.Errorf("accept %s: %w", req.UserID, err)
		case err != nil:
			stats.Interrupted.Add(1)
		case res.Replayed:
			stats.Replayed.Add(1)
		default:
			stats.Accepted.Add(1)
			history = append(history, sent{req.UserID, req.IdempotencyKey})
		}
		pause(5, 20)
	}
	return nil
}

// Projector drains the outbox in a loop. Several run at once and compete
// for the same rows.
func Projector(ctx context.Context, p *partner.Projector, stats *Stats, stop <-chan struct{}) error {
	for running(ctx, stop) {
		n, err := p.Drain(ctx)
		stats.Projected.Add(int64(n))
		if err != nil {
			stats.Interrupted.Add(1)
		}
		pause(10, 40)
	}
	return nil
}

// Reader polls the profile read model. Once a partner is seen as
// accepted the flag and its timestamp must never change again.
func Reader(ctx context.Context, svc *partner.Service, userIDs []string, stats *Stats, stop <-chan struct{}) error {
	seen := make(map[string]time.Time, len(userIDs))

	for running(ctx, stop) {
		id := userIDs[rand.IntN(len(userIDs))]
		p, err := svc.CurrentUser(ctx, id)
		if err != nil {
			stats.Interrupted.Add(1)
			pause(10, 50)
			continue
		}
		stats.Reads.Add(1)

		at, accepted := seen[id]
		switch {
		case profile.AgreementConfirmed(p):
			if p.Partner.AgreementAcceptedAt == nil {
				return fmt.Errorf("reader: %s accepted without a timestamp", id)
			}
			got := *p.Partner.AgreementAcceptedAt
			if accepted && !got.Equal(at) {
				return fmt.Errorf("reader: %s acceptance time moved from %s to %s", id, at, got)
			}
			seen[id] = got
		case accepted:
			return fmt.Errorf("reader: %s agreement flag regressed", id)
		}
		pause(1, 10)
	}
	return nil
}

// Leads is the set of leads created so far, shared between writers and
// reviewers.
type Leads struct {
	mu  sync.Mutex
	ids []string
}

func (l *Leads) add(id string) {
	l.mu.Lock()
	l.ids = append(l.ids, id)
	l.mu.Unlock()
}

func (l *Leads) random() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ids) == 0 {
		return "", false
	}
	return l.ids[rand.IntN(len(l.ids))], true
}

var partnerPath = []lead.Status{lead.StatusContacted, lead.StatusDocumentsPending, lead.StatusSubmitted}

// LeadWriter creates leads for one partner and walks them towards
// submission with remarks along the way.
func LeadWriter(ctx context.Context, svc *lead.Service, actor lead.Actor, leads *Leads, stats *Stats, stop <-chan struct{}) error {
	for running(ctx, stop) {
		l, err := svc.Create(ctx, actor, lead.Input{
			CustomerName:  "Stress Customer",
			CustomerPhone: fmt.Sprintf("9%09d", rand.IntN(1_000_000_000)),
			LoanType:      "home",
			LoanAmount:    int64(100_000 + rand.IntN(5_000_000)),
			City:          "Pune",
		})
		if err != nil {
			if errors.Is(err, lead.ErrInvalidInput) {
				return fmt.Errorf("lead writer: %w", err)
			}
			stats.Interrupted.Add(1)
			pause(10, 50)
			continue
		}
		stats.LeadWrites.Add(1)
		leads.add(l.ID)

		for _, next := range partnerPath[:rand.IntN(len(partnerPath)+1)] {
			if err := record(stats, leadErr(svc.UpdateStatus(ctx, actor, l.ID, next))); err != nil {
				return err
			}
			if rand.IntN(2) == 0 {
				_, err := svc.AddRemark(ctx, actor, l.ID, fmt.Sprintf("moved to %s", next))
				if err := record(stats, err); err != nil {
					return err
				}
			}
		}
		pause(10, 30)
	}
	return nil
}

// Reviewer applies lender decisions to random leads as staff, racing the
// writers on the same rows.
func Reviewer(ctx context.Context, svc *lead.Service, staff lead.Actor, leads *Leads, stats *Stats, stop <-chan struct{}) error {
	decisions := []lead.Status{lead.StatusSanctioned, lead.StatusRejected, lead.StatusDisbursed, lead.StatusClosed}

	for running(ctx, stop) {
		id, ok := leads.random()
		if !ok {
			pause(10, 20)
			continue
		}
		next := decisions[rand.IntN(len(decisions))]
		if err := record(stats, leadErr(svc.UpdateStatus(ctx, staff, id, next))); err != nil {
			return err
		}
		pause(5, 25)
	}
	return nil
}

// record classifies a lead mutation result. Transition races are
// expected; anything else from the service contract is a bug.
func record(stats *Stats, err error) error {
	switch {
	case err == nil:
		stats.LeadWrites.Add(1)
	case errors.Is(err, lead.ErrInvalidTransition), errors.Is(err, lead.ErrNotEditable), errors.Is(err, lead.ErrLocked):
		stats.Contended.Add(1)
	case errors.Is(err, lead.ErrForbidden), errors.Is(err, lead.ErrNotFound), errors.Is(err, lead.ErrInvalidInput):
		return err
	default:
		stats.Interrupted.Add(1)
	}
	return nil
}

func leadErr(_ lead.Lead, err error) error { return err }

func running(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	default:
		return true
	}
}

func pause(minMS, maxMS int) {
	time.Sleep(time.Duration(minMS+rand.IntN(maxMS-minMS+1)) * time.Millisecond)
}
