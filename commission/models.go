package commission

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Commission is a payout owed to a partner. Amount is in paise.
type Commission struct {
	ID        string
	PartnerID string
	LeadID    *string
	Amount    int64
	Rate      float64
	Status    Status
	CreatedAt time.Time
	PaidAt    *time.Time
}

// Summary totals a partner's commissions by status. Cancelled rows count
// towards Count only.
type Summary struct {
	Pending  int64
	Approved int64
	Paid     int64
	Count    int
}
