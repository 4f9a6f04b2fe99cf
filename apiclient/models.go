package apiclient

import (
	"time"

	"partnerflow/profile"
)

// Session is returned by login and OTP verification.
type Session struct {
	Token string              `json:"token"`
	User  profile.UserProfile `json:"user"`
}

// Page is a paginated list.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// Lead is a customer loan lead submitted by a partner.
type Lead struct {
	ID            string    `json:"id"`
	PartnerID     string    `json:"partnerId"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	LoanType      string    `json:"loanType"`
	LoanAmount    int64     `json:"loanAmount"`
	City          string    `json:"city,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// LeadInput carries the editable lead fields.
type LeadInput struct {
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	LoanType      string `json:"loanType"`
	LoanAmount    int64  `json:"loanAmount"`
	City          string `json:"city,omitempty"`
}

// LeadQuery filters GET /api/leads.
type LeadQuery struct {
	Status    string
	Search    string
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}

// TimelineEvent is one entry in a lead's history.
type TimelineEvent struct {
	ID        int64          `json:"id"`
	LeadID    string         `json:"leadId"`
	Type      string         `json:"type"`
	ActorID   string         `json:"actorId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Remark is a free-text note on a lead.
type Remark struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"leadId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Commission is a payout owed to a partner for a lead. Amounts are in
// paise.
type Commission struct {
	ID        string     `json:"id"`
	LeadID    string     `json:"leadId,omitempty"`
	Amount    int64      `json:"amount"`
	Rate      float64    `json:"rate"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
}

// CommissionSummary totals a partner's commissions by status.
type CommissionSummary struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Paid     int64 `json:"paid"`
	Count    int   `json:"count"`
}

// Associate is a team member working under a partner or manager.
type Associate struct {
	ID        string    `json:"id"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AssociateInput creates an associate.
type AssociateInput struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

// Offer is a time-boxed promotion.
type Offer struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	LoanType    string    `json:"loanType,omitempty"`
	BonusRate   float64   `json:"bonusRate,omitempty"`
	ValidFrom   time.Time `json:"validFrom"`
	ValidUntil  time.Time `json:"validUntil"`
}

// Product describes a loan product partners can sell.
type Product struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	LoanType     string   `json:"loanType"`
	InterestRate string   `json:"interestRate,omitempty"`
	MinAmount    int64    `json:"minAmount,omitempty"`
	MaxAmount    int64    `json:"maxAmount,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// SupportInfo is the contact card shown on the support screen.
type SupportInfo struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	WhatsApp string `json:"whatsapp,omitempty"`
	Hours    string `json:"hours,omitempty"`
	Address  string `json:"address,omitempty"`
}
