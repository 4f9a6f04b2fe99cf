package partner

import "time"

const (
	// OutboxTopicAgreementAccepted is enqueued when a partner accepts the
	// agreement. The projector applies it to partner_profiles.
	OutboxTopicAgreementAccepted = "partner.agreement_accepted"

	// CurrentAgreementVersion is recorded with each acceptance.
	CurrentAgreementVersion = "2024-04"
)

// AcceptRequest is one agreement acceptance.
type AcceptRequest struct {
	UserID         string
	IdempotencyKey string
	Version        string
}

// AcceptResult describes what the acceptance transaction did.
type AcceptResult struct {
	// Replayed is true when the idempotency key had already been used.
	Replayed bool
	// AlreadyAccepted is true when the user had accepted before.
	AlreadyAccepted bool
}

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

type acceptedPayload struct {
	UserID     string    `json:"user_id"`
	Version    string    `json:"version"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Registration is a partner sign-up submitted by the registration wizard.
type Registration struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	Password string `json:"password"`

	CompanyName  string `json:"companyName"`
	BusinessType string `json:"businessType"`
	PAN          string `json:"pan"`
	GSTIN        string `json:"gstin,omitempty"`
	Address      string `json:"address"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`

	AccountHolder string `json:"accountHolder"`
	AccountNumber string `json:"accountNumber"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bankName"`
}

// Document is an uploaded registration document.
type Document struct {
	Kind        string
	Filename    string
	ContentType string
	Content     []byte
}

// Registered identifies a newly created partner.
type Registered struct {
	UserID      string `json:"userId"`
	PartnerCode string `json:"partnerCode"`
}
