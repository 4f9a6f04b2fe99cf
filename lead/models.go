package lead

import "time"

type Status string

const (
	StatusNew              Status = "new"
	StatusContacted        Status = "contacted"
	StatusDocumentsPending Status = "documents_pending"
	StatusSubmitted        Status = "submitted"
	StatusSanctioned       Status = "sanctioned"
	StatusDisbursed        Status = "disbursed"
	StatusRejected         Status = "rejected"
	StatusClosed           Status = "closed"
)

var transitions = map[Status][]Status{
	StatusNew:              {StatusContacted, StatusDocumentsPending, StatusRejected, StatusClosed},
	StatusContacted:        {StatusDocumentsPending, StatusRejected, StatusClosed},
	StatusDocumentsPending: {StatusSubmitted, StatusRejected, StatusClosed},
	StatusSubmitted:        {StatusSanctioned, StatusRejected},
	StatusSanctioned:       {StatusDisbursed, StatusRejected},
	StatusDisbursed:        {StatusClosed},
}

// staffOnly statuses reflect lender decisions and are set by admins or
// managers.
var staffOnly = map[Status]bool{
	StatusSanctioned: true,
	StatusDisbursed:  true,
	StatusRejected:   true,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusDocumentsPending, StatusSubmitted,
		StatusSanctioned, StatusDisbursed, StatusRejected, StatusClosed:
		return true
	}
	return false
}

// CanTransition reports whether a lead may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Editable reports whether customer details may still change.
func (s Status) Editable() bool {
	return s == StatusNew || s == StatusContacted || s == StatusDocumentsPending
}

// Locked reports whether the lead has reached the lender and can no
// longer be deleted.
func (s Status) Locked() bool {
	return s == StatusSubmitted || s == StatusSanctioned || s == StatusDisbursed
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role string
}

// SeesAll reports whether the actor may access every partner's leads.
func (a Actor) SeesAll() bool {
	return a.Role == "admin" || a.Role == "manager"
}

type Lead struct {
	ID            string
	PartnerID     string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	LoanType      string
	LoanAmount    int64
	City          string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Filters struct {
	PartnerID string
	Status    Status
	Search    string
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}

// Input holds the customer fields of Create and Update.
type Input struct {
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	LoanType      string
	LoanAmount    int64
	City          string
}

type ListResult struct {
	Items []Lead
	Total int
}

// Event is one entry of a lead's timeline.
type Event struct {
	ID        int64
	LeadID    string
	Type      string
	ActorID   *string
	Payload   map[string]any
	CreatedAt time.Time
}

type Remark struct {
	ID        string
	LeadID    string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

const (
	EventCreated       = "LEAD_CREATED"
	EventUpdated       = "LEAD_UPDATED"
	EventStatusChanged = "LEAD_STATUS_CHANGED"
	EventRemarkAdded   = "LEAD_REMARK_ADDED"
	EventDeleted       = "LEAD_DELETED"
)
