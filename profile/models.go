// Package profile defines the signed-in user's profile as seen by the
// partner app, and the store that holds it.
package profile

import (
	"encoding/json"
	"time"
)

// Role selects which role-specific record of a profile is populated.
type Role string

const (
	RolePartner   Role = "partner"
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleAssociate Role = "associate"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePartner, RoleAdmin, RoleManager, RoleAssociate:
		return true
	default:
		return false
	}
}

// UserProfile is the current-user payload returned by GET /api/users/me.
type UserProfile struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	FullName  string          `json:"fullName"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone,omitempty"`
	ManagerID string          `json:"managerId,omitempty"`
	Partner   *PartnerDetails `json:"partner,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// PartnerDetails is present only on partner profiles.
type PartnerDetails struct {
	PartnerCode         string     `json:"partnerCode,omitempty"`
	CompanyName         string     `json:"companyName,omitempty"`
	AgreementAccepted   bool       `json:"agreementAccepted"`
	AgreementAcceptedAt *time.Time `json:"agreementAcceptedAt,omitempty"`
}

// Clone returns a deep copy safe to mutate.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.Partner != nil {
		partner := *p.Partner
		if p.Partner.AgreementAcceptedAt != nil {
			at := *p.Partner.AgreementAcceptedAt
			partner.AgreementAcceptedAt = &at
		}
		out.Partner = &partner
	}
	if p.Details != nil {
		out.Details = append(json.RawMessage(nil), p.Details...)
	}
	return &out
}

// IsPartner reports whether the profile belongs to a partner.
func (p *UserProfile) IsPartner() bool {
	return p != nil && p.Role == RolePartner
}

// AgreementAccepted reports whether a partner profile carries an accepted
// agreement.
func (p *UserProfile) AgreementAccepted() bool {
	return p.IsPartner() && p.Partner != nil && p.Partner.AgreementAccepted
}

// AgreementConfirmed is the predicate used while polling after an
// acceptance write.
func AgreementConfirmed(p UserProfile) bool {
	return p.AgreementAccepted()
}
