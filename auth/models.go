package auth

import "time"

type Role string

const (
	RolePartner   Role = "partner"
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleAssociate Role = "associate"
)

// CanManageTeam reports whether the role may create associates.
func (r Role) CanManageTeam() bool {
	return r == RolePartner || r == RoleManager
}

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	Role         Role
	ManagerID    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone,omitempty"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AssociateRequest creates a team member under the caller.
type AssociateRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

// OTPPurpose scopes a one-time code to a single flow.
type OTPPurpose string

const (
	OTPLogin OTPPurpose = "login"
	OTPReset OTPPurpose = "reset"
)

// OTP is a stored one-time code. Only the bcrypt hash of the code is kept.
type OTP struct {
	ID         string
	Email      string
	Purpose    OTPPurpose
	CodeHash   string
	Attempts   int
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
