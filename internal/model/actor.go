package model

// Role is the caller's authorization level as asserted by the trusted
// authentication gateway in front of the core.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAdmin     Role = "ADMIN"
	RoleUnlimited Role = "UNLIMITED"
)

// Actor identifies who triggered an operation. The core trusts the gateway
// to have authenticated it; an empty ID means anonymous.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Anonymous is the zero actor used for unauthenticated paths (webhooks).
var Anonymous = Actor{Role: RoleUser}

// IsAdmin reports whether the actor may perform administrative ledger
// operations (refunds, adjustments).
func (a Actor) IsAdmin() bool {
	return a.ID != "" && (a.Role == RoleAdmin || a.Role == RoleUnlimited)
}

// IsUnlimited reports whether the actor bypasses balance checks.
func (a Actor) IsUnlimited() bool {
	return a.Role == RoleUnlimited
}
