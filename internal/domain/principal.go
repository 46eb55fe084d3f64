package domain

import "slices"

// Principal identifies the caller of an action. It is derived from the
// identity headers set by the authenticating boundary adapter.
type Principal struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// RequireRole returns an *AuthorizationError when the role is missing.
func (p Principal) RequireRole(role string) error {
	if p.HasRole(role) {
		return nil
	}
	return &AuthorizationError{
		Subject: p.Subject,
		Message: "role " + role + " is required",
	}
}
