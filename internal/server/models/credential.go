package models

import "time"

// Credential is the verified identity reconstructed from a bearer token.
type Credential struct {
	SubjectID string
	Email     string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsAdmin reports whether the credential carries the admin role.
func (c *Credential) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}
