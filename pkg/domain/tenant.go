package domain

import "time"

// TenantIdentity is the caller resolved from an API key. It travels in the
// request context and is passed explicitly into services.
type TenantIdentity struct {
	ID        TenantID
	Name      string
	Active    bool
	ExpiresAt *time.Time
}

// Valid reports whether the identity may act at the given instant.
func (t *TenantIdentity) Valid(now time.Time) bool {
	if t == nil || t.ID.IsNil() || !t.Active {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return true
}
