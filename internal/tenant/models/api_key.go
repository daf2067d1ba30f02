package models

import (
	"time"

	id "cookieconsent/pkg/domain"
)

// APIKey is a customer credential. Each key identifies one tenant; the raw key
// is shown once at issuance and only its keyed digest is stored.
//
// Invariants:
//   - KeyID is unique and public (it is embedded in the raw key)
//   - KeyDigest never leaves the store
//   - an inactive or expired key authenticates nothing
type APIKey struct {
	TenantID      id.TenantID
	KeyID         string
	KeyDigest     string
	CustomerName  string
	CustomerEmail string
	IsActive      bool
	CreatedAt     time.Time
	ExpiresAt     *time.Time
}

// IsUsable reports whether the key may authenticate at now.
func (k *APIKey) IsUsable(now time.Time) bool {
	if k == nil || !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// Identity converts the key into the tenant identity carried by requests.
func (k *APIKey) Identity() *id.TenantIdentity {
	var expires *time.Time
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		expires = &t
	}
	return &id.TenantIdentity{
		ID:        k.TenantID,
		Name:      k.CustomerName,
		Active:    k.IsActive,
		ExpiresAt: expires,
	}
}
