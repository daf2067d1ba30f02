package models

import (
	"time"

	id "cookieconsent/pkg/domain"
)

// Status is the stored lifecycle label of a consent. Tenants may write other
// labels; only StatusActive can ever be effective.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Default history actions when the caller does not supply one.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionRevoked = "revoked"
)

// Consent is one end user's recorded decision for a tenant's website session.
type Consent struct {
	ID         id.ConsentID
	TenantID   id.TenantID
	SessionID  string
	UserID     string
	ScriptID   string
	Categories Categories
	IPAddress  string
	UserAgent  string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
}

// IsEffectivelyActive reports whether the consent still counts as given at now:
// status active, not past expiry, never revoked. It is derived on every read and
// never persisted.
func (c *Consent) IsEffectivelyActive(now time.Time) bool {
	if c == nil || c.Status != StatusActive || c.RevokedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (c *Consent) Clone() *Consent {
	if c == nil {
		return nil
	}
	out := *c
	out.Categories = c.Categories.Clone()
	out.ExpiresAt = cloneTime(c.ExpiresAt)
	out.RevokedAt = cloneTime(c.RevokedAt)
	return &out
}

// HistoryEntry is an immutable audit record of one consent mutation.
type HistoryEntry struct {
	ID                 id.HistoryEntryID
	ConsentID          id.ConsentID
	TenantID           id.TenantID
	SessionID          string
	Action             string
	PreviousCategories Categories
	NewCategories      Categories
	IPAddress          string
	UserAgent          string
	Metadata           map[string]any
	Timestamp          time.Time
}

// Clone returns a deep copy of the entry.
func (h *HistoryEntry) Clone() *HistoryEntry {
	if h == nil {
		return nil
	}
	out := *h
	out.PreviousCategories = h.PreviousCategories.Clone()
	out.NewCategories = h.NewCategories.Clone()
	if h.Metadata != nil {
		out.Metadata = Categories(h.Metadata).Clone()
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
