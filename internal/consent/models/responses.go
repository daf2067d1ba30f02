package models

import "time"

// ConsentStatus answers "does this session currently have consent?". When it
// does, categories are always present, even as an empty object; otherwise
// they are null.
type ConsentStatus struct {
	HasConsent  bool       `json:"has_consent"`
	ConsentID   string     `json:"consent_id,omitempty"`
	Categories  Categories `json:"categories"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// ConsentReceipt is returned by every mutating consent operation.
type ConsentReceipt struct {
	ConsentID string     `json:"consent_id"`
	Status    Status     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// HistoryEntryResponse is the wire form of a history entry.
type HistoryEntryResponse struct {
	ID                 string         `json:"id"`
	ConsentID          string         `json:"consent_id"`
	SessionID          string         `json:"session_id"`
	Action             string         `json:"action"`
	PreviousCategories Categories     `json:"previous_categories"`
	NewCategories      Categories     `json:"new_categories"`
	IPAddress          string         `json:"ip_address,omitempty"`
	UserAgent          string         `json:"user_agent,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
}

// HistoryResponse wraps a list of history entries.
type HistoryResponse struct {
	Entries []HistoryEntryResponse `json:"entries"`
}

// ToHistoryResponse converts stored entries into their wire form.
func ToHistoryResponse(entries []*HistoryEntry) *HistoryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryResponse{
			ID:                 e.ID.String(),
			ConsentID:          e.ConsentID.String(),
			SessionID:          e.SessionID,
			Action:             e.Action,
			PreviousCategories: e.PreviousCategories,
			NewCategories:      e.NewCategories,
			IPAddress:          e.IPAddress,
			UserAgent:          e.UserAgent,
			Metadata:           e.Metadata,
			Timestamp:          e.Timestamp,
		})
	}
	return &HistoryResponse{Entries: out}
}

// ConsentEvent is the payload delivered to tenant webhooks and the event stream.
type ConsentEvent struct {
	ConsentID  string     `json:"consent_id"`
	SessionID  string     `json:"session_id"`
	Action     string     `json:"action"`
	Categories Categories `json:"categories"`
	Status     Status     `json:"status"`
	CreatedAt  *time.Time `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// NewConsentEvent snapshots a consent for notification.
func NewConsentEvent(c *Consent, action string) ConsentEvent {
	created, updated := c.CreatedAt, c.UpdatedAt
	return ConsentEvent{
		ConsentID:  c.ID.String(),
		SessionID:  c.SessionID,
		Action:     action,
		Categories: c.Categories.Clone(),
		Status:     c.Status,
		CreatedAt:  &created,
		UpdatedAt:  &updated,
		ExpiresAt:  cloneTime(c.ExpiresAt),
	}
}
