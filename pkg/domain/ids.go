// Package domain holds typed identifiers and small value types shared across
// modules. Typed IDs keep a tenant ID from being passed where a consent ID is
// expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "cookieconsent/pkg/domain-errors"
)

type (
	TenantID       uuid.UUID
	ConsentID      uuid.UUID
	HistoryEntryID uuid.UUID
)

func (id TenantID) String() string       { return uuid.UUID(id).String() }
func (id ConsentID) String() string      { return uuid.UUID(id).String() }
func (id HistoryEntryID) String() string { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id HistoryEntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewConsentID returns a time-ordered (v7) identifier so that consents created
// within the same clock tick still sort in creation order.
func NewConsentID() ConsentID {
	return ConsentID(mustV7())
}

// NewHistoryEntryID returns a time-ordered identifier for an audit entry.
func NewHistoryEntryID() HistoryEntryID {
	return HistoryEntryID(mustV7())
}

func mustV7() uuid.UUID {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return u
}

// ParseTenantID parses and validates a tenant identifier.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant")
	return TenantID(u), err
}

// ParseConsentID parses and validates a consent identifier.
func ParseConsentID(s string) (ConsentID, error) {
	u, err := parseUUID(s, "consent")
	return ConsentID(u), err
}

func parseUUID(s, kind string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" ID required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" ID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" ID cannot be nil")
	}
	return u, nil
}
