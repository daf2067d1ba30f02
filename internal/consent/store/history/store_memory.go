package history

import (
	"context"
	"sort"
	"sync"

	"cookieconsent/internal/consent/models"
	id "cookieconsent/pkg/domain"
	"cookieconsent/pkg/platform/sentinel"
)

// InMemory is an append-only history log kept in process memory.
type InMemory struct {
	mu      sync.RWMutex
	entries []*models.HistoryEntry
	seen    map[id.HistoryEntryID]struct{}
}

// NewInMemory creates an empty in-memory history log.
func NewInMemory() *InMemory {
	return &InMemory{seen: make(map[id.HistoryEntryID]struct{})}
}

// Append records an entry. Entry IDs are write-once.
func (s *InMemory) Append(_ context.Context, entry *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[entry.ID]; dup {
		return sentinel.ErrConflict
	}
	s.seen[entry.ID] = struct{}{}
	s.entries = append(s.entries, entry.Clone())
	return nil
}

// ListByConsent returns the tenant's entries for one consent, oldest first.
func (s *InMemory) ListByConsent(_ context.Context, tenantID id.TenantID, consentID id.ConsentID) ([]*models.HistoryEntry, error) {
	return s.filter(func(e *models.HistoryEntry) bool {
		return e.TenantID == tenantID && e.ConsentID == consentID
	}), nil
}

// ListBySession returns the tenant's entries for one session, oldest first.
func (s *InMemory) ListBySession(_ context.Context, tenantID id.TenantID, sessionID string) ([]*models.HistoryEntry, error) {
	return s.filter(func(e *models.HistoryEntry) bool {
		return e.TenantID == tenantID && e.SessionID == sessionID
	}), nil
}

func (s *InMemory) filter(match func(*models.HistoryEntry) bool) []*models.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.HistoryEntry, 0)
	for _, e := range s.entries {
		if match(e) {
			out = append(out, e.Clone())
		}
	}
	// stable: append order breaks timestamp ties
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
