package consent

import (
	"context"
	"sync"

	"cookieconsent/internal/consent/models"
	id "cookieconsent/pkg/domain"
	"cookieconsent/pkg/platform/sentinel"
)

type sessionKey struct {
	tenantID  id.TenantID
	sessionID string
}

// InMemory is a concurrency-safe consent store for tests and single-node
// development. Records are cloned on the way in and out.
type InMemory struct {
	mu        sync.RWMutex
	consents  map[id.ConsentID]*models.Consent
	bySession map[sessionKey][]id.ConsentID
}

// NewInMemory creates an empty in-memory consent store.
func NewInMemory() *InMemory {
	return &InMemory{
		consents:  make(map[id.ConsentID]*models.Consent),
		bySession: make(map[sessionKey][]id.ConsentID),
	}
}

// Create inserts a new consent. Duplicate IDs return sentinel.ErrConflict.
func (s *InMemory) Create(_ context.Context, c *models.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.consents[c.ID]; exists {
		return sentinel.ErrConflict
	}
	s.consents[c.ID] = c.Clone()
	key := sessionKey{tenantID: c.TenantID, sessionID: c.SessionID}
	s.bySession[key] = append(s.bySession[key], c.ID)
	return nil
}

// Update overwrites a consent's mutable fields.
func (s *InMemory) Update(_ context.Context, c *models.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.consents[c.ID]
	if !ok || existing.TenantID != c.TenantID {
		return sentinel.ErrNotFound
	}
	updated := c.Clone()
	// identity fields never change after creation
	updated.SessionID = existing.SessionID
	updated.CreatedAt = existing.CreatedAt
	s.consents[c.ID] = updated
	return nil
}

// FindByID returns the consent only if it belongs to the tenant.
func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID, consentID id.ConsentID) (*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consents[consentID]
	if !ok || c.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

// FindLatestActive returns the most recently created consent with status active
// for the tenant's session, optionally narrowed to one script. Equal creation
// times resolve to the later insert.
func (s *InMemory) FindLatestActive(_ context.Context, tenantID id.TenantID, sessionID, scriptID string) (*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Consent
	ids := s.bySession[sessionKey{tenantID: tenantID, sessionID: sessionID}]
	for i := len(ids) - 1; i >= 0; i-- {
		c := s.consents[ids[i]]
		if c.Status != models.StatusActive {
			continue
		}
		if scriptID != "" && c.ScriptID != scriptID {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return latest.Clone(), nil
}

// Remove deletes a consent outright. It backs transaction rollback only.
func (s *InMemory) Remove(_ context.Context, consentID id.ConsentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[consentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.consents, consentID)
	key := sessionKey{tenantID: c.TenantID, sessionID: c.SessionID}
	ids := s.bySession[key]
	for i, existing := range ids {
		if existing == consentID {
			s.bySession[key] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.bySession[key]) == 0 {
		delete(s.bySession, key)
	}
	return nil
}

// Restore puts back a previously read snapshot of a consent, identity fields
// included. It backs transaction rollback only.
func (s *InMemory) Restore(_ context.Context, snapshot *models.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents[snapshot.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.consents[snapshot.ID] = snapshot.Clone()
	return nil
}
