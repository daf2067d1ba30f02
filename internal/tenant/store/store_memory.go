package store

import (
	"context"
	"sync"

	"cookieconsent/internal/tenant/models"
	"cookieconsent/pkg/platform/sentinel"
)

// InMemory keeps API keys in process memory.
type InMemory struct {
	mu   sync.RWMutex
	keys map[string]models.APIKey
}

// NewInMemory creates an empty in-memory API key store.
func NewInMemory() *InMemory {
	return &InMemory{keys: make(map[string]models.APIKey)}
}

// Create stores a new key. Duplicate key IDs return sentinel.ErrConflict.
func (s *InMemory) Create(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.KeyID]; exists {
		return sentinel.ErrConflict
	}
	s.keys[key.KeyID] = *key
	return nil
}

// FindByKeyID looks a key up by its public identifier.
func (s *InMemory) FindByKeyID(_ context.Context, keyID string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[keyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &key, nil
}
