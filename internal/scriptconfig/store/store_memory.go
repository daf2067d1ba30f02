package store

import (
	"context"
	"sync"

	"cookieconsent/internal/scriptconfig/models"
	"cookieconsent/pkg/platform/sentinel"
)

// InMemory keeps script configurations in process memory.
type InMemory struct {
	mu      sync.RWMutex
	configs map[string]models.ScriptConfig
}

// NewInMemory creates an empty in-memory script configuration store.
func NewInMemory() *InMemory {
	return &InMemory{configs: make(map[string]models.ScriptConfig)}
}

// Save inserts or replaces a configuration keyed by script ID.
func (s *InMemory) Save(_ context.Context, cfg *models.ScriptConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ScriptID] = *cfg
	return nil
}

// FindByScriptID returns the configuration regardless of owner or status.
func (s *InMemory) FindByScriptID(_ context.Context, scriptID string) (*models.ScriptConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[scriptID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &cfg, nil
}
