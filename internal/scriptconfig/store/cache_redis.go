package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"cookieconsent/internal/scriptconfig/models"
)

const cacheKeyPrefix = "scriptconfig:"

// Backend is the authoritative store behind the cache.
type Backend interface {
	Save(ctx context.Context, cfg *models.ScriptConfig) error
	FindByScriptID(ctx context.Context, scriptID string) (*models.ScriptConfig, error)
}

// Cached is a read-through Redis cache in front of a Backend. Redis failures
// degrade to direct backend reads; misses are not cached.
type Cached struct {
	backend Backend
	client  redis.UniversalClient
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCached wraps backend with a Redis cache.
func NewCached(backend Backend, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{backend: backend, client: client, ttl: ttl, logger: logger}
}

// Save writes through to the backend and evicts the cached entry.
func (c *Cached) Save(ctx context.Context, cfg *models.ScriptConfig) error {
	if err := c.backend.Save(ctx, cfg); err != nil {
		return err
	}
	if err := c.client.Del(ctx, cacheKeyPrefix+cfg.ScriptID).Err(); err != nil {
		c.logger.WarnContext(ctx, "script config cache eviction failed", "script_id", cfg.ScriptID, "error", err)
	}
	return nil
}

// FindByScriptID serves from Redis when possible.
func (c *Cached) FindByScriptID(ctx context.Context, scriptID string) (*models.ScriptConfig, error) {
	key := cacheKeyPrefix + scriptID
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cfg models.ScriptConfig
		if jsonErr := json.Unmarshal(raw, &cfg); jsonErr == nil {
			return &cfg, nil
		}
		c.logger.WarnContext(ctx, "discarding corrupt script config cache entry", "script_id", scriptID)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "script config cache read failed", "script_id", scriptID, "error", err)
	}

	cfg, err := c.backend.FindByScriptID(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(cfg); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "script config cache write failed", "script_id", scriptID, "error", err)
		}
	}
	return cfg, nil
}
