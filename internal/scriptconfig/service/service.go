// Package service is the read-only script configuration registry. The consent
// lifecycle resolves webhook URLs through it and the widget fetches its public
// configuration through it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"cookieconsent/internal/scriptconfig/models"
	id "cookieconsent/pkg/domain"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/platform/sentinel"
)

// Store looks up configurations by their globally unique script ID.
type Store interface {
	FindByScriptID(ctx context.Context, scriptID string) (*models.ScriptConfig, error)
}

// Registry resolves script configurations with tenant scoping.
type Registry struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a registry over store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the tenant's configuration for scriptID. A script owned by
// another tenant is reported exactly like a missing one.
func (r *Registry) Resolve(ctx context.Context, tenantID id.TenantID, scriptID string) (*models.ScriptConfig, error) {
	scriptID = strings.TrimSpace(scriptID)
	if scriptID == "" {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "script_id", "script_id is required")
	}
	cfg, err := r.find(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if cfg.TenantID != tenantID {
		return nil, dErrors.New(dErrors.CodeNotFound, "script configuration not found")
	}
	return cfg, nil
}

// GetPublished returns the widget-facing configuration of an active,
// published script.
func (r *Registry) GetPublished(ctx context.Context, scriptID string) (*models.PublicConfig, error) {
	scriptID = strings.TrimSpace(scriptID)
	if scriptID == "" {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "script_id", "script_id is required")
	}
	cfg, err := r.find(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if !cfg.Public() {
		return nil, dErrors.New(dErrors.CodeNotFound, "script configuration not found or not published")
	}
	return cfg.ToPublic(), nil
}

func (r *Registry) find(ctx context.Context, scriptID string) (*models.ScriptConfig, error) {
	cfg, err := r.store.FindByScriptID(ctx, scriptID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "script configuration not found")
		}
		r.logger.ErrorContext(ctx, "script config lookup failed", "script_id", scriptID, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "script configuration unavailable")
	}
	return cfg, nil
}
