// Package service authenticates API keys and issues new ones.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cookieconsent/internal/tenant/metrics"
	"cookieconsent/internal/tenant/models"
	"cookieconsent/internal/tenant/secrets"
	id "cookieconsent/pkg/domain"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/platform/sentinel"
	"cookieconsent/pkg/requestcontext"
)

const maxCustomerNameLength = 255

// KeyStore persists API keys.
type KeyStore interface {
	Create(ctx context.Context, key *models.APIKey) error
	FindByKeyID(ctx context.Context, keyID string) (*models.APIKey, error)
}

// Service resolves API keys into tenant identities.
type Service struct {
	keys     KeyStore
	digester *secrets.Digester
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates the tenant service.
func New(keys KeyStore, digester *secrets.Digester, opts ...Option) *Service {
	s := &Service{keys: keys, digester: digester, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// errUnauthorized is deliberately identical for every failure so callers
// cannot probe which keys exist.
func errUnauthorized() error {
	return dErrors.New(dErrors.CodeUnauthorized, "invalid or missing API key")
}

// Authenticate resolves a raw API key. Missing, malformed, unknown, inactive
// and expired keys all return the same unauthorized error.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*id.TenantIdentity, error) {
	start := time.Now()
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		s.metrics.ObserveAuth("missing", start)
		return nil, errUnauthorized()
	}
	keyID, err := secrets.ParseAPIKey(rawKey)
	if err != nil {
		s.metrics.ObserveAuth("malformed", start)
		return nil, errUnauthorized()
	}

	key, err := s.keys.FindByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.ObserveAuth("unknown", start)
			return nil, errUnauthorized()
		}
		s.metrics.ObserveAuth("error", start)
		s.logger.ErrorContext(ctx, "api key lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "authentication unavailable")
	}

	if err := s.digester.Verify(rawKey, key.KeyDigest); err != nil {
		s.metrics.ObserveAuth("mismatch", start)
		return nil, errUnauthorized()
	}
	if !key.IsUsable(requestcontext.Now(ctx)) {
		s.metrics.ObserveAuth("inactive", start)
		s.logger.InfoContext(ctx, "inactive or expired api key used",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", key.TenantID.String(),
		)
		return nil, errUnauthorized()
	}

	s.metrics.ObserveAuth("ok", start)
	return key.Identity(), nil
}

// IssueRequest describes a new tenant credential.
type IssueRequest struct {
	CustomerName  string
	CustomerEmail string
	ExpiresAt     *time.Time
	// RawKey registers an externally provisioned key instead of minting one.
	RawKey string
}

// Issue creates a tenant API key and returns the raw key, which is not
// recoverable afterwards.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (string, *models.APIKey, error) {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return "", nil, dErrors.NewField(dErrors.CodeInvalidInput, "customer_name", "customer_name is required")
	}
	if len(name) > maxCustomerNameLength {
		return "", nil, dErrors.NewField(dErrors.CodeInvalidInput, "customer_name", "customer_name is too long")
	}

	raw := req.RawKey
	var keyID string
	var err error
	if raw == "" {
		raw, keyID, err = secrets.NewAPIKey()
		if err != nil {
			return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate API key")
		}
	} else if keyID, err = secrets.ParseAPIKey(raw); err != nil {
		return "", nil, dErrors.NewField(dErrors.CodeInvalidInput, "api_key", "API key must have the form ck.<id>.<secret>")
	}

	digest, err := s.digester.Digest(raw)
	if err != nil {
		return "", nil, err
	}
	key := &models.APIKey{
		TenantID:      id.TenantID(uuid.New()),
		KeyID:         keyID,
		KeyDigest:     digest,
		CustomerName:  name,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		IsActive:      true,
		CreatedAt:     requestcontext.Now(ctx),
		ExpiresAt:     req.ExpiresAt,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return "", nil, dErrors.New(dErrors.CodeConflict, "API key already registered")
		}
		return "", nil, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "failed to store API key")
	}
	s.metrics.IncrementKeysIssued()
	s.logger.InfoContext(ctx, "api key issued",
		"tenant_id", key.TenantID.String(),
		"customer_name", key.CustomerName,
	)
	return raw, key, nil
}
