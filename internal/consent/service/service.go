// Package service is the consent lifecycle manager: it records, checks,
// updates and revokes consent decisions, keeps the history log in step with
// every mutation, and hands committed changes to the webhook notifier and the
// event stream.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"cookieconsent/internal/consent/metrics"
	"cookieconsent/internal/consent/models"
	scriptmodels "cookieconsent/internal/scriptconfig/models"
	"cookieconsent/internal/webhook"
	id "cookieconsent/pkg/domain"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/platform/sentinel"
)

// DefaultConsentTTL is how long a consent stays effective after creation.
const DefaultConsentTTL = 365 * 24 * time.Hour

// ConsentStore persists consents. Every lookup is tenant scoped.
type ConsentStore interface {
	Create(ctx context.Context, consent *models.Consent) error
	Update(ctx context.Context, consent *models.Consent) error
	FindByID(ctx context.Context, tenantID id.TenantID, consentID id.ConsentID) (*models.Consent, error)
	FindLatestActive(ctx context.Context, tenantID id.TenantID, sessionID, scriptID string) (*models.Consent, error)
}

// HistoryStore is the append-only audit log. It has no update or delete.
type HistoryStore interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	ListByConsent(ctx context.Context, tenantID id.TenantID, consentID id.ConsentID) ([]*models.HistoryEntry, error)
	ListBySession(ctx context.Context, tenantID id.TenantID, sessionID string) ([]*models.HistoryEntry, error)
}

// ScriptResolver looks up the tenant's script configuration.
type ScriptResolver interface {
	Resolve(ctx context.Context, tenantID id.TenantID, scriptID string) (*scriptmodels.ScriptConfig, error)
}

// Notifier schedules a webhook delivery without blocking.
type Notifier interface {
	Enqueue(delivery webhook.Delivery) bool
}

// EventPublisher streams committed history entries to downstream consumers.
// Implementations must not block the caller on broker round trips.
type EventPublisher interface {
	Publish(ctx context.Context, entry *models.HistoryEntry)
}

// Service orchestrates the consent lifecycle.
type Service struct {
	consents   ConsentStore
	history    HistoryStore
	tx         ConsentStoreTx
	scripts    ScriptResolver
	notifier   Notifier
	events     EventPublisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	consentTTL time.Duration
}

type Option func(*Service)

// WithTx replaces the default in-memory transaction with a database-backed one.
func WithTx(tx ConsentStoreTx) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

func WithScriptResolver(r ScriptResolver) Option {
	return func(s *Service) {
		s.scripts = r
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

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

// WithConsentTTL overrides the default 365 day consent lifetime.
func WithConsentTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.consentTTL = ttl
		}
	}
}

// New creates the consent lifecycle manager.
func New(consents ConsentStore, history HistoryStore, opts ...Option) *Service {
	s := &Service{
		consents:   consents,
		history:    history,
		logger:     slog.Default(),
		tracer:     otel.Tracer("cookieconsent/internal/consent/service"),
		consentTTL: DefaultConsentTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = newShardedConsentTx(Stores{Consents: consents, History: history})
	}
	return s
}

func authorize(tenant *id.TenantIdentity, now time.Time) error {
	if !tenant.Valid(now) {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid or missing API key")
	}
	return nil
}

func notFound() error {
	return dErrors.New(dErrors.CodeNotFound, "consent not found")
}

// storageError translates store and transaction failures. Domain errors pass
// through; not-found stays indistinguishable across tenants.
func storageError(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return notFound()
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, msg)
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(dErrors.CodeOf(err))
}
