package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookieconsent/internal/consent/models"
	"cookieconsent/internal/webhook"
	id "cookieconsent/pkg/domain"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/platform/sentinel"
	"cookieconsent/pkg/requestcontext"
)

// Check reports whether the session currently has effective consent. It reads
// the most recently created active consent for the tenant's session (and
// script, when given) and re-derives effectiveness from the request clock.
func (s *Service) Check(ctx context.Context, tenant *id.TenantIdentity, sessionID, scriptID string) (status *models.ConsentStatus, err error) {
	ctx, span := s.tracer.Start(ctx, "consent.Check")
	start := time.Now()
	defer func() { s.finish(span, "check", start, err) }()

	now := requestcontext.Now(ctx)
	if err = authorize(tenant, now); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	scriptID = strings.TrimSpace(scriptID)
	if sessionID == "" {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "session_id", "session_id is required")
	}

	consent, findErr := s.consents.FindLatestActive(ctx, tenant.ID, sessionID, scriptID)
	if findErr != nil && !errors.Is(findErr, sentinel.ErrNotFound) {
		return nil, storageError(findErr, "failed to check consent")
	}
	if findErr != nil || consent.TenantID != tenant.ID || !consent.IsEffectivelyActive(now) {
		s.metrics.IncrementCheck(false)
		return &models.ConsentStatus{HasConsent: false}, nil
	}

	s.metrics.IncrementCheck(true)
	categories := consent.Categories
	if categories == nil {
		categories = models.Categories{}
	}
	lastUpdated := consent.UpdatedAt
	return &models.ConsentStatus{
		HasConsent:  true,
		ConsentID:   consent.ID.String(),
		Categories:  categories,
		LastUpdated: &lastUpdated,
	}, nil
}

// Create records a new consent decision and its "created" history entry in
// one transaction, then notifies the script's webhook.
func (s *Service) Create(ctx context.Context, tenant *id.TenantIdentity, req *models.CreateConsentRequest) (receipt *models.ConsentReceipt, err error) {
	ctx, span := s.tracer.Start(ctx, "consent.Create")
	start := time.Now()
	defer func() { s.finish(span, "create", start, err) }()

	now := requestcontext.Now(ctx)
	if err = authorize(tenant, now); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	req.Normalize()
	if err = req.Validate(); err != nil {
		return nil, err
	}

	webhookURL := s.webhookURL(ctx, tenant.ID, req.ScriptID)

	ip := req.IPAddress
	if ip == "" {
		ip = observedIP(ctx)
	}
	expiresAt := now.Add(s.consentTTL)
	consent := &models.Consent{
		ID:         id.NewConsentID(),
		TenantID:   tenant.ID,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		ScriptID:   req.ScriptID,
		Categories: req.Categories.Clone(),
		IPAddress:  ip,
		UserAgent:  req.UserAgent,
		Status:     models.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  &expiresAt,
	}
	span.SetAttributes(attribute.String("consent.id", consent.ID.String()))
	entry := newHistoryEntry(ctx, consent, actionOr(req.Action, models.ActionCreated), nil, now)

	txCtx := WithShardKey(ctx, tenant.ID.String()+":"+consent.SessionID)
	if txErr := s.tx.RunInTx(txCtx, func(ctx context.Context, st Stores) error {
		if err := st.Consents.Create(ctx, consent); err != nil {
			return err
		}
		return st.History.Append(ctx, entry)
	}); txErr != nil {
		s.logger.ErrorContext(ctx, "failed to record consent",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", tenant.ID.String(),
			"error", txErr,
		)
		return nil, storageError(txErr, "failed to record consent")
	}

	s.logger.InfoContext(ctx, "consent created",
		"request_id", requestcontext.RequestID(ctx),
		"tenant_id", tenant.ID.String(),
		"consent_id", consent.ID.String(),
		"action", entry.Action,
	)
	s.afterCommit(ctx, consent, entry, models.ActionCreated, webhookURL)
	return newReceipt(consent, consent.CreatedAt), nil
}

// Update replaces the categories of an existing consent. Identity fields are
// preserved; IP address and user agent change only when supplied. Concurrent
// updates are last-writer-wins and each appends its own history entry.
func (s *Service) Update(ctx context.Context, tenant *id.TenantIdentity, rawConsentID string, req *models.UpdateConsentRequest) (receipt *models.ConsentReceipt, err error) {
	ctx, span := s.tracer.Start(ctx, "consent.Update")
	start := time.Now()
	defer func() { s.finish(span, "update", start, err) }()

	now := requestcontext.Now(ctx)
	if err = authorize(tenant, now); err != nil {
		return nil, err
	}
	consentID, err := id.ParseConsentID(rawConsentID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	req.Normalize()
	if err = req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("consent.id", consentID.String()))

	updated, entry, err := s.mutate(ctx, tenant, consentID, func(c *models.Consent) (string, models.Categories) {
		previous := c.Categories.Clone()
		c.Categories = req.Categories.Clone()
		if req.IPAddress != "" {
			c.IPAddress = req.IPAddress
		}
		if req.UserAgent != "" {
			c.UserAgent = req.UserAgent
		}
		c.UpdatedAt = now
		return actionOr(req.Action, models.ActionUpdated), previous
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "consent updated",
		"request_id", requestcontext.RequestID(ctx),
		"tenant_id", tenant.ID.String(),
		"consent_id", updated.ID.String(),
		"action", entry.Action,
	)
	s.afterCommit(ctx, updated, entry, models.ActionUpdated, s.webhookURL(ctx, tenant.ID, updated.ScriptID))
	return newReceipt(updated, updated.UpdatedAt), nil
}

// Revoke withdraws a consent. Categories are kept for the record; the consent
// stops being effective immediately.
func (s *Service) Revoke(ctx context.Context, tenant *id.TenantIdentity, rawConsentID string, req *models.RevokeConsentRequest) (receipt *models.ConsentReceipt, err error) {
	ctx, span := s.tracer.Start(ctx, "consent.Revoke")
	start := time.Now()
	defer func() { s.finish(span, "revoke", start, err) }()

	now := requestcontext.Now(ctx)
	if err = authorize(tenant, now); err != nil {
		return nil, err
	}
	consentID, err := id.ParseConsentID(rawConsentID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &models.RevokeConsentRequest{}
	}
	req.Normalize()
	if err = req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("consent.id", consentID.String()))

	revoked, entry, err := s.mutate(ctx, tenant, consentID, func(c *models.Consent) (string, models.Categories) {
		if req.IPAddress != "" {
			c.IPAddress = req.IPAddress
		}
		if req.UserAgent != "" {
			c.UserAgent = req.UserAgent
		}
		c.Status = models.StatusRevoked
		revokedAt := now
		c.RevokedAt = &revokedAt
		c.UpdatedAt = now
		return actionOr(req.Action, models.ActionRevoked), c.Categories.Clone()
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "consent revoked",
		"request_id", requestcontext.RequestID(ctx),
		"tenant_id", tenant.ID.String(),
		"consent_id", revoked.ID.String(),
	)
	s.afterCommit(ctx, revoked, entry, models.ActionRevoked, s.webhookURL(ctx, tenant.ID, revoked.ScriptID))
	return newReceipt(revoked, revoked.UpdatedAt), nil
}

// mutate loads the tenant's consent, applies change, and writes the consent
// together with a history entry. change returns the history action and the
// previous categories.
func (s *Service) mutate(
	ctx context.Context,
	tenant *id.TenantIdentity,
	consentID id.ConsentID,
	change func(c *models.Consent) (action string, previous models.Categories),
) (*models.Consent, *models.HistoryEntry, error) {
	var (
		result *models.Consent
		entry  *models.HistoryEntry
	)
	txErr := s.tx.RunInTx(WithShardKey(ctx, consentID.String()), func(ctx context.Context, st Stores) error {
		existing, err := st.Consents.FindByID(ctx, tenant.ID, consentID)
		if err != nil {
			return err
		}
		if existing.TenantID != tenant.ID {
			return sentinel.ErrNotFound
		}
		action, previous := change(existing)
		if err := st.Consents.Update(ctx, existing); err != nil {
			return err
		}
		e := newHistoryEntry(ctx, existing, action, previous, existing.UpdatedAt)
		if err := st.History.Append(ctx, e); err != nil {
			return err
		}
		result, entry = existing, e
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to modify consent",
				"request_id", requestcontext.RequestID(ctx),
				"tenant_id", tenant.ID.String(),
				"consent_id", consentID.String(),
				"error", txErr,
			)
		}
		return nil, nil, storageError(txErr, "failed to modify consent")
	}
	return result, entry, nil
}

// webhookURL resolves the script's webhook. Any lookup failure only disables
// notification.
func (s *Service) webhookURL(ctx context.Context, tenantID id.TenantID, scriptID string) string {
	if scriptID == "" || s.scripts == nil {
		return ""
	}
	cfg, err := s.scripts.Resolve(ctx, tenantID, scriptID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.logger.WarnContext(ctx, "script config lookup failed, webhook disabled",
				"request_id", requestcontext.RequestID(ctx),
				"script_id", scriptID,
				"error", err,
			)
		}
		return ""
	}
	return cfg.WebhookURL
}

func (s *Service) afterCommit(ctx context.Context, c *models.Consent, entry *models.HistoryEntry, event, webhookURL string) {
	if s.events != nil {
		s.events.Publish(ctx, entry)
	}
	if webhookURL == "" || s.notifier == nil {
		return
	}
	s.notifier.Enqueue(webhook.Delivery{
		URL:       webhookURL,
		Event:     event,
		Payload:   models.NewConsentEvent(c, event),
		RequestID: requestcontext.RequestID(ctx),
	})
}

func (s *Service) finish(span trace.Span, operation string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
	s.metrics.ObserveOperation(operation, outcome(err), start)
}

func newReceipt(c *models.Consent, timestamp time.Time) *models.ConsentReceipt {
	var expires *time.Time
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		expires = &t
	}
	return &models.ConsentReceipt{
		ConsentID: c.ID.String(),
		Status:    c.Status,
		Timestamp: timestamp,
		ExpiresAt: expires,
	}
}

func actionOr(action, fallback string) string {
	if action == "" {
		return fallback
	}
	return action
}

// observedIP returns the caller address seen by the transport, or "" when it
// is not a parseable IP.
func observedIP(ctx context.Context) string {
	ip := requestcontext.ClientIP(ctx)
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
