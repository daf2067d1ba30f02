package service

import (
	"context"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel/attribute"

	"cookieconsent/internal/consent/models"
	id "cookieconsent/pkg/domain"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/requestcontext"
)

// ListHistory returns the audit trail of one consent, oldest first.
func (s *Service) ListHistory(ctx context.Context, tenant *id.TenantIdentity, rawConsentID string) (entries []*models.HistoryEntry, err error) {
	ctx, span := s.tracer.Start(ctx, "consent.ListHistory")
	start := time.Now()
	defer func() { s.finish(span, "history", start, err) }()

	if err = authorize(tenant, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	consentID, err := id.ParseConsentID(rawConsentID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("consent.id", consentID.String()))

	// Existence check keeps an unknown or foreign consent a 404 instead of an
	// empty list.
	if _, findErr := s.consents.FindByID(ctx, tenant.ID, consentID); findErr != nil {
		return nil, storageError(findErr, "failed to load consent")
	}
	entries, err = s.history.ListByConsent(ctx, tenant.ID, consentID)
	if err != nil {
		return nil, storageError(err, "failed to load consent history")
	}
	return entries, nil
}

// ListSessionHistory returns every history entry recorded for a session across
// all of its consents, oldest first.
func (s *Service) ListSessionHistory(ctx context.Context, tenant *id.TenantIdentity, sessionID string) (entries []*models.HistoryEntry, err error) {
	ctx, span := s.tracer.Start(ctx, "consent.ListSessionHistory")
	start := time.Now()
	defer func() { s.finish(span, "session_history", start, err) }()

	if err = authorize(tenant, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "session_id", "session_id is required")
	}
	entries, err = s.history.ListBySession(ctx, tenant.ID, sessionID)
	if err != nil {
		return nil, storageError(err, "failed to load session history")
	}
	return entries, nil
}

func newHistoryEntry(ctx context.Context, c *models.Consent, action string, previous models.Categories, at time.Time) *models.HistoryEntry {
	return &models.HistoryEntry{
		ID:                 id.NewHistoryEntryID(),
		ConsentID:          c.ID,
		TenantID:           c.TenantID,
		SessionID:          c.SessionID,
		Action:             action,
		PreviousCategories: previous,
		NewCategories:      c.Categories.Clone(),
		IPAddress:          c.IPAddress,
		UserAgent:          c.UserAgent,
		Metadata:           requestMetadata(ctx, c.UserAgent, at),
		Timestamp:          at,
	}
}

// requestMetadata captures the browser context of a mutation. Missing headers
// are recorded as null. The user agent is parsed into browser and platform
// fields when one is known.
func requestMetadata(ctx context.Context, userAgent string, at time.Time) map[string]any {
	md := map[string]any{
		"referer":         optional(requestcontext.Referer(ctx)),
		"accept_language": optional(requestcontext.AcceptLanguage(ctx)),
		"timestamp":       at.UTC().Format(time.RFC3339Nano),
	}
	if userAgent == "" {
		userAgent = requestcontext.UserAgent(ctx)
	}
	if userAgent == "" {
		return md
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	md["browser"] = strings.TrimSpace(name + " " + version)
	md["os"] = ua.OS()
	md["mobile"] = ua.Mobile()
	md["bot"] = ua.Bot()
	return md
}

func optional(v string) any {
	if v == "" {
		return nil
	}
	return v
}
