package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cookieconsent/internal/consent/models"
	id "cookieconsent/pkg/domain"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/platform/httputil"
	"cookieconsent/pkg/platform/middleware/auth"
	"cookieconsent/pkg/platform/middleware/metadata"
	"cookieconsent/pkg/platform/middleware/requesttime"
	"cookieconsent/pkg/requestcontext"
)

// Service defines the interface for consent operations.
type Service interface {
	Check(ctx context.Context, tenant *id.TenantIdentity, sessionID, scriptID string) (*models.ConsentStatus, error)
	Create(ctx context.Context, tenant *id.TenantIdentity, req *models.CreateConsentRequest) (*models.ConsentReceipt, error)
	Update(ctx context.Context, tenant *id.TenantIdentity, consentID string, req *models.UpdateConsentRequest) (*models.ConsentReceipt, error)
	Revoke(ctx context.Context, tenant *id.TenantIdentity, consentID string, req *models.RevokeConsentRequest) (*models.ConsentReceipt, error)
	ListHistory(ctx context.Context, tenant *id.TenantIdentity, consentID string) ([]*models.HistoryEntry, error)
	ListSessionHistory(ctx context.Context, tenant *id.TenantIdentity, sessionID string) ([]*models.HistoryEntry, error)
}

// Handler handles consent endpoints.
type Handler struct {
	logger  *slog.Logger
	consent Service
	authn   auth.Authenticator
	ips     *metadata.Resolver
}

type Option func(*Handler)

// WithClientIPResolver sets how the visitor IP is derived when the request
// body omits it. By default the socket peer is used.
func WithClientIPResolver(res *metadata.Resolver) Option {
	return func(h *Handler) {
		if res != nil {
			h.ips = res
		}
	}
}

// New creates a new consent Handler.
func New(consent Service, authn auth.Authenticator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:  logger,
		consent: consent,
		authn:   authn,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.ips == nil {
		h.ips, _ = metadata.NewResolver(nil)
	}
	return h
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1/consent", func(r chi.Router) {
		r.Use(requesttime.Middleware)
		r.Use(h.ips.Middleware)
		r.Use(auth.RequireAPIKey(h.authn, h.logger))

		r.Get("/check", h.handleCheck)
		r.Post("/create", h.handleCreate)
		r.Get("/history", h.handleSessionHistory)
		r.Put("/{consent_id}", h.handleUpdate)
		r.Post("/{consent_id}/revoke", h.handleRevoke)
		r.Get("/{consent_id}/history", h.handleHistory)
	})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	status, err := h.consent.Check(ctx, requestcontext.Tenant(ctx), q.Get("session_id"), q.Get("script_id"))
	if err != nil {
		h.fail(ctx, w, "failed to check consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CreateConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, "invalid create consent request", err)
		return
	}
	if req.ScriptID == "" {
		req.ScriptID = r.URL.Query().Get("script_id")
	}

	receipt, err := h.consent.Create(ctx, requestcontext.Tenant(ctx), &req)
	if err != nil {
		h.fail(ctx, w, "failed to create consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.UpdateConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, "invalid update consent request", err)
		return
	}

	receipt, err := h.consent.Update(ctx, requestcontext.Tenant(ctx), chi.URLParam(r, "consent_id"), &req)
	if err != nil {
		h.fail(ctx, w, "failed to update consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The body is optional for revocation.
	var req models.RevokeConsentRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			h.fail(ctx, w, "invalid revoke consent request", err)
			return
		}
	}

	receipt, err := h.consent.Revoke(ctx, requestcontext.Tenant(ctx), chi.URLParam(r, "consent_id"), &req)
	if err != nil {
		h.fail(ctx, w, "failed to revoke consent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries, err := h.consent.ListHistory(ctx, requestcontext.Tenant(ctx), chi.URLParam(r, "consent_id"))
	if err != nil {
		h.fail(ctx, w, "failed to list consent history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToHistoryResponse(entries))
}

func (h *Handler) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entries, err := h.consent.ListSessionHistory(ctx, requestcontext.Tenant(ctx), r.URL.Query().Get("session_id"))
	if err != nil {
		h.fail(ctx, w, "failed to list session history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToHistoryResponse(entries))
}

// fail logs client errors at warn and everything else at error, then writes
// the error envelope.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeNotFound, dErrors.CodeUnauthorized:
		h.logger.WarnContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	default:
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
