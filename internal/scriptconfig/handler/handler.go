package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cookieconsent/internal/scriptconfig/models"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/platform/httputil"
	"cookieconsent/pkg/requestcontext"
)

// Service serves published script configurations.
type Service interface {
	GetPublished(ctx context.Context, scriptID string) (*models.PublicConfig, error)
}

// Handler exposes the public widget configuration endpoint.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a script configuration Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the unauthenticated configuration route.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/config/{script_id}", h.handleGetConfig)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scriptID := chi.URLParam(r, "script_id")

	cfg, err := h.service.GetPublished(ctx, scriptID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) && !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			h.logger.ErrorContext(ctx, "failed to load script config",
				"request_id", requestcontext.RequestID(ctx),
				"script_id", scriptID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	httputil.WriteJSON(w, http.StatusOK, cfg)
}
