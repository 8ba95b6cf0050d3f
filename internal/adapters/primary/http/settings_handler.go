package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/lorrc/follow-notifier/internal/core/errors"
	"github.com/lorrc/follow-notifier/internal/settings"
)

// SettingsHandler serves the overlay settings document. Saving goes through
// the settings store; connected overlays learn about the change via the
// store's file watcher, which broadcasts settings_updated.
type SettingsHandler struct {
	store        *settings.Store
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewSettingsHandler creates a settings handler
func NewSettingsHandler(store *settings.Store, errorHandler *ErrorHandler, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:        store,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// RegisterRoutes sets up the routing for the settings endpoints.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/settings", h.HandleGet)
	r.Post("/settings", h.HandleSave)
}

// HandleGet returns the current settings document, defaults included.
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Load()
	if err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewInternalError(err))
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

// HandleSave replaces the settings document.
func (h *SettingsHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var cfg settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Invalid settings document"))
		return
	}

	if cfg.Volume < 0 || cfg.Volume > 1 {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(apperrors.ErrBadRequest, "volume must be between 0 and 1"))
		return
	}

	if err := h.store.Save(cfg); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewInternalError(err))
		return
	}

	h.logger.Info("settings saved", "request_id", GetRequestID(r.Context()))
	WriteSuccess(w, cfg)
}
