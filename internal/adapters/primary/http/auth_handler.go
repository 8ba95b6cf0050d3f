package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorrc/follow-notifier/internal/auth"
	apperrors "github.com/lorrc/follow-notifier/internal/core/errors"
)

// AuthHandler receives the cookie hand-off from the companion browser
// extension. The login flow itself lives outside this process; this endpoint
// only accepts the captured cookie pair.
type AuthHandler struct {
	sessions     *auth.SessionStore
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewAuthHandler creates an auth handler
func NewAuthHandler(sessions *auth.SessionStore, errorHandler *ErrorHandler, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// RegisterRoutes sets up the routing for the auth endpoints.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/cookies", h.HandleCookies)
}

// cookieRequest is the hand-off body posted by the extension.
type cookieRequest struct {
	NidAut string `json:"nidAut"`
	NidSes string `json:"nidSes"`
}

// HandleCookies stores a fresh credential session.
func (h *AuthHandler) HandleCookies(w http.ResponseWriter, r *http.Request) {
	var req cookieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Invalid request body"))
		return
	}

	creds := auth.Credentials{NidAut: req.NidAut, NidSes: req.NidSes}
	if err := h.sessions.Set(creds); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Both session cookies are required"))
		return
	}

	h.logger.Info("received session cookies from extension",
		"request_id", GetRequestID(r.Context()),
	)
	WriteSuccess(w, nil)
}
