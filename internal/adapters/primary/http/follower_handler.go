package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lorrc/follow-notifier/internal/core/domain"
	"github.com/lorrc/follow-notifier/internal/core/ports"
)

const (
	defaultRecentWindow = time.Hour
	defaultRecentLimit  = 50
	maxRecentLimit      = 200
)

// FollowerHandler serves the combined follower view consumed by
// polling-fallback overlays, the synthetic test trigger, and the
// notification history.
type FollowerHandler struct {
	alerts       ports.FollowerService
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewFollowerHandler creates a follower handler
func NewFollowerHandler(alerts ports.FollowerService, errorHandler *ErrorHandler, logger *slog.Logger) *FollowerHandler {
	return &FollowerHandler{
		alerts:       alerts,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// RegisterRoutes sets up the routing for the follower endpoints using chi.Router.
func (h *FollowerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/followers", h.HandleList)
	r.Get("/followers/recent", h.HandleRecent)
	r.Post("/test-follower", h.HandleTestFollower)
}

// HandleList returns the combined, time-bounded follower view: pending test
// events, freshly detected followers, then the remainder of the latest
// upstream snapshot.
func (h *FollowerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteList(w, h.alerts.Combined())
}

// HandleTestFollower enqueues one synthetic follower event with a short TTL.
func (h *FollowerHandler) HandleTestFollower(w http.ResponseWriter, r *http.Request) {
	e := h.alerts.TriggerTest()

	h.logger.Info("test follower triggered",
		"event_id", e.ID,
		"request_id", GetRequestID(r.Context()),
	)

	WriteJSON(w, http.StatusAccepted, SuccessResponse{
		Data:    e,
		Message: "Test follower added to queue",
	})
}

// HandleRecent lists previously delivered follower events from the history
// store. Accepts ?window=30m and ?limit=N.
func (h *FollowerHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	window := defaultRecentWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			WriteJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "window must be a positive duration such as 30m",
				Code:  "BAD_REQUEST",
			})
			return
		}
		window = parsed
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			WriteJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "BAD_REQUEST",
			})
			return
		}
		limit = min(parsed, maxRecentLimit)
	}

	events, err := h.alerts.Recent(r.Context(), time.Now().Add(-window), limit)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if events == nil {
		events = []domain.FollowerEvent{}
	}
	WriteList(w, events)
}
