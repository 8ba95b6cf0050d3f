package http

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	wsAdapter "github.com/lorrc/follow-notifier/internal/adapters/primary/websocket"
	"github.com/lorrc/follow-notifier/internal/config"
)

// WebSocketHandler handles WebSocket connection upgrades for overlay clients.
type WebSocketHandler struct {
	hub      *wsAdapter.Hub
	alerts   wsAdapter.TestTrigger
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler. The server binds to
// loopback and the overlay is captured by broadcast software that sends no
// Origin header, so all origins are accepted.
func NewWebSocketHandler(
	hub *wsAdapter.Hub,
	alerts wsAdapter.TestTrigger,
	cfg *config.Config,
	logger *slog.Logger,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub:    hub,
		alerts: alerts,
		logger: logger,
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return handler
}

// ServeHTTP handles WebSocket connection requests
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection",
			"request_id", requestID,
			"error", err,
		)
		return
	}

	clientID := uuid.NewString()
	h.logger.Info("websocket connection established",
		"request_id", requestID,
		"client_id", clientID,
		"remote_addr", r.RemoteAddr,
	)

	client := wsAdapter.NewClient(h.hub, conn, clientID, h.alerts, h.logger)
	client.Hub.Register <- client

	// Start the I/O pumps in new goroutines
	go client.WritePump()
	go client.ReadPump()
}
