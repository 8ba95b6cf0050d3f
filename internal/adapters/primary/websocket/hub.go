package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lorrc/follow-notifier/internal/core/domain"
	"github.com/lorrc/follow-notifier/internal/core/ports"
)

// Hub maintains the set of active overlay clients and broadcasts protocol
// messages to them. Follower events go only to clients subscribed to the
// followers topic; everything else goes to every client.
type Hub struct {
	clients map[*Client]bool

	broadcast chan domain.Message

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// mu protects the clients map
	mu sync.RWMutex

	logger *slog.Logger
}

// Ensure Hub implements the EventBroadcaster interface.
var _ ports.EventBroadcaster = (*Hub)(nil)

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan domain.Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger.With("component", "websocket_hub"),
	}
}

// Broadcast sends a message to the hub's internal broadcast channel.
// This method implements the ports.EventBroadcaster interface.
func (h *Hub) Broadcast(msg domain.Message) error {
	select {
	case h.broadcast <- msg:
		return nil
	default:
		h.logger.Warn("broadcast channel full, dropping message",
			"message_type", msg.Type,
		)
		return nil
	}
}

// Run starts the hub's event loop. This MUST be run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	h.logger.Info("client registered",
		"client_id", client.ID,
		"total_connections", len(h.clients),
	)
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.CloseSend()
	}

	h.logger.Info("client unregistered",
		"client_id", client.ID,
		"total_connections", len(h.clients),
	)
}

// broadcastMessage fans a message out to all eligible clients
func (h *Hub) broadcastMessage(msg domain.Message) {
	h.mu.RLock()
	// Copy the client list to avoid holding the lock while sending
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.Type == domain.MessageNewFollower && !client.Subscribed(domain.TopicFollowers) {
			continue
		}
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	h.logger.Debug("broadcasting message",
		"message_type", msg.Type,
		"client_count", len(clients),
	)

	for _, client := range clients {
		select {
		case client.Send <- msg:
			// Successfully queued
		default:
			// Client's send buffer is full, unregister them
			h.logger.Warn("client send buffer full, unregistering",
				"client_id", client.ID,
			)
			go func(c *Client) { h.Unregister <- c }(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.CloseSend()
		delete(h.clients, client)
	}
	h.logger.Info("hub stopped, all clients closed")
}

// ClientCount returns the total number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
