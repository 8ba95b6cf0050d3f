package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lorrc/follow-notifier/internal/core/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// TestTrigger lets a connected client request a synthetic follower event,
// mirroring POST /test-follower.
type TestTrigger interface {
	TriggerTest() domain.FollowerEvent
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan domain.Message

	// ID identifies this connection in logs.
	ID string

	// alerts handles test_follower requests from this client.
	alerts TestTrigger

	// closeOnce ensures the Send channel is only closed once
	closeOnce sync.Once

	// mu protects the subscriptions map
	mu            sync.RWMutex
	subscriptions map[string]bool

	logger *slog.Logger
}

// NewClient creates a new WebSocket client. Every connection starts
// subscribed to the followers topic; a subscribe message replaces the set.
func NewClient(hub *Hub, conn *websocket.Conn, id string, alerts TestTrigger, logger *slog.Logger) *Client {
	return &Client{
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan domain.Message, 256),
		ID:            id,
		alerts:        alerts,
		subscriptions: map[string]bool{domain.TopicFollowers: true},
		logger:        logger.With("client_id", id),
	}
}

// CloseSend safely closes the Send channel exactly once
func (c *Client) CloseSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// Subscribed checks whether the client subscribed to a topic
func (c *Client) Subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[topic]
}

func (c *Client) setSubscriptions(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions = make(map[string]bool, len(topics))
	for _, topic := range topics {
		c.subscriptions[topic] = true
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		c.handleIncomingMessage(message)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the channel. Send close message.
				if err := c.Conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.writeJSON(msg); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// writeJSON writes a JSON message to the websocket connection
func (c *Client) writeJSON(msg domain.Message) error {
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(msg); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

// --- Incoming Message Handling ---

// handleIncomingMessage processes protocol frames received from the client.
// A malformed frame is logged and dropped; the connection stays alive.
func (c *Client) handleIncomingMessage(message []byte) {
	var msg domain.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to unmarshal client message", "error", err)
		c.reply(domain.ErrorMessage("malformed message"))
		return
	}

	switch msg.Type {
	case domain.MessageSubscribe:
		c.setSubscriptions(msg.Topics)
		c.logger.Debug("client updated subscriptions", "topics", msg.Topics)

	case domain.MessagePing:
		// Application-level keep-alive; the pong round trip feeds the
		// client's latency metric.
		c.reply(domain.Message{Type: domain.MessagePong})

	case domain.MessageTestFollower:
		if c.alerts == nil {
			c.reply(domain.ErrorMessage("test events are not available"))
			return
		}
		e := c.alerts.TriggerTest()
		c.logger.Info("test follower requested", "event_id", e.ID)

	default:
		c.logger.Debug("received unknown message type", "type", msg.Type)
	}
}

func (c *Client) reply(msg domain.Message) {
	select {
	case c.Send <- msg:
	default:
		// Channel full, skip the reply
	}
}
