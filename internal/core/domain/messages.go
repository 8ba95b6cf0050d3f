package domain

import "encoding/json"

// MessageType tags a frame on the event-stream transport.
type MessageType string

const (
	// Client → server.
	MessageSubscribe    MessageType = "subscribe"
	MessagePing         MessageType = "ping"
	MessageTestFollower MessageType = "test_follower"

	// Server → client.
	MessageNewFollower     MessageType = "new_follower"
	MessagePong            MessageType = "pong"
	MessageSettingsUpdated MessageType = "settings_updated"
	MessageError           MessageType = "error"
)

// TopicFollowers is the subscription topic carrying follower events.
const TopicFollowers = "followers"

// Message is the JSON frame exchanged over the WebSocket transport. Exactly
// one payload field is populated, selected by Type.
type Message struct {
	Type     MessageType     `json:"type"`
	Follower *FollowerEvent  `json:"follower,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
	Topics   []string        `json:"topics,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// NewFollowerMessage frames a follower event for delivery.
func NewFollowerMessage(e FollowerEvent) Message {
	return Message{Type: MessageNewFollower, Follower: &e}
}

// SettingsUpdatedMessage frames a settings document change.
func SettingsUpdatedMessage(settings json.RawMessage) Message {
	return Message{Type: MessageSettingsUpdated, Settings: settings}
}

// ErrorMessage frames a server-side error for the client.
func ErrorMessage(msg string) Message {
	return Message{Type: MessageError, Message: msg}
}

// SubscribeMessage frames a topic subscription request.
func SubscribeMessage(topics ...string) Message {
	return Message{Type: MessageSubscribe, Topics: topics}
}
