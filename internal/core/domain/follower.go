package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventSource distinguishes real upstream followers from synthetic test events.
type EventSource string

const (
	SourceReal EventSource = "real"
	SourceTest EventSource = "test"
)

// FollowerEvent is one occurrence of a user following the monitored channel.
// ID is the sole deduplication key: two events with the same ID are the same
// logical occurrence regardless of the other fields.
type FollowerEvent struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	AvatarURL   *string     `json:"avatarUrl"`
	ObservedAt  time.Time   `json:"observedAt"`
	Source      EventSource `json:"source"`
}

// NewTestEvent creates a synthetic follower event for overlay testing.
func NewTestEvent() FollowerEvent {
	return FollowerEvent{
		ID:          "test_" + uuid.NewString(),
		DisplayName: "Test Follower",
		ObservedAt:  time.Now(),
		Source:      SourceTest,
	}
}

// QueuedEvent wraps a FollowerEvent with its delivery-queue lifetime. The TTL
// governs how long the event stays visible to clients that poll or reconnect
// late, not how long it survives after being delivered.
type QueuedEvent struct {
	Event      FollowerEvent
	EnqueuedAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the entry should no longer be served.
func (q QueuedEvent) Expired(now time.Time) bool {
	return q.ExpiresAt.Before(now)
}
