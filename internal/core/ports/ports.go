package ports

import (
	"context"
	"time"

	"github.com/lorrc/follow-notifier/internal/core/domain"
)

// UpstreamSource reads the current full follower snapshot from the platform.
// The snapshot is a bounded page, not a diff. Implementations return
// errors.ErrUpstreamUnauthenticated (possibly wrapped) on a 401/403-class
// failure so the caller can invalidate the cached session.
type UpstreamSource interface {
	Followers(ctx context.Context) ([]domain.FollowerEvent, error)
}

// CredentialInvalidator is the signal surface of the external credential
// collaborator. The pipeline never mutates the session itself; it only asks
// for invalidation when the upstream reports an unauthenticated call.
type CredentialInvalidator interface {
	Invalidate(reason string)
}

// EventBroadcaster pushes a protocol message to every subscribed client.
type EventBroadcaster interface {
	Broadcast(msg domain.Message) error
}

// EventHistory persists delivered follower events so a client that missed a
// notification during a brief restart can still be shown it once.
type EventHistory interface {
	Record(ctx context.Context, e domain.FollowerEvent) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]domain.FollowerEvent, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// FollowerService is the primary port consumed by the HTTP and WebSocket
// adapters.
type FollowerService interface {
	// Combined returns the merged, time-bounded view: unexpired test events,
	// then unexpired real events, then the remainder of the latest snapshot,
	// deduplicated by id in that precedence order.
	Combined() []domain.FollowerEvent

	// TriggerTest enqueues and broadcasts one synthetic follower event.
	TriggerTest() domain.FollowerEvent

	// Recent lists previously delivered real events from the history store.
	Recent(ctx context.Context, since time.Time, limit int) ([]domain.FollowerEvent, error)
}
