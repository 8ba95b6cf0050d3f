package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lorrc/follow-notifier/internal/core/domain"
)

// MergeQueueConfig holds the visibility lifetimes of the two delivery queues.
type MergeQueueConfig struct {
	// TestTTL is how long a synthetic test event stays visible to late
	// pollers.
	TestTTL time.Duration

	// RealTTL is how long a detected follower event stays visible.
	RealTTL time.Duration
}

// DefaultMergeQueueConfig mirrors the shipped defaults: 10s for test events,
// 30s for real ones.
func DefaultMergeQueueConfig() MergeQueueConfig {
	return MergeQueueConfig{
		TestTTL: 10 * time.Second,
		RealTTL: 30 * time.Second,
	}
}

// MergeQueue consumes poll snapshots plus synthetic test events, maintains
// the known-id set, computes novelty, and exposes a combined time-bounded
// result set. It holds no goroutines of its own; all mutation happens inside
// the caller's poll cycle or request handler, serialized by one mutex.
type MergeQueue struct {
	mu           sync.Mutex
	known        map[string]struct{}
	testQueue    []domain.QueuedEvent
	realQueue    []domain.QueuedEvent
	lastSnapshot []domain.FollowerEvent

	cfg    MergeQueueConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewMergeQueue creates an empty merge queue.
func NewMergeQueue(cfg MergeQueueConfig, logger *slog.Logger) *MergeQueue {
	if cfg.TestTTL <= 0 {
		cfg.TestTTL = DefaultMergeQueueConfig().TestTTL
	}
	if cfg.RealTTL <= 0 {
		cfg.RealTTL = DefaultMergeQueueConfig().RealTTL
	}
	return &MergeQueue{
		known:  make(map[string]struct{}),
		cfg:    cfg,
		logger: logger.With("component", "merge_queue"),
		now:    time.Now,
	}
}

// Seed registers every id in the snapshot as already known without queueing
// anything. Used for the grace-period re-scan on startup so the first
// successful poll after a restart does not announce the whole follower page.
func (q *MergeQueue) Seed(snapshot []domain.FollowerEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range snapshot {
		q.known[e.ID] = struct{}{}
	}
	q.lastSnapshot = append([]domain.FollowerEvent(nil), snapshot...)

	q.logger.Info("known-follower set seeded", "count", len(q.known))
}

// Ingest merges one poll snapshot and returns the novel events, already
// appended to the real queue. An id that fell off the snapshot is removed
// from the known set, re-arming detection if the follower reappears later.
// An empty snapshot is ignored for detection so a thin upstream page never
// mass-expires the known set.
func (q *MergeQueue) Ingest(snapshot []domain.FollowerEvent) []domain.FollowerEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.evictLocked(now)

	if len(snapshot) == 0 {
		return nil
	}

	current := make(map[string]struct{}, len(snapshot))
	for _, e := range snapshot {
		current[e.ID] = struct{}{}
	}
	for id := range q.known {
		if _, ok := current[id]; !ok {
			delete(q.known, id)
		}
	}

	var novel []domain.FollowerEvent
	for _, e := range snapshot {
		if _, ok := q.known[e.ID]; ok {
			continue
		}
		q.known[e.ID] = struct{}{}
		q.realQueue = append(q.realQueue, domain.QueuedEvent{
			Event:      e,
			EnqueuedAt: now,
			ExpiresAt:  now.Add(q.cfg.RealTTL),
		})
		novel = append(novel, e)
		q.logger.Info("new follower detected", "id", e.ID, "name", e.DisplayName)
	}

	q.lastSnapshot = append([]domain.FollowerEvent(nil), snapshot...)
	return novel
}

// EnqueueTest appends a synthetic event to the short-TTL test queue.
func (q *MergeQueue) EnqueueTest(e domain.FollowerEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.testQueue = append(q.testQueue, domain.QueuedEvent{
		Event:      e,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(q.cfg.TestTTL),
	})
	q.logger.Info("test follower enqueued", "id", e.ID)
}

// CombinedView returns unexpired test events, then unexpired real events,
// then the remainder of the latest raw snapshot, deduplicated by id in that
// order. A just-triggered test event or a just-detected follower is surfaced
// ahead of stale snapshot entries, while callers that need totals still see
// the full current snapshot.
func (q *MergeQueue) CombinedView() []domain.FollowerEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictLocked(q.now())

	seen := make(map[string]struct{})
	out := make([]domain.FollowerEvent, 0, len(q.testQueue)+len(q.realQueue)+len(q.lastSnapshot))

	appendEvent := func(e domain.FollowerEvent) {
		if _, ok := seen[e.ID]; ok {
			return
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}

	for _, qe := range q.testQueue {
		appendEvent(qe.Event)
	}
	for _, qe := range q.realQueue {
		appendEvent(qe.Event)
	}
	for _, e := range q.lastSnapshot {
		appendEvent(e)
	}
	return out
}

// KnownCount returns the size of the known-id set.
func (q *MergeQueue) KnownCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.known)
}

func (q *MergeQueue) evictLocked(now time.Time) {
	q.testQueue = evictExpired(q.testQueue, now)
	q.realQueue = evictExpired(q.realQueue, now)
}

func evictExpired(queue []domain.QueuedEvent, now time.Time) []domain.QueuedEvent {
	kept := queue[:0]
	for _, qe := range queue {
		if !qe.Expired(now) {
			kept = append(kept, qe)
		}
	}
	return kept
}
