package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lorrc/follow-notifier/internal/core/domain"
)

// Presenter renders one notification at a time. Show is called when an event
// starts its display window, Hide when the window ends.
type Presenter interface {
	Show(e domain.FollowerEvent)
	Hide()
}

// PlaybackConfig holds playback timing configuration.
type PlaybackConfig struct {
	DisplayDuration time.Duration
	Cooldown        time.Duration
	CatchUpWindow   time.Duration
}

// DefaultPlaybackConfig returns the standard playback timings.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		DisplayDuration: 5 * time.Second,
		Cooldown:        500 * time.Millisecond,
		CatchUpWindow:   time.Hour,
	}
}

// PlaybackQueue deduplicates incoming events by id against a session-scoped
// known set and presents novel ones one at a time, FIFO, each held for the
// display duration and followed by a cooldown. The serialization is the
// backpressure policy: a burst of N events takes N display windows to fully
// present, which keeps each notification readable.
type PlaybackQueue struct {
	mu      sync.Mutex
	known   map[string]struct{}
	pending []domain.FollowerEvent
	showing bool

	wake      chan struct{}
	presenter Presenter
	cfg       PlaybackConfig
	logger    *slog.Logger

	now func() time.Time
}

// NewPlaybackQueue creates a playback queue over the given presenter.
func NewPlaybackQueue(presenter Presenter, cfg PlaybackConfig, logger *slog.Logger) *PlaybackQueue {
	return &PlaybackQueue{
		known:     make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
		presenter: presenter,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Enqueue accepts an incoming event. Duplicates — post-reconnect redeliveries
// or overlapping polls — are discarded; ids are never evicted from the known
// set during a session.
func (q *PlaybackQueue) Enqueue(e domain.FollowerEvent) {
	q.mu.Lock()
	if _, seen := q.known[e.ID]; seen {
		q.mu.Unlock()
		q.logger.Debug("duplicate event discarded", "event_id", e.ID)
		return
	}
	q.known[e.ID] = struct{}{}
	q.pending = append(q.pending, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// SeedCatchUp processes a cold-connect snapshot: every id is marked known so
// the steady-state stream does not re-announce it, but events observed within
// the catch-up window are still queued once, so a notification missed during
// a brief restart is shown.
func (q *PlaybackQueue) SeedCatchUp(snapshot []domain.FollowerEvent) {
	cutoff := q.now().Add(-q.cfg.CatchUpWindow)
	queued := 0

	q.mu.Lock()
	for _, e := range snapshot {
		if _, seen := q.known[e.ID]; seen {
			continue
		}
		q.known[e.ID] = struct{}{}
		if e.ObservedAt.After(cutoff) {
			q.pending = append(q.pending, e)
			queued++
		}
	}
	q.mu.Unlock()

	q.logger.Info("catch-up seed complete",
		"snapshot_size", len(snapshot),
		"queued", queued,
	)

	if queued > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of events waiting to be shown.
func (q *PlaybackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsShowing reports whether a notification is currently on screen.
func (q *PlaybackQueue) IsShowing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.showing
}

// Run drains the queue until the context is cancelled. It is the single
// writer of the presentation state.
func (q *PlaybackQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		q.drain(ctx)
	}
}

func (q *PlaybackQueue) drain(ctx context.Context) {
	for {
		e, ok := q.pop()
		if !ok {
			return
		}

		q.setShowing(true)
		q.presenter.Show(e)
		if !sleepCtx(ctx, q.cfg.DisplayDuration) {
			q.presenter.Hide()
			q.setShowing(false)
			return
		}
		q.presenter.Hide()
		q.setShowing(false)

		if !sleepCtx(ctx, q.cfg.Cooldown) {
			return
		}
	}
}

func (q *PlaybackQueue) pop() (domain.FollowerEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return domain.FollowerEvent{}, false
	}
	e := q.pending[0]
	q.pending = q.pending[1:]
	return e, true
}

func (q *PlaybackQueue) setShowing(v bool) {
	q.mu.Lock()
	q.showing = v
	q.mu.Unlock()
}

// sleepCtx waits for d, returning false if the context was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
