package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/lorrc/follow-notifier/internal/core/domain"
	"github.com/lorrc/follow-notifier/internal/core/ports"
)

// AlertService glues the merge queue to the broadcaster and the history
// store. It is the single write path for follower events: poll snapshots come
// in through HandleSnapshot, synthetic events through TriggerTest.
type AlertService struct {
	queue       *MergeQueue
	history     ports.EventHistory
	broadcaster ports.EventBroadcaster
	logger      *slog.Logger

	seeded bool
}

var _ ports.FollowerService = (*AlertService)(nil)

// NewAlertService wires the service. history may be nil when persistence is
// disabled.
func NewAlertService(
	queue *MergeQueue,
	history ports.EventHistory,
	broadcaster ports.EventBroadcaster,
	logger *slog.Logger,
) *AlertService {
	return &AlertService{
		queue:       queue,
		history:     history,
		broadcaster: broadcaster,
		logger:      logger.With("component", "alert_service"),
	}
}

// HandleSnapshot merges one upstream snapshot. The first successful snapshot
// after startup only seeds the known-id set; announcing it would replay the
// entire follower page as fresh events.
func (s *AlertService) HandleSnapshot(ctx context.Context, snapshot []domain.FollowerEvent) {
	if !s.seeded {
		s.queue.Seed(snapshot)
		s.seeded = true
		return
	}

	novel := s.queue.Ingest(snapshot)
	for _, e := range novel {
		if s.history != nil {
			if err := s.history.Record(ctx, e); err != nil {
				s.logger.Warn("failed to record follower event", "id", e.ID, "error", err)
			}
		}
		if err := s.broadcaster.Broadcast(domain.NewFollowerMessage(e)); err != nil {
			s.logger.Warn("failed to broadcast follower event", "id", e.ID, "error", err)
		}
	}
}

// Combined implements ports.FollowerService.
func (s *AlertService) Combined() []domain.FollowerEvent {
	return s.queue.CombinedView()
}

// TriggerTest enqueues one synthetic event with the short TTL and broadcasts
// it immediately.
func (s *AlertService) TriggerTest() domain.FollowerEvent {
	e := domain.NewTestEvent()
	s.queue.EnqueueTest(e)
	if err := s.broadcaster.Broadcast(domain.NewFollowerMessage(e)); err != nil {
		s.logger.Warn("failed to broadcast test event", "id", e.ID, "error", err)
	}
	return e
}

// Recent implements ports.FollowerService.
func (s *AlertService) Recent(ctx context.Context, since time.Time, limit int) ([]domain.FollowerEvent, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListSince(ctx, since, limit)
}
