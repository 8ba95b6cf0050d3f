package store_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/follow-notifier/internal/adapters/secondary/store"
	"github.com/lorrc/follow-notifier/internal/core/domain"
)

func openStore(t *testing.T) *store.EventStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func event(id string, observedAt time.Time) domain.FollowerEvent {
	avatar := "https://img/" + id + ".png"
	return domain.FollowerEvent{
		ID:          id,
		DisplayName: "user-" + id,
		AvatarURL:   &avatar,
		ObservedAt:  observedAt,
		Source:      domain.SourceReal,
	}
}

func TestEventStore_RecordAndListSince(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Record(ctx, event("u1", now.Add(-2*time.Hour))))
	require.NoError(t, s.Record(ctx, event("u2", now.Add(-30*time.Minute))))
	require.NoError(t, s.Record(ctx, event("u3", now.Add(-5*time.Minute))))

	events, err := s.ListSince(ctx, now.Add(-time.Hour), 50)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, "u3", events[0].ID)
	assert.Equal(t, "u2", events[1].ID)
	require.NotNil(t, events[0].AvatarURL)
	assert.Equal(t, "https://img/u3.png", *events[0].AvatarURL)
	assert.Equal(t, domain.SourceReal, events[0].Source)
	assert.WithinDuration(t, now.Add(-5*time.Minute), events[0].ObservedAt, time.Second)
}

func TestEventStore_ListSinceLimit(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, event("u", now.Add(time.Duration(i)*time.Minute))))
	}

	events, err := s.ListSince(ctx, now.Add(-time.Hour), 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestEventStore_RefollowKeepsBothRows(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, event("u1", now.Add(-10*time.Minute))))
	require.NoError(t, s.Record(ctx, event("u1", now)))

	events, err := s.ListSince(ctx, now.Add(-time.Hour), 50)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, event("old", now.Add(-48*time.Hour))))
	require.NoError(t, s.Record(ctx, event("fresh", now)))

	removed, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, err := s.ListSince(ctx, now.Add(-72*time.Hour), 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fresh", events[0].ID)
}
