package settings_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/follow-notifier/internal/settings"
)

func newStore(t *testing.T) *settings.Store {
	t.Helper()
	s, err := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestStore_LoadDefaultsWhenMissing(t *testing.T) {
	s := newStore(t)

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), cfg)
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newStore(t)

	cfg := settings.Default()
	cfg.Volume = 0.8
	cfg.EnableTTS = true
	cfg.TextColor = "#00ff00"
	require.NoError(t, s.Save(cfg))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestStore_LoadMergesPartialDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"volume": 0.9}`), 0o600))

	s, err := settings.NewStore(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Volume)
	// Unset fields keep their defaults.
	assert.Equal(t, settings.Default().AnimationType, cfg.AnimationType)
}

func TestStore_WatchNotifiesOnSave(t *testing.T) {
	s := newStore(t)

	changed := make(chan settings.Settings, 1)
	s.OnChange(func(cfg settings.Settings) {
		select {
		case changed <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Watch(ctx) }()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)

	cfg := settings.Default()
	cfg.Volume = 0.25
	require.NoError(t, s.Save(cfg))

	select {
	case got := <-changed:
		assert.Equal(t, 0.25, got.Volume)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for settings change notification")
	}
}
