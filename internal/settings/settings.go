package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Settings is the overlay presentation document. The pipeline consumes it but
// does not interpret most of it; rendering fields pass through to clients
// verbatim.
type Settings struct {
	Volume          float64 `json:"volume"`
	PollingInterval int     `json:"pollingInterval"`
	DisplayDuration int     `json:"displayDuration"`
	EnableTTS       bool    `json:"enableTTS"`
	CustomSoundPath string  `json:"customSoundPath,omitempty"`
	AnimationType   string  `json:"animationType"`
	TextColor       string  `json:"textColor"`
	TextSize        int     `json:"textSize"`
}

// Default returns the shipped overlay settings.
func Default() Settings {
	return Settings{
		Volume:          0.5,
		PollingInterval: 5,
		DisplayDuration: 5,
		EnableTTS:       false,
		AnimationType:   "fade",
		TextColor:       "#ffffff",
		TextSize:        100,
	}
}

// Store reads and writes the settings document as a JSON file and watches it
// for changes, so both the HTTP API and a hand-edited file end up broadcast
// to connected overlays through the same path.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	onChange []func(Settings)

	// debounce collapses the burst of fsnotify write events a single save
	// produces into one reload.
	debounce time.Duration
}

// NewStore creates a store for the settings file at path. The file does not
// need to exist yet.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}
	return &Store{
		path:     path,
		logger:   logger.With("component", "settings_store"),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Load reads the current document, returning defaults when the file is
// missing. A corrupt file is an error; the caller decides whether to reset.
func (s *Store) Load() (Settings, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return cfg, nil
}

// Save writes the document atomically. Change notification happens through
// the watcher, not here, so external edits and API saves broadcast the same
// way exactly once.
func (s *Store) Save(cfg Settings) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// OnChange registers a subscriber invoked with the freshly loaded document
// after every observed file change.
func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Watch observes the settings file until the context is cancelled. The
// containing directory is watched rather than the file itself so atomic
// rename-replace saves keep firing events.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}
	s.logger.Info("watching settings file", "path", s.path)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(s.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			s.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("settings watcher error", "error", err)
		}
	}
}

func (s *Store) reload() {
	cfg, err := s.Load()
	if err != nil {
		s.logger.Warn("ignoring unreadable settings change", "error", err)
		return
	}

	s.mu.Lock()
	subs := append(([]func(Settings))(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings changed")
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("settings subscriber panicked", "panic", r)
				}
			}()
			fn(cfg)
		}()
	}
}
