// The overlay command is a headless reference client: it connects to the
// notifier server, keeps the connection alive through reconnects, and plays
// follower notifications back one at a time on the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lorrc/follow-notifier/internal/client"
	"github.com/lorrc/follow-notifier/internal/config"
	"github.com/lorrc/follow-notifier/internal/core/domain"
	apperrors "github.com/lorrc/follow-notifier/internal/core/errors"
	"github.com/lorrc/follow-notifier/internal/infrastructure/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stderr,
		ServiceName: "follow-notifier-overlay",
		Environment: cfg.App.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseURL := fmt.Sprintf("http://%s", cfg.Addr(cfg.Server.Port))
	wsURL := fmt.Sprintf("ws://%s/ws", cfg.Addr(cfg.Server.Port))
	if override := os.Getenv("OVERLAY_SERVER_ADDR"); override != "" {
		baseURL = "http://" + override
		wsURL = "ws://" + override + "/ws"
	}

	queue := client.NewPlaybackQueue(&terminalPresenter{}, client.PlaybackConfig{
		DisplayDuration: cfg.Playback.DisplayDuration,
		Cooldown:        cfg.Playback.Cooldown,
		CatchUpWindow:   cfg.Playback.CatchUpWindow,
	}, logger)
	go queue.Run(ctx)

	// Seed the known set from the current combined view before streaming, so
	// steady-state followers are not re-announced but one missed during a
	// brief restart still shows once.
	snapshots := client.NewSnapshotClient(baseURL, cfg.Upstream.RequestTimeout, logger)
	if snapshot, err := snapshots.Fetch(ctx); err != nil {
		logger.Warn("catch-up fetch failed, starting with an empty known set", "error", err)
	} else {
		queue.SeedCatchUp(snapshot)
	}

	state := client.NewStateManager(client.BackoffConfig{
		Base:        cfg.Transport.BackoffBase,
		Factor:      cfg.Transport.BackoffFactor,
		Max:         cfg.Transport.BackoffMax,
		MaxAttempts: cfg.Transport.MaxReconnectAttempts,
		Jitter:      0.25,
	}, logger)
	state.Subscribe(func(s domain.ConnectionState) {
		logger.Info("connection state changed",
			"status", s.Status,
			"attempts", s.ReconnectAttempts,
		)
	})

	transport := client.NewTransport(client.TransportConfig{
		URL:            wsURL,
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		PingInterval:   cfg.Transport.PingInterval,
		Topics:         []string{domain.TopicFollowers},
	}, nil, state, logger)

	transport.OnFollower(queue.Enqueue)
	transport.OnSettings(func(raw json.RawMessage) {
		logger.Info("settings updated", "settings", string(raw))
	})

	go drainErrors(ctx, transport, logger)

	if err := transport.Connect(ctx); err != nil {
		// The transport keeps reconnecting on its own; just report the first
		// failure.
		logger.Warn("initial connect failed, retrying in background", "error", err)
	}

	<-ctx.Done()
	transport.Disconnect()

	metrics := state.Metrics()
	logger.Info("session summary",
		"connections", metrics.TotalConnections,
		"reconnects", metrics.TotalReconnects,
		"uptime", metrics.Uptime,
		"reliability_pct", fmt.Sprintf("%.1f", metrics.Reliability),
	)
}

// drainErrors surfaces transport errors of medium severity and above;
// low-severity noise (malformed frames) stays in the debug log.
func drainErrors(ctx context.Context, transport *client.Transport, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case terr := <-transport.Errors():
			switch terr.Severity {
			case apperrors.SeverityLow:
				logger.Debug("transport error", "kind", terr.Kind, "error", terr)
			case apperrors.SeverityCritical:
				logger.Error("transport error, manual reconnect required",
					"kind", terr.Kind, "error", terr)
				if errors.Is(terr, apperrors.ErrReconnectExhausted) {
					fmt.Fprintln(os.Stderr, "connection lost; press Ctrl+C to exit")
				}
			default:
				logger.Warn("transport error", "kind", terr.Kind, "error", terr)
			}
		}
	}
}

// terminalPresenter renders notifications as plain terminal lines.
type terminalPresenter struct{}

func (p *terminalPresenter) Show(e domain.FollowerEvent) {
	tag := ""
	if e.Source == domain.SourceTest {
		tag = " [test]"
	}
	fmt.Printf("%s  🎉 %s just followed!%s\n",
		time.Now().Format("15:04:05"), e.DisplayName, tag)
}

func (p *terminalPresenter) Hide() {
	fmt.Println(strings.Repeat("-", 40))
}
