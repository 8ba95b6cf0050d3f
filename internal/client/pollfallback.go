package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lorrc/follow-notifier/internal/core/domain"
)

// SnapshotClient reads the combined follower view over plain HTTP. It backs
// the cold-connect catch-up and the polling fallback transport.
type SnapshotClient struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewSnapshotClient creates a snapshot client for the given server base URL.
func NewSnapshotClient(baseURL string, timeout time.Duration, logger *slog.Logger) *SnapshotClient {
	return &SnapshotClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Fetch returns the server's current combined follower view.
func (c *SnapshotClient) Fetch(ctx context.Context) ([]domain.FollowerEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/followers", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching followers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching followers", resp.StatusCode)
	}

	var body struct {
		Data []domain.FollowerEvent `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding followers response: %w", err)
	}
	return body.Data, nil
}

// PollLoop is the fallback transport: it repeatedly fetches the combined view
// and feeds every event into the playback queue, whose id dedup makes the
// redundant deliveries harmless. The WebSocket transport is the primary path;
// run this only when it is unavailable.
func (c *SnapshotClient) PollLoop(ctx context.Context, interval time.Duration, queue *PlaybackQueue) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		events, err := c.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("fallback poll failed", "error", err)
		} else {
			for _, e := range events {
				queue.Enqueue(e)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
