package chzzk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lorrc/follow-notifier/internal/auth"
	"github.com/lorrc/follow-notifier/internal/core/domain"
	apperrors "github.com/lorrc/follow-notifier/internal/core/errors"
	"github.com/lorrc/follow-notifier/internal/core/ports"
)

const (
	defaultGameAPIBase  = "https://comm-api.game.naver.com"
	defaultChzzkAPIBase = "https://api.chzzk.naver.com"
	defaultPageSize     = 10

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// CredentialSource provides the current cookie session, read-only.
type CredentialSource interface {
	Credentials() (auth.Credentials, bool)
}

// Config holds the upstream endpoints and paging.
type Config struct {
	GameAPIBase  string
	ChzzkAPIBase string
	PageSize     int
}

// Client reads the authenticated follower snapshot from the chzzk management
// API. The streamer's own channel id is resolved once via getUserStatus and
// cached until an unauthenticated response resets it.
type Client struct {
	httpClient *http.Client
	session    CredentialSource
	cfg        Config
	logger     *slog.Logger

	mu        sync.Mutex
	profileID string
}

var _ ports.UpstreamSource = (*Client)(nil)

// NewClient builds an upstream client. httpClient may be nil, in which case a
// default client is used; per-call deadlines come from the caller's context.
func NewClient(session CredentialSource, cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.GameAPIBase == "" {
		cfg.GameAPIBase = defaultGameAPIBase
	}
	if cfg.ChzzkAPIBase == "" {
		cfg.ChzzkAPIBase = defaultChzzkAPIBase
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		session:    session,
		cfg:        cfg,
		logger:     logger.With("component", "chzzk_client"),
	}
}

type userStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Content struct {
		UserIDHash string `json:"userIdHash"`
		Nickname   string `json:"nickname"`
	} `json:"content"`
}

type followerResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Content struct {
		Page int            `json:"page"`
		Size int            `json:"size"`
		Data []followerItem `json:"data"`
	} `json:"content"`
}

type followerItem struct {
	User struct {
		UserIDHash      string  `json:"userIdHash"`
		Nickname        string  `json:"nickname"`
		ProfileImageURL *string `json:"profileImageUrl"`
	} `json:"user"`
	FollowingSince string `json:"followingSince"`
}

// Followers implements ports.UpstreamSource. It returns the current full
// follower page mapped to follower events.
func (c *Client) Followers(ctx context.Context) ([]domain.FollowerEvent, error) {
	creds, ok := c.session.Credentials()
	if !ok {
		return nil, apperrors.ErrNoSession
	}

	profileID, err := c.resolveProfileID(ctx, creds)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/manage/v1/channels/%s/followers?page=0&size=%d&userNickname=",
		c.cfg.ChzzkAPIBase, profileID, c.cfg.PageSize)

	var resp followerResponse
	if err := c.get(ctx, url, creds, &resp); err != nil {
		return nil, err
	}

	events := make([]domain.FollowerEvent, 0, len(resp.Content.Data))
	for _, item := range resp.Content.Data {
		events = append(events, domain.FollowerEvent{
			ID:          item.User.UserIDHash,
			DisplayName: item.User.Nickname,
			AvatarURL:   item.User.ProfileImageURL,
			ObservedAt:  parseFollowingSince(item.FollowingSince),
			Source:      domain.SourceReal,
		})
	}
	return events, nil
}

// resolveProfileID returns the cached channel id, resolving it on first use.
func (c *Client) resolveProfileID(ctx context.Context, creds auth.Credentials) (string, error) {
	c.mu.Lock()
	cached := c.profileID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	url := c.cfg.GameAPIBase + "/nng_main/v1/user/getUserStatus"
	var resp userStatusResponse
	if err := c.get(ctx, url, creds, &resp); err != nil {
		return "", err
	}
	if resp.Content.UserIDHash == "" {
		return "", fmt.Errorf("%w: user status carried no profile id", apperrors.ErrUpstreamUnauthenticated)
	}

	c.mu.Lock()
	c.profileID = resp.Content.UserIDHash
	c.mu.Unlock()

	c.logger.Info("resolved channel profile", "nickname", resp.Content.Nickname)
	return resp.Content.UserIDHash, nil
}

func (c *Client) get(ctx context.Context, url string, creds auth.Credentials, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUpstreamTransient, err)
	}
	req.Header.Set("Cookie", fmt.Sprintf("NID_AUT=%s; NID_SES=%s", creds.NidAut, creds.NidSes))
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUpstreamTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.resetProfileID()
		return fmt.Errorf("%w: status %d", apperrors.ErrUpstreamUnauthenticated, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", apperrors.ErrUpstreamTransient, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", apperrors.ErrUpstreamTransient, err)
	}
	return nil
}

// resetProfileID drops the cached channel id so a fresh session resolves it
// again.
func (c *Client) resetProfileID() {
	c.mu.Lock()
	c.profileID = ""
	c.mu.Unlock()
}

// parseFollowingSince accepts the upstream timestamp in either its native
// "2006-01-02 15:04:05" form or RFC 3339 (used by synthetic entries), falling
// back to the current time.
func parseFollowingSince(s string) time.Time {
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
