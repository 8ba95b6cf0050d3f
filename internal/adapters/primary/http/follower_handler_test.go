package http

import (
	"encoding/json"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/follow-notifier/internal/core/domain"
	"github.com/lorrc/follow-notifier/internal/core/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFollowerRouter(alerts *mocks.MockFollowerService) chi.Router {
	logger := testLogger()
	handler := NewFollowerHandler(alerts, NewErrorHandler(logger), logger)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func TestFollowersList(t *testing.T) {
	alerts := mocks.NewMockFollowerService()
	alerts.On("Combined").Return([]domain.FollowerEvent{
		{ID: "test_1", DisplayName: "Test Follower", Source: domain.SourceTest},
		{ID: "u1", DisplayName: "viewer", Source: domain.SourceReal},
	})

	router := newFollowerRouter(alerts)
	req := httptest.NewRequest(stdhttp.MethodGet, "/followers", nil)
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	require.Equal(t, stdhttp.StatusOK, recorder.Code)

	var response struct {
		Data  []domain.FollowerEvent `json:"data"`
		Count int                    `json:"count"`
	}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&response))
	require.Len(t, response.Data, 2)
	assert.Equal(t, "test_1", response.Data[0].ID)
	assert.Equal(t, "u1", response.Data[1].ID)
	alerts.AssertExpectations(t)
}

func TestFollowersList_Empty(t *testing.T) {
	alerts := mocks.NewMockFollowerService()
	alerts.On("Combined").Return(nil)

	router := newFollowerRouter(alerts)
	req := httptest.NewRequest(stdhttp.MethodGet, "/followers", nil)
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	require.Equal(t, stdhttp.StatusOK, recorder.Code)
	// An empty view is an empty JSON array, not null.
	assert.Contains(t, recorder.Body.String(), `"data":[]`)
}

func TestTestFollowerTrigger(t *testing.T) {
	alerts := mocks.NewMockFollowerService()
	alerts.On("TriggerTest").Return(domain.NewTestEvent())

	router := newFollowerRouter(alerts)
	req := httptest.NewRequest(stdhttp.MethodPost, "/test-follower", nil)
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	require.Equal(t, stdhttp.StatusAccepted, recorder.Code)

	var response struct {
		Data domain.FollowerEvent `json:"data"`
	}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&response))
	assert.Equal(t, domain.SourceTest, response.Data.Source)
	alerts.AssertExpectations(t)
}

func TestFollowersRecent(t *testing.T) {
	alerts := mocks.NewMockFollowerService()
	alerts.On("Recent", mock.Anything, mock.MatchedBy(func(since time.Time) bool {
		// ?window=30m puts the cutoff roughly half an hour back.
		return time.Since(since) > 29*time.Minute && time.Since(since) < 31*time.Minute
	}), 5).Return([]domain.FollowerEvent{
		{ID: "u1", DisplayName: "viewer", Source: domain.SourceReal},
	}, nil)

	router := newFollowerRouter(alerts)
	req := httptest.NewRequest(stdhttp.MethodGet, "/followers/recent?window=30m&limit=5", nil)
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	require.Equal(t, stdhttp.StatusOK, recorder.Code)
	alerts.AssertExpectations(t)
}

func TestFollowersRecent_BadParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "negative window", query: "?window=-5m"},
		{name: "malformed window", query: "?window=soon"},
		{name: "zero limit", query: "?limit=0"},
		{name: "malformed limit", query: "?limit=ten"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := mocks.NewMockFollowerService()
			router := newFollowerRouter(alerts)

			req := httptest.NewRequest(stdhttp.MethodGet, "/followers/recent"+tt.query, nil)
			recorder := httptest.NewRecorder()

			router.ServeHTTP(recorder, req)

			require.Equal(t, stdhttp.StatusBadRequest, recorder.Code)
			alerts.AssertNotCalled(t, "Recent", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestFollowersRecent_LimitClamped(t *testing.T) {
	alerts := mocks.NewMockFollowerService()
	alerts.On("Recent", mock.Anything, mock.Anything, maxRecentLimit).Return(nil, nil)

	router := newFollowerRouter(alerts)
	req := httptest.NewRequest(stdhttp.MethodGet, "/followers/recent?limit=9999", nil)
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	require.Equal(t, stdhttp.StatusOK, recorder.Code)
	alerts.AssertExpectations(t)
}
