package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	handler := NewHealthHandler(nil, "1.2.3")

	req := httptest.NewRequest(stdhttp.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()

	handler.HandleHealth(recorder, req)

	require.Equal(t, stdhttp.StatusOK, recorder.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	assert.Equal(t, "1.2.3", body["version"])
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		store      HealthChecker
		wantStatus int
	}{
		{
			name:       "store reachable",
			store:      pingFunc(func(context.Context) error { return nil }),
			wantStatus: stdhttp.StatusOK,
		},
		{
			name:       "store down",
			store:      pingFunc(func(context.Context) error { return assert.AnError }),
			wantStatus: stdhttp.StatusServiceUnavailable,
		},
		{
			name:       "no store configured",
			store:      nil,
			wantStatus: stdhttp.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.store, "dev")

			req := httptest.NewRequest(stdhttp.MethodGet, "/health/ready", nil)
			recorder := httptest.NewRecorder()

			handler.HandleReadiness(recorder, req)

			assert.Equal(t, tt.wantStatus, recorder.Code)
		})
	}
}

func TestLiveness(t *testing.T) {
	handler := NewHealthHandler(nil, "dev")

	req := httptest.NewRequest(stdhttp.MethodGet, "/health/live", nil)
	recorder := httptest.NewRecorder()

	handler.HandleLiveness(recorder, req)

	assert.Equal(t, stdhttp.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "alive")
}
