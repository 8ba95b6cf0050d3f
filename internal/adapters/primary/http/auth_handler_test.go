package http

import (
	"bytes"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/follow-notifier/internal/auth"
)

func newAuthRouter(t *testing.T) (chi.Router, *auth.SessionStore) {
	t.Helper()
	logger := testLogger()
	sessions, err := auth.NewSessionStore(t.TempDir(), logger)
	require.NoError(t, err)

	handler := NewAuthHandler(sessions, NewErrorHandler(logger), logger)
	r := chi.NewRouter()
	r.Route("/auth", handler.RegisterRoutes)
	return r, sessions
}

func TestCookieHandOff(t *testing.T) {
	router, sessions := newAuthRouter(t)

	body := []byte(`{"nidAut":"aut-value","nidSes":"ses-value"}`)
	req := httptest.NewRequest(stdhttp.MethodPost, "/auth/cookies", bytes.NewReader(body))
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	require.Equal(t, stdhttp.StatusOK, recorder.Code)

	creds, ok := sessions.Credentials()
	require.True(t, ok)
	assert.Equal(t, "aut-value", creds.NidAut)
	assert.Equal(t, "ses-value", creds.NidSes)
}

func TestCookieHandOff_RejectsIncomplete(t *testing.T) {
	router, sessions := newAuthRouter(t)

	body := []byte(`{"nidAut":"aut-value"}`)
	req := httptest.NewRequest(stdhttp.MethodPost, "/auth/cookies", bytes.NewReader(body))
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	require.Equal(t, stdhttp.StatusBadRequest, recorder.Code)

	_, ok := sessions.Credentials()
	assert.False(t, ok)
}

func TestCookieHandOff_RejectsMalformedBody(t *testing.T) {
	router, _ := newAuthRouter(t)

	req := httptest.NewRequest(stdhttp.MethodPost, "/auth/cookies", bytes.NewReader([]byte("not json")))
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	require.Equal(t, stdhttp.StatusBadRequest, recorder.Code)
}
