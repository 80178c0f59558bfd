package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/model"
)

type stubLimiter struct {
	allowed bool
	err     error
	lastKey string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.lastKey = key
	return s.allowed, s.err
}

func (s *stubLimiter) Close() error { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareAllowed(t *testing.T) {
	limiter := &stubLimiter{allowed: true}
	h := Middleware(limiter, "ingest", IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.RemoteAddr = "10.0.0.7:52113"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ingest:10.0.0.7", limiter.lastKey)
}

func TestMiddlewareLimited(t *testing.T) {
	limiter := &stubLimiter{allowed: false}
	reqID := func(*http.Request) string { return "req-123" }
	h := Middleware(limiter, "query", IPKeyFunc, reqID)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil)
	req.RemoteAddr = "10.0.0.7:52113"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-123", body.Meta.RequestID)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	limiter := &stubLimiter{allowed: false, err: errors.New("backend down")}
	h := Middleware(limiter, "ingest", IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareEmptyKeySkips(t *testing.T) {
	limiter := &stubLimiter{allowed: false}
	empty := func(*http.Request) string { return "" }
	h := Middleware(limiter, "ingest", empty, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, limiter.lastKey, "limiter should not be consulted")
}

func TestMiddlewareNilLimiter(t *testing.T) {
	h := Middleware(nil, "ingest", IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"10.0.0.7:52113", "10.0.0.7"},
		{"[::1]:8080", "[::1]"},
		{"10.0.0.7", "10.0.0.7"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.addr
		assert.Equal(t, tt.want, IPKeyFunc(r))
	}
}
