package middleware_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/http/middleware"
)

func TestNewSubjectLimiter_DisabledReturnsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, middleware.NewSubjectLimiter(0, 10, 0))
	assert.Nil(t, middleware.NewSubjectLimiter(10, 0, 0))

	var l *middleware.SubjectLimiter
	assert.True(t, l.Allow("anyone", time.Now()))
	assert.Zero(t, l.Len())
}

func TestSubjectLimiter_PerKeyBudget(t *testing.T) {
	t.Parallel()

	l := middleware.NewSubjectLimiter(1, 2, time.Minute)
	require.NotNil(t, l)
	now := time.Now()

	assert.True(t, l.Allow("alice", now))
	assert.True(t, l.Allow("alice", now))
	assert.False(t, l.Allow("alice", now), "burst exhausted")
	assert.True(t, l.Allow("bob", now), "other callers have their own bucket")
	assert.True(t, l.Allow("alice", now.Add(time.Second)), "token refilled")
	assert.True(t, l.Allow("  ", now), "blank keys are not limited")
}

func TestSubjectLimiter_EvictsIdleKeys(t *testing.T) {
	t.Parallel()

	l := middleware.NewSubjectLimiter(100, 100, time.Minute)
	start := time.Now()
	for i := range 100 {
		l.Allow(fmt.Sprintf("caller-%d", i), start)
	}
	require.Equal(t, 100, l.Len())

	later := start.Add(2 * time.Minute)
	for range 512 {
		l.Allow("active", later)
	}
	assert.Equal(t, 1, l.Len())
}

func TestRateLimit_Rejects(t *testing.T) {
	t.Parallel()

	l := middleware.NewSubjectLimiter(0.001, 1, time.Minute)
	handler := middleware.RateLimit(l)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(subject, remote string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/order:get", http.NoBody)
		req.RemoteAddr = remote
		if subject != "" {
			req.Header.Set("X-Subject-ID", subject)
		}
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("alice", "10.0.0.1:1000").Code)

	rec := send("alice", "10.0.0.2:2000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusOK, send("", "10.0.0.1:1000").Code, "anonymous callers keyed by IP")
	assert.Equal(t, http.StatusTooManyRequests, send("", "10.0.0.1:3000").Code, "same IP, different port")
}

func TestRateLimit_NilPassesThrough(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimit(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for range 5 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}
