package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenReject(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 3})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d should pass", i+1)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "clients are limited independently")
	assert.Equal(t, 2, rl.ActiveClients())
}

func TestLimiter_Cleanup(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerSecond: 1, Burst: 1, IdleTimeout: time.Minute})
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	rl.cleanupStaleEntries(time.Now())
	assert.Equal(t, 1, rl.ActiveClients())

	rl.cleanupStaleEntries(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, rl.ActiveClients())
}

func TestLimiter_Middleware(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerSecond: 0.5, Burst: 1})
	defer rl.Stop()

	handler := rl.Middleware(func(r *http.Request) string { return "10.0.0.9" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/totals", nil))
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/totals", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "2", second.Header().Get("Retry-After"))
	assert.Equal(t, int64(1), rl.Rejected())

	rl.Stop() // idempotent
}
