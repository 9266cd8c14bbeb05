package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jizhang/internal/log"
)

func TestMiddleware_AssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := NewMiddleware(func(*http.Request) string { return "10.0.0.1" },
		log.New(log.Config{Level: slog.LevelInfo, Output: &buf}))

	var seen string
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transactions", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err, "request id should be a uuid")
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	assert.Equal(t, int64(1), m.GetMetrics().TotalRequests)

	out := buf.String()
	assert.True(t, strings.Contains(out, "status_code=201"), out)
	assert.True(t, strings.Contains(out, "client_ip=10.0.0.1"), out)
}

func TestMiddleware_ReusesInboundRequestID(t *testing.T) {
	m := NewMiddleware(nil, log.New(log.Config{Output: &bytes.Buffer{}}))

	tests := []struct {
		name    string
		inbound string
		reused  bool
	}{
		{"well formed", "req-0123456789", true},
		{"too short", "abc", false},
		{"header injection", "abc def\r\nX-Evil: 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = FromRequest(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set(HeaderRequestID, tt.inbound)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.reused, seen == tt.inbound)
			assert.NotEmpty(t, seen)
		})
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetRequestID(req.Context()))
}
