package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jizhang/internal/bot"
	"jizhang/internal/core"
	"jizhang/internal/log"
	"jizhang/internal/middleware/ratelimit"
	"jizhang/internal/services"
	"jizhang/internal/storage"
)

type fakeBot struct{ state bot.State }

func (f fakeBot) State() bot.State { return f.state }
func (f fakeBot) IsRunning() bool  { return true }

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return context.DeadlineExceeded }

type testServer struct {
	srv  *Server
	repo *storage.SQLiteRepository
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ledger := services.NewLedgerService(repo, core.DefaultRegistry(), nil)
	srv := NewServer(":0", Deps{
		Ledger:   ledger,
		Reports:  services.NewReportService(repo),
		Settings: repo,
		Health:   repo,
		Bot:      fakeBot{state: bot.StatePolling},
		Metrics:  prometheus.NewRegistry(),
		Logger:   log.New(log.Config{Level: slog.LevelError, Component: log.ComponentHTTP, Output: &bytes.Buffer{}}),
		Now:      func() time.Time { return time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC) },
	}, Options{RateLimit: ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000}})
	t.Cleanup(func() { srv.limiter.Stop() })
	return testServer{srv: srv, repo: repo}
}

func (ts testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := ts.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"), path)
	}

	ts.srv.health = downPinger{}
	rr := ts.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCreateTransaction(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/transactions",
		`{"kind":"expense","amount":"32.5","category":"餐饮","note":"午饭","occurred_on":"2025-03-10"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	got := decode[transactionJSON](t, rr)
	assert.NotZero(t, got.ID)
	assert.Equal(t, "expense", got.Kind)
	assert.Equal(t, int64(3250), got.Amount.Cents)
	assert.Equal(t, "32.50", got.Amount.Display)
	assert.Equal(t, "2025-03-10", got.OccurredOn)
	assert.Equal(t, "/api/transactions/"+jsonID(got.ID), rr.Header().Get("Location"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestCreateTransaction_DefaultsToToday(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/transactions", `{"kind":"income","amount":100,"category":"工资"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "2025-03-20", decode[transactionJSON](t, rr).OccurredOn)
}

func TestCreateTransaction_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"bad amount", `{"kind":"expense","amount":"abc","category":"餐饮"}`, "amount"},
		{"zero amount", `{"kind":"expense","amount":"0","category":"餐饮"}`, "amount"},
		{"huge exponent", `{"kind":"expense","amount":1e999999999,"category":"餐饮"}`, "amount"},
		{"tiny exponent", `{"kind":"expense","amount":"1e-2147483648","category":"餐饮"}`, "amount"},
		{"bad date", `{"kind":"expense","amount":"1","category":"餐饮","occurred_on":"2025-02-30"}`, ""},
		{"unknown kind", `{"kind":"transfer","amount":"1","category":"餐饮"}`, ""},
		{"missing category", `{"kind":"expense","amount":"1"}`, ""},
		{"unknown field", `{"kind":"expense","amount":"1","category":"餐饮","tip":1}`, ""},
		{"empty body", ``, ""},
		{"two objects", `{"kind":"expense","amount":"1","category":"餐饮"}{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rr := ts.do(t, http.MethodPost, "/api/transactions", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

			body := decode[ErrorBody](t, rr)
			assert.Equal(t, CodeValidation, body.Error.Code)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, body.Error.Field)
			}

			totals, err := ts.repo.Totals(context.Background())
			require.NoError(t, err)
			assert.Zero(t, totals.Expense.Cents)
		})
	}
}

func TestCreateTransaction_UnknownCategoryListsValid(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/transactions", `{"kind":"income","amount":"10","category":"餐饮"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body := decode[ErrorBody](t, rr)
	assert.Equal(t, "category", body.Error.Field)
	assert.Equal(t, core.DefaultIncomeCategories, body.Error.Valid)
}

func TestTransactionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/transactions", `{"kind":"expense","amount":"20","category":"交通","occurred_on":"2025-03-02"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	id := jsonID(decode[transactionJSON](t, rr).ID)

	rr = ts.do(t, http.MethodGet, "/api/transactions/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "交通", decode[transactionJSON](t, rr).Category)

	rr = ts.do(t, http.MethodPut, "/api/transactions/"+id, `{"amount":"25.10","note":"地铁"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[transactionJSON](t, rr)
	assert.Equal(t, int64(2510), updated.Amount.Cents)
	assert.Equal(t, "地铁", updated.Note)
	assert.Equal(t, "交通", updated.Category)

	rr = ts.do(t, http.MethodPut, "/api/transactions/"+id, `{"category":"工资"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, core.DefaultExpenseCategories, decode[ErrorBody](t, rr).Error.Valid)

	rr = ts.do(t, http.MethodPut, "/api/transactions/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodDelete, "/api/transactions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rr = ts.do(t, method, "/api/transactions/"+id, "")
		assert.Equal(t, http.StatusNotFound, rr.Code, method)
	}
	rr = ts.do(t, http.MethodPut, "/api/transactions/"+id, `{"note":"x"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInvalidPathAndQuery(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/transactions/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/transactions/0", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/transactions?limit=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/reports/monthly?month=2025-13", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodPatch, "/api/totals", "").Code)
}

func TestListTotalsAndReports(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{
		`{"kind":"income","amount":"1000","category":"工资","occurred_on":"2025-03-01"}`,
		`{"kind":"expense","amount":"300","category":"住房","occurred_on":"2025-03-05"}`,
		`{"kind":"expense","amount":"100","category":"餐饮","occurred_on":"2025-03-06"}`,
		`{"kind":"expense","amount":"50","category":"餐饮","occurred_on":"2025-01-06"}`,
	} {
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/transactions", body).Code)
	}

	rr := ts.do(t, http.MethodGet, "/api/transactions?limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[map[string][]transactionJSON](t, rr)["transactions"]
	require.Len(t, list, 2)
	assert.Equal(t, "2025-03-06", list[0].OccurredOn)

	rr = ts.do(t, http.MethodGet, "/api/totals", "")
	require.Equal(t, http.StatusOK, rr.Code)
	totals := decode[totalsJSON](t, rr)
	assert.Equal(t, int64(100000), totals.Income.Cents)
	assert.Equal(t, int64(45000), totals.Expense.Cents)
	assert.Equal(t, "550.00", totals.Balance.Display)

	rr = ts.do(t, http.MethodGet, "/api/reports/monthly", "")
	require.Equal(t, http.StatusOK, rr.Code)
	report := decode[monthlyReportJSON](t, rr)
	assert.Equal(t, "2025-03", report.Month)
	assert.Equal(t, int64(40000), report.Expense.Cents)
	require.Len(t, report.Expenses, 2)
	assert.Equal(t, "住房", report.Expenses[0].Category)
	assert.Equal(t, 75.0, report.Expenses[0].Percent)
	assert.Len(t, report.Transactions, 3)

	rr = ts.do(t, http.MethodGet, "/api/reports/monthly?month=2024-07", "")
	require.Equal(t, http.StatusOK, rr.Code)
	empty := decode[monthlyReportJSON](t, rr)
	assert.Zero(t, empty.Expense.Cents)
	for _, share := range empty.Expenses {
		assert.Zero(t, share.Proportion)
	}

	rr = ts.do(t, http.MethodGet, "/api/months", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"2025-03", "2025-01"}, decode[map[string][]string](t, rr)["months"])
}

func TestCategories(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/categories", "")
	require.Equal(t, http.StatusOK, rr.Code)
	cats := decode[map[string][]string](t, rr)
	assert.Equal(t, core.DefaultIncomeCategories, cats["income"])
	assert.Equal(t, core.DefaultExpenseCategories, cats["expense"])
}

func TestBotSettings(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/settings/bot", "")
	require.Equal(t, http.StatusOK, rr.Code)
	initial := decode[botSettingsJSON](t, rr)
	assert.False(t, initial.Enabled)
	assert.False(t, initial.TokenSet)
	assert.Equal(t, "polling", initial.PollerState)

	rr = ts.do(t, http.MethodPut, "/api/settings/bot", `{"enabled":true}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "enabling without a token")

	rr = ts.do(t, http.MethodPut, "/api/settings/bot",
		`{"enabled":true,"token":"12345:secret","allowed_chat_ids":[42,7],"poll_interval_seconds":10}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	saved := decode[botSettingsJSON](t, rr)
	assert.Equal(t, "12345:***", saved.Token)
	assert.True(t, saved.Active)
	assert.Equal(t, 10, saved.PollIntervalSeconds)

	// Omitting the token keeps the stored one.
	rr = ts.do(t, http.MethodPut, "/api/settings/bot", `{"enabled":true,"allowed_chat_ids":[42]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	stored, err := ts.repo.BotSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12345:secret", stored.Token)
	assert.Equal(t, []int64{42}, stored.AllowedChatIDs)
	assert.Equal(t, core.DefaultPollInterval, stored.PollInterval)

	rr = ts.do(t, http.MethodPut, "/api/settings/bot", `{"enabled":false,"poll_interval_seconds":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/categories", "").Code)

	rr := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `jizhang_http_requests_total{code="200",method="get",route="GET /api/categories"} 1`)
}

func TestSuspiciousRequestsAreHidden(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/../../etc/passwd", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, "TRACE", "/api/totals", "").Code)
}
