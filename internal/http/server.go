package http

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jizhang/internal/bot"
	"jizhang/internal/core"
	"jizhang/internal/log"
	"jizhang/internal/middleware/ratelimit"
	"jizhang/internal/middleware/security"
	"jizhang/internal/middleware/trace"
)

// Ledger is the write and read surface of the ledger. *services.LedgerService implements it.
type Ledger interface {
	Create(ctx context.Context, d core.TransactionDraft) (core.Transaction, error)
	Update(ctx context.Context, id int64, patch core.TransactionPatch) (core.Transaction, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (core.Transaction, error)
	Recent(ctx context.Context, limit int) ([]core.Transaction, error)
	Totals(ctx context.Context) (core.Totals, error)
	Registry() *core.Registry
}

// Reports is the aggregation surface. *services.ReportService implements it.
type Reports interface {
	MonthlySummary(ctx context.Context, year, month int) (core.MonthlySummary, error)
	Months(ctx context.Context, current string) ([]string, error)
}

// SettingsStore holds the bot settings. *storage.SQLiteRepository implements it.
type SettingsStore interface {
	BotSettings(ctx context.Context) (core.BotSettings, error)
	SaveBotSettings(ctx context.Context, s core.BotSettings) error
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BotStatus exposes the poller state. *bot.Poller implements it.
type BotStatus interface {
	State() bot.State
	IsRunning() bool
}

// Deps are the collaborators of the server. Health, Bot and Metrics are optional.
type Deps struct {
	Ledger   Ledger
	Reports  Reports
	Settings SettingsStore
	Health   Pinger
	Bot      BotStatus
	Metrics  *prometheus.Registry
	Logger   *log.Logger
	Location *time.Location
	Now      func() time.Time
}

// Options tune the middleware stack.
type Options struct {
	RateLimit      ratelimit.Config
	TrustedProxies []string
}

// Server wraps http.Server with the API routes and middleware.
type Server struct {
	http.Server

	ledger   Ledger
	reports  Reports
	settings SettingsStore
	health   Pinger
	bot      BotStatus
	location *time.Location
	now      func() time.Time

	limiter  *ratelimit.Limiter
	detector *security.Detector
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps, opts Options) *Server {
	s := &Server{
		ledger:   deps.Ledger,
		reports:  deps.Reports,
		settings: deps.Settings,
		health:   deps.Health,
		bot:      deps.Bot,
		location: deps.Location,
		now:      deps.Now,
		limiter:  ratelimit.NewLimiter(opts.RateLimit),
		detector: security.NewDetector(),
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			logger.WarnContext(context.Background(), "Ignoring trusted proxy", "cidr", cidr, "error", err)
		}
	}

	var reg prometheus.Registerer
	if deps.Metrics != nil {
		reg = deps.Metrics
	}
	metrics := newHTTPMetrics(reg)
	api := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		api.Handle(pattern, metrics.instrument(pattern, h))
	}
	route("GET /api/transactions", s.handleListTransactions)
	route("POST /api/transactions", s.handleCreateTransaction)
	route("GET /api/transactions/{id}", s.handleGetTransaction)
	route("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	route("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	route("GET /api/totals", s.handleTotals)
	route("GET /api/reports/monthly", s.handleMonthlyReport)
	route("GET /api/months", s.handleMonths)
	route("GET /api/categories", s.handleCategories)
	route("GET /api/settings/bot", s.handleGetBotSettings)
	route("PUT /api/settings/bot", s.handlePutBotSettings)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.limiter.Middleware(s.detector.ExtractClientIP, nil)(api))
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = log.RequestIDMiddleware(trace.FromRequest)(handler)
	handler = log.Middleware(logger.WithComponent(log.ComponentHTTP))(handler)
	handler = trace.NewMiddleware(s.detector.ExtractClientIP, logger).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Shutdown stops the server and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}

// today is the current calendar date in the ledger time zone.
func (s *Server) today() core.Date {
	return core.DateOf(s.now().In(s.location))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", "error", err)
			ErrorResponse(http.StatusServiceUnavailable, ErrorDetail{Code: CodeUnavailable, Message: "database unreachable"}).Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
