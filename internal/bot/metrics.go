package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records poller activity. A nil Registerer builds unregistered collectors.
type Metrics struct {
	state               prometheus.Gauge
	cycles              *prometheus.CounterVec
	fetchFailures       *prometheus.CounterVec
	messages            *prometheus.CounterVec
	replyFailures       prometheus.Counter
	lastSuccessfulFetch prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		state: f.NewGauge(prometheus.GaugeOpts{
			Name: "jizhang_bot_poller_state",
			Help: "Bot poller state (0=idle, 1=polling, 2=degraded)",
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jizhang_bot_poll_cycles_total",
			Help: "Total number of polling cycles by outcome",
		}, []string{"outcome"}),
		fetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jizhang_bot_fetch_failures_total",
			Help: "Total number of failed update fetches",
		}, []string{"reason"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jizhang_bot_messages_total",
			Help: "Total number of chat messages handled by result",
		}, []string{"result"}),
		replyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "jizhang_bot_reply_failures_total",
			Help: "Total number of replies that could not be delivered",
		}),
		lastSuccessfulFetch: f.NewGauge(prometheus.GaugeOpts{
			Name: "jizhang_bot_last_successful_fetch_timestamp_seconds",
			Help: "Unix time of the last successful update fetch",
		}),
	}
}

func (m *Metrics) setState(s State) {
	m.state.Set(float64(s))
}

func (m *Metrics) cycle(outcome string) {
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) fetchFailed(reason string) {
	m.fetchFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) fetched() {
	m.lastSuccessfulFetch.SetToCurrentTime()
}

func (m *Metrics) message(result string) {
	m.messages.WithLabelValues(result).Inc()
}

func (m *Metrics) replyFailed() {
	m.replyFailures.Inc()
}
