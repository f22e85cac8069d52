// Package metrics exposes Prometheus instrumentation for the trade server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the trade server's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so wiring stays optional in tests.
type Metrics struct {
	playersConnected  prometheus.Gauge
	activeSessions    prometheus.Gauge
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsCancelled *prometheus.CounterVec
	commitConflicts   prometheus.Counter
	rejectedMessages  *prometheus.CounterVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		playersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradepost_players_connected",
			Help: "Number of currently connected players.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradepost_active_sessions",
			Help: "Number of trade sessions currently negotiating or committing.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradepost_sessions_started_total",
			Help: "Trade sessions created since server start.",
		}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradepost_sessions_completed_total",
			Help: "Trade sessions that committed successfully.",
		}),
		sessionsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradepost_sessions_cancelled_total",
			Help: "Trade sessions cancelled, by reason.",
		}, []string{"reason"}),
		commitConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradepost_commit_conflicts_total",
			Help: "Commit attempts rejected because holdings changed underneath the trade.",
		}),
		rejectedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradepost_rejected_messages_total",
			Help: "Protocol messages rejected, by error code.",
		}, []string{"code"}),
	}
	reg.MustRegister(
		m.playersConnected,
		m.activeSessions,
		m.sessionsStarted,
		m.sessionsCompleted,
		m.sessionsCancelled,
		m.commitConflicts,
		m.rejectedMessages,
	)
	return m
}

// Handler serves the default registry at /metrics.
func Handler() http.Handler { return promhttp.Handler() }

func (m *Metrics) PlayerConnected() {
	if m != nil {
		m.playersConnected.Inc()
	}
}

func (m *Metrics) PlayerDisconnected() {
	if m != nil {
		m.playersConnected.Dec()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionCompleted() {
	if m != nil {
		m.sessionsCompleted.Inc()
		m.activeSessions.Dec()
	}
}

func (m *Metrics) SessionCancelled(reason string) {
	if m != nil {
		m.sessionsCancelled.WithLabelValues(reason).Inc()
		m.activeSessions.Dec()
	}
}

func (m *Metrics) CommitConflict() {
	if m != nil {
		m.commitConflicts.Inc()
	}
}

func (m *Metrics) MessageRejected(code string) {
	if m != nil {
		m.rejectedMessages.WithLabelValues(code).Inc()
	}
}
