// Package metrics exposes portal activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantumportal/quantumportal/internal/quantum"
)

const namespace = "quantumportal"

// Metrics holds the portal collectors on its own registry. It satisfies
// session.Observer and contact.Observer.
type Metrics struct {
	registry *prometheus.Registry

	actions       *prometheus.CounterVec
	measurements  *prometheus.CounterVec
	collapses     prometheus.Counter
	boxOutcomes   *prometheus.CounterVec
	liveSessions  prometheus.Gauge
	wsConnections prometheus.Gauge
	submissions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: action (store action name)
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "actions_total",
			Help:      "Actions dispatched to session stores",
		}, []string{"action"}),

		// Labels: outcome (0, 1)
		measurements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qubit",
			Name:      "measurements_total",
			Help:      "Qubit measurements by outcome",
		}, []string{"outcome"}),

		collapses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wave",
			Name:      "collapses_total",
			Help:      "Sessions whose wave function collapsed",
		}),

		// Labels: outcome (alive, dead)
		boxOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "box",
			Name:      "outcomes_total",
			Help:      "Schrodinger box openings by outcome",
		}, []string{"outcome"}),

		liveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "live",
			Help:      "Sessions currently held in memory",
		}),

		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open WebSocket connections",
		}),

		// Labels: result (stored, invalid, failed)
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contact",
			Name:      "submissions_total",
			Help:      "Contact form submissions by result",
		}, []string{"result"}),

		// Labels: output, status (sent, failed)
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contact",
			Name:      "notifications_total",
			Help:      "Contact notifications by output and status",
		}, []string{"output", "status"}),
	}
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ActionDispatched counts a reduced action.
func (m *Metrics) ActionDispatched(a quantum.Action, prev, next quantum.UIState) {
	m.actions.WithLabelValues(a.Type()).Inc()

	switch a := a.(type) {
	case quantum.IncrementMeasurement:
		if next.Tally != prev.Tally {
			m.measurements.WithLabelValues(strconv.Itoa(int(a.Outcome))).Inc()
		}
	case quantum.CollapseWave:
		if !prev.WaveCollapsed && next.WaveCollapsed {
			m.collapses.Inc()
		}
	}
}

// BoxResolved counts a box outcome.
func (m *Metrics) BoxResolved(outcome quantum.BoxPhase) {
	m.boxOutcomes.WithLabelValues(outcome.String()).Inc()
}

// SessionsChanged records the number of live sessions.
func (m *Metrics) SessionsChanged(live int) {
	m.liveSessions.Set(float64(live))
}

// ConnectionOpened and ConnectionClosed track WebSocket connections.
func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }

func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }

// SubmissionHandled counts a contact submission result.
func (m *Metrics) SubmissionHandled(result string) {
	m.submissions.WithLabelValues(result).Inc()
}

// NotificationSent counts a notification attempt.
func (m *Metrics) NotificationSent(output string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notifications.WithLabelValues(output, status).Inc()
}
