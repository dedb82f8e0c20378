// Package metrics exports coordinator activity to Prometheus.
package metrics

import (
	"context"
	"net/http"

	session "github.com/goliatone/go-auth-session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var stateKinds = []session.StateKind{
	session.StateUnknown,
	session.StateAnonymous,
	session.StateAuthenticated,
}

// Metrics holds the session Prometheus metrics. It is both a
// session.ActivitySink and a session.Observer.
type Metrics struct {
	OperationsTotal  *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec

	SessionState      *prometheus.GaugeVec
	PendingOperations prometheus.Gauge
	Recovering        prometheus.Gauge
}

// NewMetrics creates and registers all session metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_session_operations_total",
				Help: "Total number of coordinator operations",
			},
			[]string{"operation", "outcome"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_session_errors_total",
				Help: "Total number of failed operations by error kind",
			},
			[]string{"operation", "error_code"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_session_transitions_total",
				Help: "Total number of session state transitions",
			},
			[]string{"from", "to"},
		),
		SessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "auth_session_state",
				Help: "Current session state, 1 for the active kind",
			},
			[]string{"state"},
		),
		PendingOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "auth_session_pending_operations",
				Help: "Number of operations in flight",
			},
		),
		Recovering: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "auth_session_recovering",
				Help: "1 while a password recovery context is open",
			},
		),
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.ErrorsTotal,
		m.TransitionsTotal,
		m.SessionState,
		m.PendingOperations,
		m.Recovering,
	)

	return m
}

var _ session.ActivitySink = (*Metrics)(nil)

// Record counts an activity event.
func (m *Metrics) Record(_ context.Context, event session.ActivityEvent) error {
	if event.EventType == session.ActivityEventStateChanged {
		m.TransitionsTotal.WithLabelValues(string(event.FromState), string(event.ToState)).Inc()
		return nil
	}

	if event.Operation == "" {
		return nil
	}

	m.OperationsTotal.WithLabelValues(string(event.Operation), string(event.Outcome)).Inc()
	if event.Outcome == session.OutcomeFailure {
		code := event.ErrorCode
		if code == "" {
			code = "unknown"
		}
		m.ErrorsTotal.WithLabelValues(string(event.Operation), code).Inc()
	}
	return nil
}

// Observe updates the gauges from a snapshot.
func (m *Metrics) Observe(s session.Snapshot) {
	current := s.State.Kind
	if current == "" {
		current = session.StateUnknown
	}
	for _, kind := range stateKinds {
		value := 0.0
		if kind == current {
			value = 1
		}
		m.SessionState.WithLabelValues(string(kind)).Set(value)
	}

	m.PendingOperations.Set(float64(len(s.Pending)))
	if s.Recovering {
		m.Recovering.Set(1)
	} else {
		m.Recovering.Set(0)
	}
}

// Attach keeps the gauges in sync with c until the subscription is released.
func (m *Metrics) Attach(c *session.Coordinator) session.Subscription {
	return c.Subscribe(m.Observe)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
