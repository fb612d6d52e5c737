// Package metrics holds the Prometheus instruments for dispatch-proxy.
// The registry is always populated; whether it is ever served over
// HTTP depends on the operator passing --metrics-addr (spec_full §4.7).
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dispatchproxy/dispatch-proxy/internal/relay"
)

// Metrics bundles every instrument this proxy exports.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	BackendSelected     *prometheus.CounterVec
	EgressErrors        *prometheus.CounterVec
	ActiveRelays        prometheus.Gauge
}

// New registers all instruments against reg and returns the bundle.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatchproxy_connections_accepted_total",
			Help: "Total inbound SOCKS5 connections accepted.",
		}),
		BackendSelected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchproxy_backend_selected_total",
			Help: "Total times each backend was chosen by the dispatcher.",
		}, []string{"backend"}),
		EgressErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchproxy_egress_errors_total",
			Help: "Total egress failures, labeled by the SOCKS5 reply code they were mapped to.",
		}, []string{"reply_code"}),
		ActiveRelays: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatchproxy_active_relays",
			Help: "Number of relay goroutine pairs currently running.",
		}),
	}
}

// activeGauge adapts a prometheus.Gauge to relay.ActiveGauge without
// internal/relay needing to import prometheus.
type activeGauge struct{ g prometheus.Gauge }

func (a activeGauge) Inc() { a.g.Inc() }
func (a activeGauge) Dec() { a.g.Dec() }

// Active returns m's active-relay gauge adapted to relay.ActiveGauge.
func (m *Metrics) Active() relay.ActiveGauge {
	return activeGauge{m.ActiveRelays}
}

// IncConnectionsAccepted records one more accepted inbound connection.
func (m *Metrics) IncConnectionsAccepted() {
	m.ConnectionsAccepted.Inc()
}

// IncBackendSelected records one more dispatcher selection of backend.
func (m *Metrics) IncBackendSelected(backend string) {
	m.BackendSelected.WithLabelValues(backend).Inc()
}

// IncEgressError records one more egress failure mapped to the given
// SOCKS5 reply code.
func (m *Metrics) IncEgressError(replyCode byte) {
	m.EgressErrors.WithLabelValues(fmt.Sprintf("0x%02x", replyCode)).Inc()
}
