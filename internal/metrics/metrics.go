// Package metrics defines the client-side Prometheus instruments.
//
// The client does not serve a /metrics endpoint itself; the registry is
// exposed so an embedding process can scrape or push it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds counters for the session and realtime layers.
type Metrics struct {
	registry *prometheus.Registry

	// RefreshTotal counts token-refresh attempts by result ("ok", "fail").
	RefreshTotal *prometheus.CounterVec

	// ReplayTotal counts requests replayed after a successful refresh.
	ReplayTotal prometheus.Counter

	// AuthFailureTotal counts terminal authentication failures (forced logouts).
	AuthFailureTotal prometheus.Counter

	// ReconnectTotal counts scheduled websocket reconnects by channel.
	ReconnectTotal *prometheus.CounterVec

	// EventsTotal counts inbound websocket events by channel and result
	// ("dispatched", "dropped").
	EventsTotal *prometheus.CounterVec
}

// New constructs the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_token_refresh_total",
			Help: "Token refresh attempts by result.",
		}, []string{"result"}),

		ReplayTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "campus_request_replay_total",
			Help: "Requests replayed after a successful token refresh.",
		}),

		AuthFailureTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "campus_auth_failure_total",
			Help: "Terminal authentication failures forcing logout.",
		}),

		ReconnectTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_ws_reconnect_total",
			Help: "Scheduled websocket reconnect attempts by channel.",
		}, []string{"channel"}),

		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campus_ws_events_total",
			Help: "Inbound websocket events by channel and result.",
		}, []string{"channel", "result"}),
	}
}

// Registry returns the backing registry for scraping or pushing.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
