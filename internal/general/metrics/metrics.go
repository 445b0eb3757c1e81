package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the dispatch service exports.
type Metrics struct {
	registry *prometheus.Registry

	DispatchStarted   prometheus.Counter
	DispatchOutcomes  *prometheus.CounterVec // result: accepted | no_captains | timeout | cancelled | error
	RadiusExpansions  prometheus.Counter
	NotificationsSent *prometheus.CounterVec // outcome: sent | queued | dropped
	ActiveDispatchers prometheus.Gauge
	QueueDepth        prometheus.Gauge
	WSConnections     *prometheus.GaugeVec // kind: captain | passenger | admin
	TransfersSettled  *prometheus.CounterVec // kind: vault_deduction | commission | overage_refund
	TripTransitions   *prometheus.CounterVec // to: status literal
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DispatchStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_started_total",
			Help: "Dispatch loops started.",
		}),
		DispatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_outcomes_total",
			Help: "Dispatch loops finished, by result.",
		}, []string{"result"}),
		RadiusExpansions: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_radius_expansions_total",
			Help: "Search radius expansions across all dispatch loops.",
		}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_offers_total",
			Help: "Ride offers routed to captains, by outcome.",
		}, []string{"outcome"}),
		ActiveDispatchers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_active_loops",
			Help: "Dispatch loops currently running.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_queued_offers",
			Help: "Offers currently parked in captain queues.",
		}),
		WSConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Live WebSocket connections, by client kind.",
		}, []string{"kind"}),
		TransfersSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transfers_total",
			Help: "Completed ledger transfers, by kind.",
		}, []string{"kind"}),
		TripTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trip_transitions_total",
			Help: "Trip status transitions, by target status.",
		}, []string{"to"}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
