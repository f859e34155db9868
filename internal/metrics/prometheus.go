// internal/metrics/prometheus.go
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pointaged/internal/database"
)

// Prometheus metrics
var (
	PointageEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaged_pointage_events_total",
			Help: "Total clock events stored, by kind",
		},
		[]string{"kind", "source"},
	)

	HeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pointaged_heartbeats_total",
			Help: "Total heartbeats received from agents",
		},
	)

	ConnectedAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pointaged_connected_agents",
			Help: "Number of machines with a live WebSocket connection",
		},
	)

	DashboardClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pointaged_dashboard_clients",
			Help: "Number of subscribed dashboard WebSocket clients",
		},
	)

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaged_broadcasts_total",
			Help: "Total group broadcasts published, by message type",
		},
		[]string{"type"},
	)

	ActiveMachines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pointaged_active_machines_total",
			Help: "Number of machines currently in the active status",
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaged_alerts_total",
			Help: "Total alerts raised, by kind",
		},
		[]string{"kind"},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaged_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)
)

type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordPointage(kind, source string) {
	PointageEvents.WithLabelValues(kind, source).Inc()
}

func (c *Collector) RecordHeartbeat() {
	HeartbeatsTotal.Inc()
}

func (c *Collector) RecordBroadcast(msgType string) {
	BroadcastsTotal.WithLabelValues(msgType).Inc()
}

func (c *Collector) RecordAlert(kind string) {
	AlertsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) SetConnectedAgents(n int) {
	ConnectedAgents.Set(float64(n))
}

func (c *Collector) RecordDashboardClient(delta int) {
	DashboardClients.Add(float64(delta))
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	machines, err := c.store.GetMachines(ctx, database.MachineFilters{})
	if err != nil {
		DatabaseOperations.WithLabelValues("get_machines", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("get_machines", "success").Inc()

	active := 0
	for _, machine := range machines {
		if machine.Status == database.StatusActive {
			active++
		}
	}
	ActiveMachines.Set(float64(active))

	return nil
}
