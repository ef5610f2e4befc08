package websocket

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "murmur"
	metricsSubsystem = "gateway"
)

// Metrics instruments the broadcast gateway.
type Metrics struct {
	// ConnectedClients is the number of registered connections.
	ConnectedClients prometheus.Gauge

	// Broadcasts counts events handed to Broadcast, by kind.
	Broadcasts *prometheus.CounterVec

	// Deliveries counts frames queued on a connection.
	Deliveries prometheus.Counter

	// SendFailures counts connections dropped because a frame could not be queued.
	SendFailures prometheus.Counter
}

// NewMetrics creates the gateway metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connected_clients",
			Help:      "Number of open WebSocket connections",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "broadcasts_total",
			Help:      "Mutation events broadcast, by kind",
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "deliveries_total",
			Help:      "Frames queued on a connection",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "send_failures_total",
			Help:      "Connections dropped because a frame could not be queued",
		}),
	}
	reg.MustRegister(m.ConnectedClients, m.Broadcasts, m.Deliveries, m.SendFailures)
	return m
}
