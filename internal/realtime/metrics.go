package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections_active",
		Help: "Open real-time connections joined to a room.",
	})
	roomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_rooms_active",
		Help: "Conversations with at least one open connection.",
	})
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Events enqueued to connections, by event type.",
		},
		[]string{"type"},
	)
	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_dropped_total",
			Help: "Events not delivered to a connection, by reason.",
		},
		[]string{"reason"},
	)
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_rejections_total",
			Help: "Refused real-time handshakes, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(connectionsActive, roomsActive, deliveries, dropped, rejections)
}
