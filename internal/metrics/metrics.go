package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "presence"

var (
	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_failures_total",
		Help:      "Connection sends that failed and led to eviction, by broadcast scope.",
	}, []string{"scope"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Presence store operations that failed, by operation.",
	}, []string{"op"})

	FramesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_relayed_total",
		Help:      "Inbound client frames relayed to a room.",
	})
)

// Stats is the live view the gauges read on every scrape.
type Stats interface {
	ActiveRoomCount() int
	TotalConnectionCount() int
}

// RegisterStats exposes room and connection gauges backed by s.
func RegisterStats(reg prometheus.Registerer, s Stats) error {
	rooms := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Rooms with at least one live connection.",
	}, func() float64 { return float64(s.ActiveRoomCount()) })

	conns := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Live connections across all rooms.",
	}, func() float64 { return float64(s.TotalConnectionCount()) })

	if err := reg.Register(rooms); err != nil {
		return err
	}
	return reg.Register(conns)
}

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
