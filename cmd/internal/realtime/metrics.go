package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the fan-out engine's Prometheus instruments. A nil *Metrics
// is valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	RoomsActive     prometheus.Gauge
	Broadcasts      *prometheus.CounterVec
	DeliveryDrops   prometheus.Counter
	OpsTotal        *prometheus.CounterVec
	UpgradesRefused *prometheus.CounterVec
}

// NewMetrics registers the realtime instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "parley_ws_sessions_active",
			Help: "Currently registered realtime sessions.",
		}),
		RoomsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "parley_ws_rooms_active",
			Help: "Rooms with at least one live session.",
		}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_broadcast_total",
			Help: "Broadcast envelopes dispatched, by kind.",
		}, []string{"kind"}),
		DeliveryDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_broadcast_drop_total",
			Help: "Per-recipient delivery failures during broadcast.",
		}),
		OpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_message_ops_total",
			Help: "Message operations processed, by method and outcome.",
		}, []string{"method", "outcome"}),
		UpgradesRefused: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_ws_upgrades_refused_total",
			Help: "Websocket upgrade attempts refused, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) roomCount(n int) {
	if m == nil {
		return
	}
	m.RoomsActive.Set(float64(n))
}

func (m *Metrics) broadcast(kind string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(kind).Inc()
}

func (m *Metrics) deliveryDrop() {
	if m == nil {
		return
	}
	m.DeliveryDrops.Inc()
}

func (m *Metrics) op(method, outcome string) {
	if m == nil {
		return
	}
	m.OpsTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) upgradeRefused(reason string) {
	if m == nil {
		return
	}
	m.UpgradesRefused.WithLabelValues(reason).Inc()
}
