package monitoring

import (
	"roomrelay/internal/infrastructure/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports relay counters. It implements signal.Metrics.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	roomsActive       prometheus.Gauge

	framesReceived *prometheus.CounterVec
	framesRejected *prometheus.CounterVec

	sendsDropped          prometheus.Counter
	commentPersistFailure prometheus.Counter
	breakerState          *prometheus.GaugeVec
}

var _ signal.Metrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the relay metrics with reg, or with the
// default registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_connections_active",
			Help: "Number of open relay connections",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_connections_total",
			Help: "Total number of accepted relay connections",
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_rooms_active",
			Help: "Number of rooms in the registry",
		}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_frames_received_total",
			Help: "Inbound frames accepted by the router, by type",
		}, []string{"frame_type"}),

		framesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_frames_rejected_total",
			Help: "Inbound frames rejected or dropped, by reason",
		}, []string{"reason"}),

		sendsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_sends_dropped_total",
			Help: "Outbound frames dropped because a peer queue was full or closed",
		}),

		commentPersistFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_comment_persist_failures_total",
			Help: "Comments delivered live but not written to the comment store",
		}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomrelay_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) SetRooms(n int) {
	p.roomsActive.Set(float64(n))
}

func (p *PrometheusCollector) FrameReceived(frameType string) {
	p.framesReceived.WithLabelValues(frameType).Inc()
}

func (p *PrometheusCollector) FrameRejected(reason string) {
	p.framesRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) SendDropped() {
	p.sendsDropped.Inc()
}

func (p *PrometheusCollector) CommentPersistFailed() {
	p.commentPersistFailure.Inc()
}

func (p *PrometheusCollector) SetBreakerState(name string, state float64) {
	p.breakerState.WithLabelValues(name).Set(state)
}
