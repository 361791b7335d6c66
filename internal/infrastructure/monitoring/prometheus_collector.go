package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"slateboard/internal/core/ports"
)

// PrometheusCollector implements the engine's metrics port with
// prometheus instruments.
type PrometheusCollector struct {
	boardsActive     prometheus.Gauge
	membersConnected prometheus.Gauge

	boardsOpenedTotal  prometheus.Counter
	boardsEvictedTotal prometheus.Counter

	mutationsAccepted *prometheus.CounterVec
	mutationsRejected *prometheus.CounterVec

	fanoutSubscribers prometheus.Histogram

	storageWriteErrors prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		boardsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "slateboard_boards_active",
			Help: "Number of boards with a live session",
		}),

		membersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "slateboard_members_connected",
			Help: "Number of participants currently joined to a board",
		}),

		boardsOpenedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "slateboard_boards_opened_total",
			Help: "Total number of board sessions opened",
		}),

		boardsEvictedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "slateboard_boards_evicted_total",
			Help: "Total number of board sessions evicted after emptying",
		}),

		mutationsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "slateboard_mutations_accepted_total",
			Help: "Accepted element mutations by kind",
		}, []string{"kind"}),

		mutationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "slateboard_mutations_rejected_total",
			Help: "Rejected element mutations by reason",
		}, []string{"reason"}),

		fanoutSubscribers: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "slateboard_fanout_subscribers",
			Help:    "Subscriber count observed per mutation fan-out",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		storageWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "slateboard_storage_write_errors_total",
			Help: "Failed persistence writes (manifest or snapshot)",
		}),
	}
}

func (p *PrometheusCollector) BoardOpened() {
	p.boardsOpenedTotal.Inc()
	p.boardsActive.Inc()
}

func (p *PrometheusCollector) BoardEvicted() {
	p.boardsEvictedTotal.Inc()
	p.boardsActive.Dec()
}

func (p *PrometheusCollector) MemberJoined() {
	p.membersConnected.Inc()
}

func (p *PrometheusCollector) MemberLeft() {
	p.membersConnected.Dec()
}

func (p *PrometheusCollector) MutationAccepted(kind string) {
	p.mutationsAccepted.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) MutationRejected(reason string) {
	p.mutationsRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) FanoutObserved(subscribers int) {
	p.fanoutSubscribers.Observe(float64(subscribers))
}

func (p *PrometheusCollector) StorageWriteError() {
	p.storageWriteErrors.Inc()
}

var _ ports.Metrics = (*PrometheusCollector)(nil)
