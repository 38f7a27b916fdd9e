package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
	"github.com/Sentinel-Gate/sentinel-bridge/internal/service"
	"github.com/Sentinel-Gate/sentinel-bridge/pkg/mcp"
)

const namespace = "sentinel_bridge"

// Metrics holds all Prometheus metrics for the bridge.
// It implements service.RelayMetrics so the relays can feed it directly.
type Metrics struct {
	FramesTotal          *prometheus.CounterVec
	ParseFailuresTotal   *prometheus.CounterVec
	EvaluationsTotal     *prometheus.CounterVec
	EvaluationDuration   prometheus.Histogram
	BlocksTotal          *prometheus.CounterVec
	GatewayFailuresTotal *prometheus.CounterVec
	RedactionsTotal      *prometheus.CounterVec
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		FramesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Frames relayed, by direction",
			},
			[]string{"direction"},
		),
		ParseFailuresTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_failures_total",
				Help:      "Frames forwarded raw because they did not parse",
			},
			[]string{"direction"},
		),
		EvaluationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Tool call evaluations, by action and stage",
			},
			[]string{"action", "stage"},
		),
		EvaluationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Time from frame read to decision",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		BlocksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_total",
				Help:      "Tool calls blocked, by stage",
			},
			[]string{"stage"},
		),
		GatewayFailuresTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_failures_total",
				Help:      "Checks that failed and were not enforced",
			},
			[]string{"op"}, // op=evaluate/scan
		),
		RedactionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redactions_total",
				Help:      "Response findings redacted, by pattern",
			},
			[]string{"pattern"},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dashboard_requests_total",
				Help:      "Dashboard HTTP requests",
			},
			[]string{"path", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dashboard_request_duration_seconds",
				Help:      "Dashboard request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}
}

// ObserverStats is the read side of the event observer.
type ObserverStats interface {
	ChannelDepth() int
	ChannelCapacity() int
	DroppedEvents() int64
	RecordedEvents() int64
}

// RegisterObserverMetrics exposes observer counters that are read on scrape.
func RegisterObserverMetrics(reg prometheus.Registerer, stats ObserverStats) {
	promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_dropped_events_total",
			Help:      "Events dropped due to backpressure",
		},
		func() float64 { return float64(stats.DroppedEvents()) },
	)
	promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_recorded_events_total",
			Help:      "Events accepted by the observer",
		},
		func() float64 { return float64(stats.RecordedEvents()) },
	)
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observer_queue_depth",
			Help:      "Events waiting to be flushed",
		},
		func() float64 { return float64(stats.ChannelDepth()) },
	)
}

// FrameRelayed implements service.RelayMetrics.
func (m *Metrics) FrameRelayed(dir mcp.Direction) {
	m.FramesTotal.WithLabelValues(dir.String()).Inc()
}

// FrameParseFailed implements service.RelayMetrics.
func (m *Metrics) FrameParseFailed(dir mcp.Direction) {
	m.ParseFailuresTotal.WithLabelValues(dir.String()).Inc()
}

// CallEvaluated implements service.RelayMetrics.
func (m *Metrics) CallEvaluated(d policy.Decision, latency time.Duration) {
	m.EvaluationsTotal.WithLabelValues(string(d.Action), d.Stage).Inc()
	m.EvaluationDuration.Observe(latency.Seconds())
}

// CallBlocked implements service.RelayMetrics.
func (m *Metrics) CallBlocked(stage string) {
	m.BlocksTotal.WithLabelValues(stage).Inc()
}

// GatewayFailed implements service.RelayMetrics.
func (m *Metrics) GatewayFailed(op string) {
	m.GatewayFailuresTotal.WithLabelValues(op).Inc()
}

// FindingRedacted implements service.RelayMetrics.
func (m *Metrics) FindingRedacted(pattern string) {
	if pattern == "" {
		pattern = "unknown"
	}
	m.RedactionsTotal.WithLabelValues(pattern).Inc()
}

var _ service.RelayMetrics = (*Metrics)(nil)
