package loader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded by Metrics.ObserveRequest.
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeEnqueued  = "enqueued"
	OutcomeCoalesced = "coalesced"
	OutcomeDropped   = "dropped"
)

// Metrics instruments the engine with prometheus. All methods are nil-safe
// so an engine without metrics pays only a nil check.
type Metrics struct {
	requests     *prometheus.CounterVec
	loads        *prometheus.CounterVec
	loadDuration prometheus.Histogram
	dispatched   prometheus.Counter
	requestDepth prometheus.Gauge
	pendingDepth prometheus.Gauge
}

// NewMetrics creates loader metrics registered on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asyncload",
			Subsystem: "loader",
			Name:      "requests_total",
			Help:      "Load requests by outcome.",
		}, []string{"outcome"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asyncload",
			Subsystem: "loader",
			Name:      "loads_total",
			Help:      "Completed worker loads by status.",
		}, []string{"status"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "asyncload",
			Subsystem: "loader",
			Name:      "load_duration_seconds",
			Help:      "Wall time of one worker load.",
			Buckets:   prometheus.DefBuckets,
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncload",
			Subsystem: "loader",
			Name:      "dispatched_total",
			Help:      "Completions delivered to clients.",
		}),
		requestDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asyncload",
			Subsystem: "loader",
			Name:      "request_queue_depth",
			Help:      "Requests waiting for a worker.",
		}),
		pendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asyncload",
			Subsystem: "loader",
			Name:      "completion_queue_depth",
			Help:      "Completions waiting for dispatch.",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.loads,
		m.loadDuration,
		m.dispatched,
		m.requestDepth,
		m.pendingDepth,
	)
	return m
}

func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLoad(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.loads.WithLabelValues(status).Inc()
	m.loadDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDispatch(n int) {
	if m == nil {
		return
	}
	m.dispatched.Add(float64(n))
}

func (m *Metrics) SetQueueDepths(requests, completions int) {
	if m == nil {
		return
	}
	m.requestDepth.Set(float64(requests))
	m.pendingDepth.Set(float64(completions))
}
