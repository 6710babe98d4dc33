package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for Quasar metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	broadcastsTotal      *prometheus.CounterVec
	memberResponsesTotal *prometheus.CounterVec
	reductionsTotal      *prometheus.CounterVec
	tasksTotal           *prometheus.CounterVec
	announcesTotal       *prometheus.CounterVec

	// Histograms
	broadcastDuration *prometheus.HistogramVec
	handlerDuration   *prometheus.HistogramVec

	// Gauges
	uptime        prometheus.GaugeFunc
	members       prometheus.Gauge
	tasksInflight prometheus.Gauge
	inflight      prometheus.Gauge
}

// Default histogram buckets for broadcast duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	// Register default Go and process collectors
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		broadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcasts_total",
				Help:      "Total number of group broadcasts dispatched",
			},
			[]string{"transport", "status"},
		),

		memberResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "member_responses_total",
				Help:      "Per-member broadcast outcomes by kind",
			},
			[]string{"kind"},
		),

		reductionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reductions_total",
				Help:      "Reduction outcomes (resolved, absent)",
			},
			[]string{"result"},
		),

		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Background tasks completed by status",
			},
			[]string{"status"},
		),

		announcesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "announces_total",
				Help:      "Membership announcements by status",
			},
			[]string{"status"},
		),

		broadcastDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "broadcast_duration_milliseconds",
				Help:      "Duration of group broadcasts in milliseconds",
				Buckets:   buckets,
			},
			[]string{"transport"},
		),

		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_milliseconds",
				Help:      "Duration of local action handlers in milliseconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),

		members: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "members",
				Help:      "Group members currently known to discovery",
			},
		),

		tasksInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_inflight",
				Help:      "Background tasks currently running",
			},
		),

		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "broadcasts_inflight",
				Help:      "Broadcasts currently awaiting responses",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the daemon started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.broadcastsTotal,
		pm.memberResponsesTotal,
		pm.reductionsTotal,
		pm.tasksTotal,
		pm.announcesTotal,
		pm.broadcastDuration,
		pm.handlerDuration,
		pm.uptime,
		pm.members,
		pm.tasksInflight,
		pm.inflight,
	)

	promMetrics = pm
}

// RecordBroadcastResult records a broadcast in Prometheus collectors and the
// local snapshot.
func RecordBroadcastResult(action, transport, status string, durationMs int64) {
	global.RecordBroadcast(action, status, durationMs)
	if promMetrics == nil {
		return
	}
	promMetrics.broadcastsTotal.WithLabelValues(transport, status).Inc()
	promMetrics.broadcastDuration.WithLabelValues(transport).Observe(float64(durationMs))
	promMetrics.reductionsTotal.WithLabelValues(status).Inc()
}

// RecordMemberResponse records one per-member outcome kind.
func RecordMemberResponse(kind string) {
	global.RecordMemberRsp(kind)
	if promMetrics == nil {
		return
	}
	promMetrics.memberResponsesTotal.WithLabelValues(kind).Inc()
}

// RecordHandlerDuration records how long a local action handler ran.
func RecordHandlerDuration(action string, durationMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.handlerDuration.WithLabelValues(action).Observe(float64(durationMs))
}

// RecordAnnounce records a membership announcement attempt.
func RecordAnnounce(ok bool) {
	if promMetrics == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	promMetrics.announcesTotal.WithLabelValues(status).Inc()
}

// TaskStarted marks a background task as running.
func TaskStarted() {
	if promMetrics == nil {
		return
	}
	promMetrics.tasksInflight.Inc()
}

// TaskFinished marks a background task as done with the given status.
func TaskFinished(status string) {
	if promMetrics == nil {
		return
	}
	promMetrics.tasksInflight.Dec()
	promMetrics.tasksTotal.WithLabelValues(status).Inc()
}

// IncInflightBroadcasts increments the inflight broadcast gauge.
func IncInflightBroadcasts() {
	if promMetrics == nil {
		return
	}
	promMetrics.inflight.Inc()
}

// DecInflightBroadcasts decrements the inflight broadcast gauge.
func DecInflightBroadcasts() {
	if promMetrics == nil {
		return
	}
	promMetrics.inflight.Dec()
}

// SetMembers sets the discovered member count gauge.
func SetMembers(count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.members.Set(float64(count))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
