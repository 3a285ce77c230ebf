package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the indexer process.
type WorkerMetrics struct {
	registry *prometheus.Registry

	jobTotal        *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobInFlight     prometheus.Gauge
	passagesIndexed *prometheus.CounterVec
	queueLag        *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrag",
			Subsystem: "indexer",
			Name:      "jobs_total",
			Help:      "Total ingestion jobs by status.",
		},
		[]string{"service", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hrag",
			Subsystem: "indexer",
			Name:      "job_duration_seconds",
			Help:      "Ingestion job duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	jobInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hrag",
			Subsystem: "indexer",
			Name:      "jobs_in_flight",
			Help:      "Number of in-flight ingestion jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	passagesIndexed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrag",
			Subsystem: "indexer",
			Name:      "passages_indexed_total",
			Help:      "Passages written to the vector index.",
		},
		[]string{"service"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hrag",
			Subsystem: "indexer",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(jobTotal, jobDuration, jobInFlight, passagesIndexed, queueLag)

	return &WorkerMetrics{
		registry:        registry,
		jobTotal:        jobTotal,
		jobDuration:     jobDuration,
		jobInFlight:     jobInFlight,
		passagesIndexed: passagesIndexed,
		queueLag:        queueLag,
	}
}

func (m *WorkerMetrics) Registry() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(service string, indexed int, duration time.Duration, err error) {
	m.jobInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.jobTotal.WithLabelValues(service, status).Inc()
	m.jobDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if indexed > 0 {
		m.passagesIndexed.WithLabelValues(service).Add(float64(indexed))
	}
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
