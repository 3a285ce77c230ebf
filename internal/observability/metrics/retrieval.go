package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

// RetrievalMetrics records the hybrid retrieval pipeline: per-channel
// latency and hit counts, rerank outcomes, and upstream retry/breaker events.
type RetrievalMetrics struct {
	service string

	channelDuration *prometheus.HistogramVec
	channelHits     *prometheus.HistogramVec
	channelErrors   *prometheus.CounterVec
	retrievalTotal  *prometheus.CounterVec
	retrievalTime   *prometheus.HistogramVec
	rerankTotal     *prometheus.CounterVec
	retryTotal      *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

func NewRetrievalMetrics(service string, registerer prometheus.Registerer) *RetrievalMetrics {
	channelDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hrag",
			Subsystem: "retrieval",
			Name:      "channel_duration_seconds",
			Help:      "Retrieval channel latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"service", "channel"},
	)
	channelHits := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hrag",
			Subsystem: "retrieval",
			Name:      "channel_hits",
			Help:      "Candidates returned per retrieval channel.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "channel"},
	)
	channelErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrag",
			Subsystem: "retrieval",
			Name:      "channel_errors_total",
			Help:      "Retrieval channel failures.",
		},
		[]string{"service", "channel"},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrag",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Retrieval queries by status.",
		},
		[]string{"service", "status"},
	)
	retrievalTime := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hrag",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "End-to-end retrieval latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	rerankTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrag",
			Subsystem: "rerank",
			Name:      "outcomes_total",
			Help:      "Rerank attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	retryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hrag",
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Retried upstream calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hrag",
			Subsystem: "upstream",
			Name:      "breaker_open",
			Help:      "1 when the circuit breaker of an operation is open.",
		},
		[]string{"service", "operation"},
	)

	if registerer != nil {
		registerer.MustRegister(
			channelDuration,
			channelHits,
			channelErrors,
			retrievalTotal,
			retrievalTime,
			rerankTotal,
			retryTotal,
			breakerState,
		)
	}

	return &RetrievalMetrics{
		service:         service,
		channelDuration: channelDuration,
		channelHits:     channelHits,
		channelErrors:   channelErrors,
		retrievalTotal:  retrievalTotal,
		retrievalTime:   retrievalTime,
		rerankTotal:     rerankTotal,
		retryTotal:      retryTotal,
		breakerState:    breakerState,
	}
}

func (m *RetrievalMetrics) ObserveChannel(channel domain.Channel, hits int, duration time.Duration, err error) {
	label := string(channel)
	m.channelDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
	if err != nil {
		m.channelErrors.WithLabelValues(m.service, label).Inc()
		return
	}
	m.channelHits.WithLabelValues(m.service, label).Observe(float64(hits))
}

func (m *RetrievalMetrics) ObserveRetrieval(status domain.RetrievalStatus, duration time.Duration, err error) {
	label := string(status)
	if err != nil {
		label = "error"
	}
	m.retrievalTotal.WithLabelValues(m.service, label).Inc()
	m.retrievalTime.WithLabelValues(m.service).Observe(duration.Seconds())
}

func (m *RetrievalMetrics) ObserveRerank(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.rerankTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *RetrievalMetrics) ObserveRetry(operation string) {
	m.retryTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *RetrievalMetrics) ObserveBreakerState(operation string, state string) {
	value := 0.0
	if state == "open" {
		value = 1
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}
