package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector defines the interface for collecting outbox metrics
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordOutboxLag(lag int)
	RecordPublishAttempt(eventType string, attempt int, success bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventProcessed(string, bool, time.Duration) {}
func (NoOpMetricsCollector) RecordBatchProcessed(int, time.Duration)          {}
func (NoOpMetricsCollector) RecordOutboxLag(int)                              {}
func (NoOpMetricsCollector) RecordPublishAttempt(string, int, bool)           {}

// MetricPublisher wraps a Publisher with metrics collection
type MetricPublisher struct {
	publisher Publisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher Publisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	start := time.Now()
	err := p.publisher.Publish(ctx, event)
	p.metrics.RecordEventProcessed(event.EventType, err == nil, time.Since(start))
	return err
}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	eventCounter    *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	outboxLag       prometheus.Gauge
	publishAttempts *prometheus.CounterVec
}

// NewPrometheusMetrics registers the outbox collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		eventCounter: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispute_outbox_events_published_total",
			Help: "Outbox events handed to the broker, by type and status",
		}, []string{"event_type", "status"}),
		eventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispute_outbox_publish_duration_seconds",
			Help:    "Time spent publishing one outbox event",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispute_outbox_batch_size",
			Help:    "Number of unsent events picked up per fallback poll",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispute_outbox_batch_duration_seconds",
			Help:    "Time spent draining one fallback batch",
			Buckets: prometheus.DefBuckets,
		}),
		outboxLag: f.NewGauge(prometheus.GaugeOpts{
			Name: "dispute_outbox_pending_events",
			Help: "Unsent rows in dispute_outbox",
		}),
		publishAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispute_outbox_publish_attempts_total",
			Help: "Publish attempts, by type, attempt number and status",
		}, []string{"event_type", "attempt", "status"}),
	}
}

func (m *PrometheusMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	m.eventCounter.WithLabelValues(eventType, status(success)).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBatchProcessed(count int, duration time.Duration) {
	m.batchSize.Observe(float64(count))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordOutboxLag(lag int) {
	m.outboxLag.Set(float64(lag))
}

func (m *PrometheusMetrics) RecordPublishAttempt(eventType string, attempt int, success bool) {
	m.publishAttempts.WithLabelValues(eventType, strconv.Itoa(attempt), status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
