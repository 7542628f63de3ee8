// Package metrics Prometheus 指标导出
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含流水线全部指标
type Metrics struct {
	// 发布指标
	PublishTotal   *prometheus.CounterVec
	PublishLatency prometheus.Histogram

	// 消费/投影指标
	ConsumeTotal    *prometheus.CounterVec
	ProjectionTotal *prometheus.CounterVec
	ProjectLatency  prometheus.Histogram
	DeadLetterTotal *prometheus.CounterVec
	ConsumerBacklog prometheus.Gauge
	IdentityErrors  prometheus.Counter

	// 作业指标
	JobEventsRead    *prometheus.CounterVec
	JobEventsApplied *prometheus.CounterVec
	JobErrors        *prometheus.CounterVec
	JobsRunning      prometheus.Gauge

	// 限流指标
	ThrottleWaits  prometheus.Counter
	ThrottleWaited prometheus.Histogram
}

// New 创建指标实例
//
// component 作为常量标签区分 ingestor / consumer / jobrunner 进程。
func New(namespace, component string) *Metrics {
	labels := prometheus.Labels{"component": component}

	return &Metrics{
		PublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "publish_total",
				Help:        "Total publish attempts by outcome and error code",
				ConstLabels: labels,
			},
			[]string{"outcome", "error_code"},
		),
		PublishLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "publish_latency_seconds",
				Help:        "Publish latency in seconds",
				Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
				ConstLabels: labels,
			},
		),
		ConsumeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "consume_total",
				Help:        "Total push deliveries by ack decision",
				ConstLabels: labels,
			},
			[]string{"decision"},
		),
		ProjectionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "projection_total",
				Help:        "Total projection applies by event type and outcome",
				ConstLabels: labels,
			},
			[]string{"event_type", "outcome"},
		),
		ProjectLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "projection_latency_seconds",
				Help:        "Projection apply latency in seconds",
				Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
				ConstLabels: labels,
			},
		),
		DeadLetterTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "deadletter_total",
				Help:        "Total messages routed to dead letter by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		IdentityErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "push_identity_errors_total",
				Help:        "Push deliveries rejected by endpoint auth (401/403), needs operator attention",
				ConstLabels: labels,
			},
		),
		ConsumerBacklog: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "consumer_backlog",
				Help:        "Pending messages on the live subscription",
				ConstLabels: labels,
			},
		),
		JobEventsRead: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "job_events_read_total",
				Help:        "Total events read by job kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		JobEventsApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "job_events_applied_total",
				Help:        "Total events applied by job kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		JobErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "job_errors_total",
				Help:        "Total job errors by kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		JobsRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "jobs_running",
				Help:        "Number of currently running jobs",
				ConstLabels: labels,
			},
		),
		ThrottleWaits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "throttle_waits_total",
				Help:        "Total writes delayed by the governor",
				ConstLabels: labels,
			},
		),
		ThrottleWaited: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "throttle_wait_seconds",
				Help:        "Time spent waiting on the governor",
				Buckets:     []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
				ConstLabels: labels,
			},
		),
	}
}

// RecordPublish 记录发布尝试
func (m *Metrics) RecordPublish(outcome, errorCode string, latency time.Duration) {
	m.PublishTotal.WithLabelValues(outcome, errorCode).Inc()
	m.PublishLatency.Observe(latency.Seconds())
}

// RecordConsume 记录一次推送投递的 ack 决策
func (m *Metrics) RecordConsume(decision string) {
	m.ConsumeTotal.WithLabelValues(decision).Inc()
}

// RecordProjection 记录投影结果
func (m *Metrics) RecordProjection(eventType, outcome string) {
	m.ProjectionTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordIdentityError 记录推送端点认证失败
func (m *Metrics) RecordIdentityError() {
	m.IdentityErrors.Inc()
}

// RecordDeadLetter 记录死信
func (m *Metrics) RecordDeadLetter(reason string) {
	m.DeadLetterTotal.WithLabelValues(reason).Inc()
}

// RecordJobProgress 记录作业进度
func (m *Metrics) RecordJobProgress(kind string, read, applied, errs int64) {
	m.JobEventsRead.WithLabelValues(kind).Add(float64(read))
	m.JobEventsApplied.WithLabelValues(kind).Add(float64(applied))
	if errs > 0 {
		m.JobErrors.WithLabelValues(kind).Add(float64(errs))
	}
}

// RecordThrottle 记录限流等待
func (m *Metrics) RecordThrottle(waited time.Duration) {
	m.ThrottleWaits.Inc()
	m.ThrottleWaited.Observe(waited.Seconds())
}

// Handler 返回 Prometheus HTTP Handler
func Handler() http.Handler {
	return promhttp.Handler()
}
