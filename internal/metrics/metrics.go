// Package metrics exposes run counters and latencies as Prometheus metrics.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "curator"

// Recorder owns a private registry and the curator collectors.
type Recorder struct {
	registry      *prometheus.Registry
	records       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	judgeRequests *prometheus.CounterVec
	judgeRetries  *prometheus.CounterVec
	judgeDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records that finished the pipeline, by outcome.",
		}, []string{"outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected records by reason group.",
		}, []string{"reason"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent applying a stage to one record, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		judgeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_requests_total",
			Help:      "Judgment requests by task and outcome.",
		}, []string{"task", "outcome"}),
		judgeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_retries_total",
			Help:      "Judgment request retries by task.",
		}, []string{"task"}),
		judgeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "judge_request_duration_seconds",
			Help:      "Judgment request latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"task"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_in_flight",
			Help:      "Records currently held by workers.",
		}),
	}
	r.registry.MustRegister(
		r.records,
		r.rejections,
		r.stageDuration,
		r.judgeRequests,
		r.judgeRetries,
		r.judgeDuration,
		r.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry for scraping and tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordOutcome counts a finished record. reason is the rejection reason
// group and is ignored for accepted records.
func (r *Recorder) RecordOutcome(outcome, reason string) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(outcome).Inc()
	if reason != "" {
		r.rejections.WithLabelValues(reason).Inc()
	}
}

// ObserveStage records how long a stage took for one record.
func (r *Recorder) ObserveStage(stage string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// InFlight adjusts the in-flight gauge.
func (r *Recorder) InFlight(delta int) {
	if r == nil {
		return
	}
	r.inFlight.Add(float64(delta))
}

// JudgeRequest counts a finished judgment request.
func (r *Recorder) JudgeRequest(task, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.judgeRequests.WithLabelValues(task, outcome).Inc()
	r.judgeDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

// JudgeRetry counts one retried judgment attempt.
func (r *Recorder) JudgeRetry(task string) {
	if r == nil {
		return
	}
	r.judgeRetries.WithLabelValues(task).Inc()
}
