// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"igharvest/internal/pipeline"
	"igharvest/internal/session"
	errs "igharvest/pkg/errors"
)

const namespace = "igharvest"

// Collector records session, pipeline and HTTP metrics. It implements
// session.Observer and pipeline.Recorder.
type Collector struct {
	reg prometheus.Registerer

	upstreamCalls    *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	sessionState     prometheus.Gauge
	loginAttempts    *prometheus.CounterVec
	pipelineRuns     prometheus.Counter
	pipelineTargets  *prometheus.CounterVec
	pipelineItems    *prometheus.CounterVec
	productsStored   prometheus.Counter
	pipelineDuration prometheus.Histogram
	lastRun          prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Upstream calls dispatched by the session service, by operation and outcome.",
		}, []string{"op", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Latency of upstream calls including queueing.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Session state: 0 anonymous, 1 pending second factor, 2 authenticated.",
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login and second-factor submissions by outcome.",
		}, []string{"step", "outcome"}),
		pipelineRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Completed extraction batches.",
		}),
		pipelineTargets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_targets_total",
			Help:      "Targets processed by the extraction pipeline.",
		}, []string{"outcome"}),
		pipelineItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_items_total",
			Help:      "Media items processed by the extraction pipeline.",
		}, []string{"outcome"}),
		productsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_stored_total",
			Help:      "Products upserted by the extraction pipeline.",
		}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Duration of extraction batches.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_last_run_timestamp_seconds",
			Help:      "Unix time the last extraction batch finished.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.upstreamCalls,
		c.upstreamLatency,
		c.sessionState,
		c.loginAttempts,
		c.pipelineRuns,
		c.pipelineTargets,
		c.pipelineItems,
		c.productsStored,
		c.pipelineDuration,
		c.lastRun,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// ObserveCall records one dispatched upstream call.
func (c *Collector) ObserveCall(op string, duration time.Duration, err error) {
	c.upstreamCalls.WithLabelValues(op, outcome(err)).Inc()
	c.upstreamLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveState records a session state change.
func (c *Collector) ObserveState(state session.State) {
	c.sessionState.Set(float64(state))
}

// RecordLogin records a login step ("password" or "code").
func (c *Collector) RecordLogin(step string, err error) {
	c.loginAttempts.WithLabelValues(step, outcome(err)).Inc()
}

// RecordRun records a finished extraction batch.
func (c *Collector) RecordRun(s pipeline.Summary) {
	c.pipelineRuns.Inc()
	c.pipelineTargets.WithLabelValues("ok").Add(float64(s.TargetsOK))
	c.pipelineTargets.WithLabelValues("failed").Add(float64(s.TargetsFailed))
	c.pipelineTargets.WithLabelValues("skipped").Add(float64(s.TargetsSkipped))
	c.pipelineItems.WithLabelValues("ok").Add(float64(s.ItemsOK))
	c.pipelineItems.WithLabelValues("failed").Add(float64(s.ItemsFailed))
	c.pipelineItems.WithLabelValues("skipped").Add(float64(s.ItemsSkipped))
	c.productsStored.Add(float64(s.ProductsStored))
	c.pipelineDuration.Observe(s.Duration().Seconds())
	c.lastRun.Set(float64(s.FinishedAt.Unix()))
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// RegisterPoolStats exposes worker pool occupancy read from stats on scrape.
func (c *Collector) RegisterPoolStats(stats func() (active, queued, size int)) {
	c.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workpool_active_tasks",
			Help:      "Tasks currently running on the session worker pool.",
		}, func() float64 { a, _, _ := stats(); return float64(a) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workpool_queued_tasks",
			Help:      "Tasks waiting for a worker.",
		}, func() float64 { _, q, _ := stats(); return float64(q) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workpool_workers",
			Help:      "Size of the session worker pool.",
		}, func() float64 { _, _, s := stats(); return float64(s) }),
	)
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errs.TypeOf(err))
}
