// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "regsync"

// Collector is a prometheus.Collector holding the pipeline metrics. All
// recording methods are safe to call on a nil *Collector.
type Collector struct {
	rowsWritten    *prometheus.CounterVec
	rowsSkipped    *prometheus.CounterVec
	batchErrors    *prometheus.CounterVec
	pagesFetched   prometheus.Counter
	published      prometheus.Counter
	handled        *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	topicBacklog   prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		rowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rows_written_total",
				Help:      "Rows written to the warehouse.",
			}, []string{"target"},
		),
		rowsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rows_skipped_total",
				Help:      "Rows skipped because their signature was already stored.",
			}, []string{"target"},
		),
		batchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batch_errors_total",
				Help:      "Write batches that failed.",
			}, []string{"target"},
		),
		pagesFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pages_fetched_total",
				Help:      "Search result pages fetched from the registry.",
			},
		),
		published: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_published_total",
				Help:      "Change events published to the topic.",
			},
		),
		handled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_handled_total",
				Help:      "Change events handled by the consumer.",
			}, []string{"disposition"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "deliveries_total",
				Help:      "Push delivery attempts by outcome.",
			}, []string{"outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by kind and status.",
			}, []string{"kind", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs.",
				Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 900, 3600},
			}, []string{"kind"},
		),
		topicBacklog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "topic_backlog",
				Help:      "Messages waiting for delivery.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served by route and status code.",
			}, []string{"route", "code"},
		),
	}
}

func (c *Collector) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.rowsWritten, c.rowsSkipped, c.batchErrors, c.pagesFetched, c.published,
		c.handled, c.deliveries, c.runs, c.runDuration, c.topicBacklog, c.httpRequests,
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.all() {
		m.Describe(ch)
	}
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.all() {
		m.Collect(ch)
	}
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (c *Collector) RowsWritten(target string, written, skipped, failedBatches int) {
	if c == nil {
		return
	}
	c.rowsWritten.WithLabelValues(target).Add(float64(written))
	c.rowsSkipped.WithLabelValues(target).Add(float64(skipped))
	c.batchErrors.WithLabelValues(target).Add(float64(failedBatches))
}

func (c *Collector) PageFetched() {
	if c == nil {
		return
	}
	c.pagesFetched.Inc()
}

func (c *Collector) EventPublished() {
	if c == nil {
		return
	}
	c.published.Inc()
}

func (c *Collector) EventHandled(disposition string) {
	if c == nil {
		return
	}
	c.handled.WithLabelValues(disposition).Inc()
}

func (c *Collector) Delivery(outcome string) {
	if c == nil {
		return
	}
	c.deliveries.WithLabelValues(outcome).Inc()
}

func (c *Collector) Backlog(n int) {
	if c == nil {
		return
	}
	c.topicBacklog.Set(float64(n))
}

// Run records a finished pipeline run.
func (c *Collector) Run(kind, status string, took time.Duration) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(kind, status).Inc()
	c.runDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (c *Collector) HTTPRequest(route string, code int) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, httpCode(code)).Inc()
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
