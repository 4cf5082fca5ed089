package metrics

import "github.com/prometheus/client_golang/prometheus"

// Exporter adapts a Collector snapshot to the Prometheus pull model.  The
// collector itself stays free of registry types on the hot path; all
// conversion happens at scrape time.
type Exporter struct {
	collector *Collector

	requests      *prometheus.Desc
	completions   *prometheus.Desc
	errors        *prometheus.Desc
	cancellations *prometheus.Desc
	toolCalls     *prometheus.Desc
	approvals     *prometheus.Desc
	rejections    *prometheus.Desc
	dropped       *prometheus.Desc
	latency       *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

func NewExporter(c *Collector) *Exporter {
	return &Exporter{
		collector: c,
		requests: prometheus.NewDesc("inferbridge_requests_total",
			"Chat requests submitted.", nil, nil),
		completions: prometheus.NewDesc("inferbridge_completions_total",
			"Requests that reached Done.", nil, nil),
		errors: prometheus.NewDesc("inferbridge_errors_total",
			"Requests terminated with an error.", nil, nil),
		cancellations: prometheus.NewDesc("inferbridge_cancellations_total",
			"Requests cancelled by the caller.", nil, nil),
		toolCalls: prometheus.NewDesc("inferbridge_tool_calls_total",
			"Tool calls announced by the server.", nil, nil),
		approvals: prometheus.NewDesc("inferbridge_tool_approvals_total",
			"Tool calls approved.", nil, nil),
		rejections: prometheus.NewDesc("inferbridge_tool_rejections_total",
			"Tool calls rejected or timed out.", nil, nil),
		dropped: prometheus.NewDesc("inferbridge_metric_samples_dropped_total",
			"Samples dropped to keep the hot path non-blocking.", nil, nil),
		latency: prometheus.NewDesc("inferbridge_first_token_latency_seconds",
			"Streaming mean of submit-to-first-token latency.", nil, nil),
	}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.requests
	ch <- e.completions
	ch <- e.errors
	ch <- e.cancellations
	ch <- e.toolCalls
	ch <- e.approvals
	ch <- e.rejections
	ch <- e.dropped
	ch <- e.latency
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(e.requests, snap.Requests)
	counter(e.completions, snap.Completions)
	counter(e.errors, snap.Errors)
	counter(e.cancellations, snap.Cancellations)
	counter(e.toolCalls, snap.ToolCalls)
	counter(e.approvals, snap.Approvals)
	counter(e.rejections, snap.Rejections)
	counter(e.dropped, snap.Dropped)
	ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue,
		snap.AvgFirstTokenLatency.Seconds())
}
