package vrdma

import "github.com/prometheus/client_golang/prometheus"

// Collector exports a Metrics snapshot to Prometheus. Every scrape takes a
// fresh snapshot; nothing is cached between scrapes.
type Collector struct {
	metrics *Metrics

	postCalls     *prometheus.Desc
	requested     *prometheus.Desc
	posted        *prometheus.Desc
	postErrors    *prometheus.Desc
	polls         *prometheus.Desc
	emptyPolls    *prometheus.Desc
	completions   *prometheus.Desc
	errorWCs      *prometheus.Desc
	kicks         *prometheus.Desc
	inFlightMax   *prometheus.Desc
	inFlightAvg   *prometheus.Desc
	latency       *prometheus.Desc
	uptimeSeconds *prometheus.Desc
}

// NewPrometheusCollector returns a collector for m. Register it with a
// prometheus.Registerer; namespace prefixes every metric name.
func NewPrometheusCollector(m *Metrics, namespace string) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		metrics:       m,
		postCalls:     desc("post_calls_total", "Post calls by queue.", "queue"),
		requested:     desc("work_requests_requested_total", "Work requests handed to post calls.", "queue"),
		posted:        desc("work_requests_posted_total", "Work requests accepted onto a ring.", "queue"),
		postErrors:    desc("post_errors_total", "Post calls that returned an error.", "queue"),
		polls:         desc("poll_calls_total", "Poll calls."),
		emptyPolls:    desc("poll_empty_total", "Poll calls that found no completion."),
		completions:   desc("completions_total", "Completions returned by poll."),
		errorWCs:      desc("completion_errors_total", "Completions with a non-success status."),
		kicks:         desc("notifications_total", "Device notifications by path.", "path"),
		inFlightMax:   desc("in_flight_max", "Largest number of descriptors owned by the device."),
		inFlightAvg:   desc("in_flight_avg", "Average number of descriptors owned by the device after a post."),
		latency:       desc("call_latency_seconds", "Latency of post and poll calls."),
		uptimeSeconds: desc("uptime_seconds", "Time since the metrics were started or reset."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.postCalls, c.requested, c.posted, c.postErrors,
		c.polls, c.emptyPolls, c.completions, c.errorWCs,
		c.kicks, c.inFlightMax, c.inFlightAvg, c.latency, c.uptimeSeconds,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.postCalls, s.PostSendCalls, "sq")
	counter(c.postCalls, s.PostRecvCalls, "rq")
	counter(c.requested, s.SendRequested, "sq")
	counter(c.requested, s.RecvRequested, "rq")
	counter(c.posted, s.SendPosted, "sq")
	counter(c.posted, s.RecvPosted, "rq")
	counter(c.postErrors, s.SendErrors, "sq")
	counter(c.postErrors, s.RecvErrors, "rq")
	counter(c.polls, s.PollCalls)
	counter(c.emptyPolls, s.EmptyPolls)
	counter(c.completions, s.Completions)
	counter(c.errorWCs, s.ErrorCompletions)
	counter(c.kicks, s.DoorbellKicks, "doorbell")
	counter(c.kicks, s.SlowKicks, "command")
	gauge(c.inFlightMax, float64(s.MaxInFlight))
	gauge(c.inFlightAvg, s.AvgInFlight)
	gauge(c.uptimeSeconds, float64(s.UptimeNs)/1e9)

	buckets := make(map[float64]uint64, numLatencyBuckets)
	for i, le := range LatencyBuckets {
		buckets[float64(le)/1e9] = s.LatencyHistogram[i]
	}
	count := c.metrics.OpCount.Load()
	sum := float64(c.metrics.TotalLatencyNs.Load()) / 1e9
	ch <- prometheus.MustNewConstHistogram(c.latency, count, sum, buckets)
}

var _ prometheus.Collector = (*Collector)(nil)
