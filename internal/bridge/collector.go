package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgeo/drivers/ocp1/ocp1"
)

const namespace = "ocp1"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(s *ocp1.MetricsSnapshot) int64
}

// Collector exports client metrics to Prometheus. Values are read from a
// snapshot on every scrape.
type Collector struct {
	metrics *ocp1.Metrics
	state   func() ocp1.ConnectionState

	counters  []counterDesc
	gauges    []counterDesc
	latency   *prometheus.Desc
	connected *prometheus.Desc
	uptime    *prometheus.Desc
}

func newDesc(name, help string, constLabels prometheus.Labels) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "client", name), help, nil, constLabels)
}

// NewCollector creates a collector for one client. state may be nil.
func NewCollector(metrics *ocp1.Metrics, state func() ocp1.ConnectionState, constLabels prometheus.Labels) *Collector {
	c := &Collector{metrics: metrics, state: state}

	counter := func(name, help string, value func(s *ocp1.MetricsSnapshot) int64) {
		c.counters = append(c.counters, counterDesc{newDesc(name, help, constLabels), value})
	}
	gauge := func(name, help string, value func(s *ocp1.MetricsSnapshot) int64) {
		c.gauges = append(c.gauges, counterDesc{newDesc(name, help, constLabels), value})
	}

	counter("connect_attempts_total", "Connection attempts.", func(s *ocp1.MetricsSnapshot) int64 { return s.ConnectAttempts })
	counter("connect_failures_total", "Failed connection attempts.", func(s *ocp1.MetricsSnapshot) int64 { return s.ConnectFailures })
	counter("disconnects_total", "Connections lost or closed.", func(s *ocp1.MetricsSnapshot) int64 { return s.Disconnects })
	counter("online_timeouts_total", "Connections dropped for silence.", func(s *ocp1.MetricsSnapshot) int64 { return s.OnlineTimeouts })
	counter("requests_sent_total", "Commands sent.", func(s *ocp1.MetricsSnapshot) int64 { return s.RequestsSent })
	counter("requests_succeeded_total", "Responses with status OK.", func(s *ocp1.MetricsSnapshot) int64 { return s.RequestsSucceeded })
	counter("requests_failed_total", "Responses with an error status.", func(s *ocp1.MetricsSnapshot) int64 { return s.RequestsFailed })
	counter("send_failures_total", "Commands that could not be written.", func(s *ocp1.MetricsSnapshot) int64 { return s.SendFailures })
	counter("unknown_handles_total", "Responses for no pending request.", func(s *ocp1.MetricsSnapshot) int64 { return s.UnknownHandles })
	counter("notifications_total", "Notifications received.", func(s *ocp1.MetricsSnapshot) int64 { return s.NotificationsReceived })
	counter("unmatched_notifications_total", "Notifications without a binding.", func(s *ocp1.MetricsSnapshot) int64 { return s.UnmatchedNotifications })
	counter("keepalives_received_total", "KeepAlive messages received.", func(s *ocp1.MetricsSnapshot) int64 { return s.KeepAlivesReceived })
	counter("frames_dropped_total", "Malformed frames.", func(s *ocp1.MetricsSnapshot) int64 { return s.FramesDropped })
	counter("sent_bytes_total", "Bytes written.", func(s *ocp1.MetricsSnapshot) int64 { return s.BytesSent })
	counter("received_bytes_total", "Bytes read.", func(s *ocp1.MetricsSnapshot) int64 { return s.BytesReceived })
	gauge("pending_requests", "Requests awaiting a response.", func(s *ocp1.MetricsSnapshot) int64 { return s.PendingRequests })
	gauge("bindings", "Registered notification bindings.", func(s *ocp1.MetricsSnapshot) int64 { return s.Bindings })

	c.latency = newDesc("request_duration_seconds", "Time from command to response.", constLabels)
	c.connected = newDesc("connected", "1 while a connection is up.", constLabels)
	c.uptime = newDesc("uptime_seconds", "Time since the client was created.", constLabels)
	return c
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.gauges {
		ch <- d.desc
	}
	ch <- c.latency
	ch <- c.connected
	ch <- c.uptime
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(d.value(&s)))
	}
	for _, d := range c.gauges {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.GaugeValue, float64(d.value(&s)))
	}

	// LatencyHistogram buckets are disjoint; Prometheus wants them cumulative
	buckets := make(map[float64]uint64, len(ocp1.LatencyBounds))
	var cum uint64
	for i, bound := range ocp1.LatencyBounds {
		if i < len(s.LatencyStats.Buckets) {
			cum += uint64(s.LatencyStats.Buckets[i])
		}
		buckets[bound.Seconds()] = cum
	}
	ch <- prometheus.MustNewConstHistogram(c.latency, uint64(s.LatencyStats.Count), s.LatencyStats.Sum.Seconds(), buckets)

	connected := 0.0
	if c.state != nil && c.state() == ocp1.StateConnected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, s.Uptime.Seconds())
}

var _ prometheus.Collector = (*Collector)(nil)
