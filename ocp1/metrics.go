package ocp1

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a thread-safe monotonically increasing count
type Counter struct {
	value atomic.Int64
}

// Add adds delta to the counter
func (c *Counter) Add(delta int64) { c.value.Add(delta) }

// Inc increments the counter by 1
func (c *Counter) Inc() { c.value.Add(1) }

// Value returns the current count
func (c *Counter) Value() int64 { return c.value.Load() }

// Reset sets the counter back to 0
func (c *Counter) Reset() { c.value.Store(0) }

// Gauge is a thread-safe value that can go up and down
type Gauge struct {
	value atomic.Int64
}

// Set sets the gauge value
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value
func (g *Gauge) Value() int64 { return g.value.Load() }

// LatencyBounds are the upper bounds of the histogram buckets. The last
// bucket counts everything above the final bound.
var LatencyBounds = []time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// LatencyHistogram tracks request round-trip times
type LatencyHistogram struct {
	mu      sync.Mutex
	count   int64
	sum     time.Duration
	min     time.Duration
	max     time.Duration
	buckets []int64
}

// NewLatencyHistogram creates an empty histogram
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		min:     -1,
		buckets: make([]int64, len(LatencyBounds)+1),
	}
}

// Record adds one measurement
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += d
	if h.min < 0 || d < h.min {
		h.min = d
	}
	if d > h.max {
		h.max = d
	}

	i := 0
	for i < len(LatencyBounds) && d >= LatencyBounds[i] {
		i++
	}
	h.buckets[i]++
}

// Stats returns a copy of the histogram state
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: append([]int64(nil), h.buckets...),
	}
	if h.count > 0 {
		stats.Min = h.min
		stats.Max = h.max
		stats.Avg = h.sum / time.Duration(h.count)
	}
	return stats
}

// LatencyStats contains latency statistics
type LatencyStats struct {
	Count   int64
	Sum     time.Duration
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	Buckets []int64
}

// Metrics holds client metrics
type Metrics struct {
	// Connection
	ConnectAttempts  Counter
	ConnectSuccesses Counter
	ConnectFailures  Counter
	Disconnects      Counter
	OnlineTimeouts   Counter

	// Requests
	RequestsSent      Counter
	RequestsSucceeded Counter
	RequestsFailed    Counter
	SendFailures      Counter

	// Incoming traffic
	ResponsesReceived      Counter
	UnknownHandles         Counter
	NotificationsReceived  Counter
	UnmatchedNotifications Counter
	KeepAlivesReceived     Counter
	KeepAlivesSent         Counter
	FramesDropped          Counter

	RequestLatency *LatencyHistogram

	BytesSent     Counter
	BytesReceived Counter

	PendingRequests Gauge
	Bindings        Gauge

	startTime    time.Time
	lastActivity atomic.Int64
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RequestLatency: NewLatencyHistogram(),
		startTime:      time.Now(),
	}
}

// RecordActivity stamps the time of the last received frame
func (m *Metrics) RecordActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last received frame
func (m *Metrics) LastActivity() time.Time {
	ns := m.lastActivity.Load()
	if ns == 0 {
		return m.startTime
	}
	return time.Unix(0, ns)
}

// Uptime returns the time since the metrics were created
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uptime: m.Uptime(),

		ConnectAttempts:  m.ConnectAttempts.Value(),
		ConnectSuccesses: m.ConnectSuccesses.Value(),
		ConnectFailures:  m.ConnectFailures.Value(),
		Disconnects:      m.Disconnects.Value(),
		OnlineTimeouts:   m.OnlineTimeouts.Value(),

		RequestsSent:      m.RequestsSent.Value(),
		RequestsSucceeded: m.RequestsSucceeded.Value(),
		RequestsFailed:    m.RequestsFailed.Value(),
		SendFailures:      m.SendFailures.Value(),

		ResponsesReceived:      m.ResponsesReceived.Value(),
		UnknownHandles:         m.UnknownHandles.Value(),
		NotificationsReceived:  m.NotificationsReceived.Value(),
		UnmatchedNotifications: m.UnmatchedNotifications.Value(),
		KeepAlivesReceived:     m.KeepAlivesReceived.Value(),
		KeepAlivesSent:         m.KeepAlivesSent.Value(),
		FramesDropped:          m.FramesDropped.Value(),

		LatencyStats: m.RequestLatency.Stats(),

		BytesSent:     m.BytesSent.Value(),
		BytesReceived: m.BytesReceived.Value(),

		PendingRequests: m.PendingRequests.Value(),
		Bindings:        m.Bindings.Value(),

		LastActivity: m.LastActivity(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Uptime time.Duration

	ConnectAttempts  int64
	ConnectSuccesses int64
	ConnectFailures  int64
	Disconnects      int64
	OnlineTimeouts   int64

	RequestsSent      int64
	RequestsSucceeded int64
	RequestsFailed    int64
	SendFailures      int64

	ResponsesReceived      int64
	UnknownHandles         int64
	NotificationsReceived  int64
	UnmatchedNotifications int64
	KeepAlivesReceived     int64
	KeepAlivesSent         int64
	FramesDropped          int64

	LatencyStats LatencyStats

	BytesSent     int64
	BytesReceived int64

	PendingRequests int64
	Bindings        int64

	LastActivity time.Time
}
