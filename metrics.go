package vrdma

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-vrdma/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Posting and polling are memory operations, so the buckets start at 100ns.
var LatencyBuckets = []uint64{
	100,           // 100ns
	1_000,         // 1us
	10_000,        // 10us
	100_000,       // 100us
	1_000_000,     // 1ms
	10_000_000,    // 10ms
	100_000_000,   // 100ms
	1_000_000_000, // 1s
}

const numLatencyBuckets = 8

// Metrics tracks work request and completion statistics for a Context
type Metrics struct {
	// Post calls and the work requests they carried
	PostSendCalls atomic.Uint64
	PostRecvCalls atomic.Uint64
	SendRequested atomic.Uint64
	SendPosted    atomic.Uint64
	RecvRequested atomic.Uint64
	RecvPosted    atomic.Uint64
	SendErrors    atomic.Uint64 // PostSend calls that returned an error
	RecvErrors    atomic.Uint64

	// Polling
	PollCalls        atomic.Uint64
	EmptyPolls       atomic.Uint64
	Completions      atomic.Uint64
	ErrorCompletions atomic.Uint64 // completions with a non-success status

	// Notifications
	DoorbellKicks atomic.Uint64
	SlowKicks     atomic.Uint64

	// In-flight descriptors sampled after each post
	InFlightTotal atomic.Uint64
	InFlightCount atomic.Uint64
	MaxInFlight   atomic.Uint32

	// Latency of post and poll calls
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Each bucket[i] contains the count of calls with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordPostSend records one PostSend call
func (m *Metrics) RecordPostSend(posted, requested int, latencyNs uint64, success bool) {
	m.PostSendCalls.Add(1)
	m.SendRequested.Add(uint64(requested))
	m.SendPosted.Add(uint64(posted))
	if !success {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPostRecv records one PostRecv call
func (m *Metrics) RecordPostRecv(posted, requested int, latencyNs uint64, success bool) {
	m.PostRecvCalls.Add(1)
	m.RecvRequested.Add(uint64(requested))
	m.RecvPosted.Add(uint64(posted))
	if !success {
		m.RecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPoll records one Poll call
func (m *Metrics) RecordPoll(completions, failed int, latencyNs uint64) {
	m.PollCalls.Add(1)
	if completions == 0 {
		m.EmptyPolls.Add(1)
	}
	m.Completions.Add(uint64(completions))
	m.ErrorCompletions.Add(uint64(failed))
	m.recordLatency(latencyNs)
}

// RecordNotify records a device kick
func (m *Metrics) RecordNotify(slow bool) {
	if slow {
		m.SlowKicks.Add(1)
	} else {
		m.DoorbellKicks.Add(1)
	}
}

// RecordInFlight records the number of descriptors the device owns
func (m *Metrics) RecordInFlight(depth uint32) {
	m.InFlightTotal.Add(uint64(depth))
	m.InFlightCount.Add(1)

	for {
		current := m.MaxInFlight.Load()
		if depth <= current {
			break
		}
		if m.MaxInFlight.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the context as closed
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived values
type MetricsSnapshot struct {
	PostSendCalls uint64
	PostRecvCalls uint64
	SendRequested uint64
	SendPosted    uint64
	RecvRequested uint64
	RecvPosted    uint64
	SendErrors    uint64
	RecvErrors    uint64

	PollCalls        uint64
	EmptyPolls       uint64
	Completions      uint64
	ErrorCompletions uint64

	DoorbellKicks uint64
	SlowKicks     uint64

	AvgInFlight float64
	MaxInFlight uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	SendRate       float64 // posted send work requests per second
	RecvRate       float64
	CompletionRate float64
	// KicksPerPost is the fraction of post calls that had to notify the
	// device; it drops when the device polls.
	KicksPerPost float64
	// RefusedRate is the percentage of requested work requests that were
	// not accepted.
	RefusedRate float64
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PostSendCalls:    m.PostSendCalls.Load(),
		PostRecvCalls:    m.PostRecvCalls.Load(),
		SendRequested:    m.SendRequested.Load(),
		SendPosted:       m.SendPosted.Load(),
		RecvRequested:    m.RecvRequested.Load(),
		RecvPosted:       m.RecvPosted.Load(),
		SendErrors:       m.SendErrors.Load(),
		RecvErrors:       m.RecvErrors.Load(),
		PollCalls:        m.PollCalls.Load(),
		EmptyPolls:       m.EmptyPolls.Load(),
		Completions:      m.Completions.Load(),
		ErrorCompletions: m.ErrorCompletions.Load(),
		DoorbellKicks:    m.DoorbellKicks.Load(),
		SlowKicks:        m.SlowKicks.Load(),
		MaxInFlight:      m.MaxInFlight.Load(),
	}

	if n := m.InFlightCount.Load(); n > 0 {
		snap.AvgInFlight = float64(m.InFlightTotal.Load()) / float64(n)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SendRate = float64(snap.SendPosted) / uptimeSeconds
		snap.RecvRate = float64(snap.RecvPosted) / uptimeSeconds
		snap.CompletionRate = float64(snap.Completions) / uptimeSeconds
	}

	if posts := snap.PostSendCalls + snap.PostRecvCalls; posts > 0 {
		snap.KicksPerPost = float64(snap.DoorbellKicks+snap.SlowKicks) / float64(posts)
	}
	if requested := snap.SendRequested + snap.RecvRequested; requested > 0 {
		refused := requested - snap.SendPosted - snap.RecvPosted
		snap.RefusedRate = float64(refused) / float64(requested) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.PostSendCalls, &m.PostRecvCalls,
		&m.SendRequested, &m.SendPosted, &m.RecvRequested, &m.RecvPosted,
		&m.SendErrors, &m.RecvErrors,
		&m.PollCalls, &m.EmptyPolls, &m.Completions, &m.ErrorCompletions,
		&m.DoorbellKicks, &m.SlowKicks,
		&m.InFlightTotal, &m.InFlightCount,
		&m.TotalLatencyNs, &m.OpCount,
	} {
		c.Store(0)
	}
	m.MaxInFlight.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer receives per-call measurements from queue pairs and completion
// queues.
type Observer = interfaces.Observer

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObservePostSend(int, int, uint64, bool) {}
func (NoOpObserver) ObservePostRecv(int, int, uint64, bool) {}
func (NoOpObserver) ObservePoll(int, int, uint64)           {}
func (NoOpObserver) ObserveNotify(bool)                     {}
func (NoOpObserver) ObserveInFlight(uint32)                 {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePostSend(posted, requested int, latencyNs uint64, success bool) {
	o.metrics.RecordPostSend(posted, requested, latencyNs, success)
}

func (o *MetricsObserver) ObservePostRecv(posted, requested int, latencyNs uint64, success bool) {
	o.metrics.RecordPostRecv(posted, requested, latencyNs, success)
}

func (o *MetricsObserver) ObservePoll(completions, failed int, latencyNs uint64) {
	o.metrics.RecordPoll(completions, failed, latencyNs)
}

func (o *MetricsObserver) ObserveNotify(slow bool) {
	o.metrics.RecordNotify(slow)
}

func (o *MetricsObserver) ObserveInFlight(depth uint32) {
	o.metrics.RecordInFlight(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
