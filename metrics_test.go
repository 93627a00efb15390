package vrdma

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.PostSendCalls != 0 || snap.Completions != 0 {
		t.Errorf("Expected empty initial snapshot, got %+v", snap)
	}

	m.RecordPostSend(4, 5, 1000, false) // 4 of 5 accepted
	m.RecordPostSend(2, 2, 1000, true)
	m.RecordPostRecv(3, 3, 500, true)
	m.RecordPoll(3, 1, 200)
	m.RecordPoll(0, 0, 100)

	snap = m.Snapshot()

	if snap.PostSendCalls != 2 {
		t.Errorf("Expected 2 PostSend calls, got %d", snap.PostSendCalls)
	}
	if snap.SendPosted != 6 || snap.SendRequested != 7 {
		t.Errorf("Expected 6 of 7 sends posted, got %d of %d", snap.SendPosted, snap.SendRequested)
	}
	if snap.SendErrors != 1 {
		t.Errorf("Expected 1 send error, got %d", snap.SendErrors)
	}
	if snap.RecvPosted != 3 {
		t.Errorf("Expected 3 receives posted, got %d", snap.RecvPosted)
	}
	if snap.PollCalls != 2 || snap.EmptyPolls != 1 {
		t.Errorf("Expected 2 polls with 1 empty, got %d and %d", snap.PollCalls, snap.EmptyPolls)
	}
	if snap.Completions != 3 || snap.ErrorCompletions != 1 {
		t.Errorf("Expected 3 completions with 1 error, got %d and %d", snap.Completions, snap.ErrorCompletions)
	}

	// 1 refused out of 10 requested
	if snap.RefusedRate < 9.9 || snap.RefusedRate > 10.1 {
		t.Errorf("Expected refused rate ~10%%, got %.1f%%", snap.RefusedRate)
	}
}

func TestMetricsNotify(t *testing.T) {
	m := NewMetrics()

	m.RecordPostSend(1, 1, 100, true)
	m.RecordPostSend(1, 1, 100, true)
	m.RecordPostRecv(1, 1, 100, true)
	m.RecordPostRecv(1, 1, 100, true)
	m.RecordNotify(false)
	m.RecordNotify(true)

	snap := m.Snapshot()
	if snap.DoorbellKicks != 1 || snap.SlowKicks != 1 {
		t.Errorf("Expected 1 doorbell and 1 slow kick, got %d and %d", snap.DoorbellKicks, snap.SlowKicks)
	}
	if snap.KicksPerPost != 0.5 {
		t.Errorf("Expected 0.5 kicks per post, got %.2f", snap.KicksPerPost)
	}
}

func TestMetricsInFlight(t *testing.T) {
	m := NewMetrics()

	m.RecordInFlight(10)
	m.RecordInFlight(20)
	m.RecordInFlight(15)

	snap := m.Snapshot()

	if snap.MaxInFlight != 20 {
		t.Errorf("Expected max in flight 20, got %d", snap.MaxInFlight)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgInFlight < expectedAvg-0.1 || snap.AvgInFlight > expectedAvg+0.1 {
		t.Errorf("Expected avg in flight %.1f, got %.1f", expectedAvg, snap.AvgInFlight)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordPostSend(1, 1, 1000, true)
	m.RecordPoll(1, 0, 2000)

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1000000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordPostSend(1, 1, 1000, true)
	m.RecordPoll(1, 0, 2000)
	m.RecordInFlight(10)

	snap := m.Snapshot()
	if snap.PostSendCalls == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.PostSendCalls != 0 || snap.PollCalls != 0 {
		t.Errorf("Expected 0 calls after reset, got %d and %d", snap.PostSendCalls, snap.PollCalls)
	}
	if snap.Completions != 0 {
		t.Errorf("Expected 0 completions after reset, got %d", snap.Completions)
	}
	if snap.MaxInFlight != 0 {
		t.Errorf("Expected 0 max in flight after reset, got %d", snap.MaxInFlight)
	}
	if snap.LatencyHistogram[len(snap.LatencyHistogram)-1] != 0 {
		t.Error("Expected empty histogram after reset")
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObservePostSend(1, 1, 1000, true)
	observer.ObservePostRecv(1, 1, 1000, true)
	observer.ObservePoll(1, 0, 1000)
	observer.ObserveNotify(true)
	observer.ObserveInFlight(10)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObservePostSend(2, 3, 1000, false)
	metricsObserver.ObservePostRecv(1, 1, 1000, true)
	metricsObserver.ObservePoll(4, 0, 1000)
	metricsObserver.ObserveNotify(false)
	metricsObserver.ObserveInFlight(7)

	snap := m.Snapshot()
	if snap.SendPosted != 2 || snap.SendRequested != 3 {
		t.Errorf("Expected 2 of 3 sends from observer, got %d of %d", snap.SendPosted, snap.SendRequested)
	}
	if snap.RecvPosted != 1 {
		t.Errorf("Expected 1 receive from observer, got %d", snap.RecvPosted)
	}
	if snap.Completions != 4 {
		t.Errorf("Expected 4 completions from observer, got %d", snap.Completions)
	}
	if snap.DoorbellKicks != 1 {
		t.Errorf("Expected 1 doorbell kick from observer, got %d", snap.DoorbellKicks)
	}
	if snap.MaxInFlight != 7 {
		t.Errorf("Expected max in flight 7 from observer, got %d", snap.MaxInFlight)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordPostSend(10, 10, 1000, true)
	m.RecordPostRecv(20, 20, 1000, true)
	m.RecordPoll(30, 0, 1000)

	m.StopTime.Store(startTime.Add(1 * time.Second).UnixNano())

	snap := m.Snapshot()

	if snap.SendRate < 9.9 || snap.SendRate > 10.1 {
		t.Errorf("Expected SendRate ~10, got %.2f", snap.SendRate)
	}
	if snap.RecvRate < 19.9 || snap.RecvRate > 20.1 {
		t.Errorf("Expected RecvRate ~20, got %.2f", snap.RecvRate)
	}
	if snap.CompletionRate < 29.9 || snap.CompletionRate > 30.1 {
		t.Errorf("Expected CompletionRate ~30, got %.2f", snap.CompletionRate)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	// 50 calls at 5us, 49 at 50us, 1 at 5ms
	for i := 0; i < 50; i++ {
		m.RecordPostSend(1, 1, 5_000, true)
	}
	for i := 0; i < 49; i++ {
		m.RecordPoll(1, 0, 50_000)
	}
	m.RecordPoll(1, 0, 5_000_000)

	snap := m.Snapshot()

	if snap.LatencyP50Ns < 1_000 || snap.LatencyP50Ns > 10_000 {
		t.Errorf("Expected P50 in 1us-10us range, got %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 10_000 || snap.LatencyP99Ns > 100_000 {
		t.Errorf("Expected P99 in 10us-100us range, got %d ns", snap.LatencyP99Ns)
	}
	if snap.LatencyP999Ns < snap.LatencyP99Ns {
		t.Errorf("Expected P99.9 >= P99, got %d < %d", snap.LatencyP999Ns, snap.LatencyP99Ns)
	}

	// Cumulative: the largest bucket holds everything
	if snap.LatencyHistogram[numLatencyBuckets-1] != 100 {
		t.Errorf("Expected 100 in the last bucket, got %d", snap.LatencyHistogram[numLatencyBuckets-1])
	}
}
