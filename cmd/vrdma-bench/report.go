package main

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-vrdma"
)

// Report is the result of one benchmark run.
type Report struct {
	Opcode       string `yaml:"opcode"`
	Workers      int    `yaml:"workers"`
	PayloadBytes int    `yaml:"payload_bytes"`
	Batch        int    `yaml:"batch"`
	Doorbell     bool   `yaml:"doorbell"`
	Polling      bool   `yaml:"polling"`
	Elapsed      string `yaml:"elapsed"`

	Operations uint64  `yaml:"operations"`
	Bytes      uint64  `yaml:"bytes"`
	OpsPerSec  float64 `yaml:"ops_per_sec"`
	Throughput string  `yaml:"throughput"`

	BatchLatency LatencyReport `yaml:"batch_latency"`
	Client       ClientReport  `yaml:"client"`

	Device map[string]uint64 `yaml:"device"`
}

// LatencyReport holds percentiles of the time from posting a batch to
// polling its last completion.
type LatencyReport struct {
	Samples int    `yaml:"samples"`
	P50     string `yaml:"p50"`
	P99     string `yaml:"p99"`
	P999    string `yaml:"p999"`
	Max     string `yaml:"max"`
}

// ClientReport is the library's view of the run.
type ClientReport struct {
	PostCalls    uint64  `yaml:"post_calls"`
	PollCalls    uint64  `yaml:"poll_calls"`
	EmptyPolls   uint64  `yaml:"empty_polls"`
	Completions  uint64  `yaml:"completions"`
	KicksPerPost float64 `yaml:"kicks_per_post"`
	MaxInFlight  uint32  `yaml:"max_in_flight"`
	AvgCallNs    uint64  `yaml:"avg_call_ns"`
}

func newReport(cfg *Config, workers []*worker, elapsed time.Duration, snap vrdma.MetricsSnapshot, device map[string]uint64) *Report {
	r := &Report{
		Opcode:       cfg.Opcode,
		Workers:      cfg.Workers,
		PayloadBytes: cfg.payload,
		Batch:        cfg.Batch,
		Doorbell:     cfg.Doorbell,
		Polling:      cfg.Polling,
		Elapsed:      elapsed.Round(time.Millisecond).String(),
		Client: ClientReport{
			PostCalls:    snap.PostSendCalls + snap.PostRecvCalls,
			PollCalls:    snap.PollCalls,
			EmptyPolls:   snap.EmptyPolls,
			Completions:  snap.Completions,
			KicksPerPost: snap.KicksPerPost,
			MaxInFlight:  snap.MaxInFlight,
			AvgCallNs:    snap.AvgLatencyNs,
		},
		Device: device,
	}
	for _, w := range workers {
		r.Operations += w.ops
		r.Bytes += w.bytes
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.OpsPerSec = float64(r.Operations) / secs
		r.Throughput = formatSize(int64(float64(r.Bytes)/secs)) + "/s"
	}

	lat := mergeLatencies(workers)
	r.BatchLatency = LatencyReport{
		Samples: len(lat),
		P50:     percentile(lat, 0.50).String(),
		P99:     percentile(lat, 0.99).String(),
		P999:    percentile(lat, 0.999).String(),
	}
	if len(lat) > 0 {
		r.BatchLatency.Max = lat[len(lat)-1].String()
	}
	return r
}

func (r *Report) write(w io.Writer, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "%s x%d, %s payload, batch %d (doorbell=%v polling=%v)\n",
		r.Opcode, r.Workers, formatSize(int64(r.PayloadBytes)), r.Batch, r.Doorbell, r.Polling)
	fmt.Fprintf(w, "  elapsed:     %s\n", r.Elapsed)
	fmt.Fprintf(w, "  operations:  %d (%.0f ops/s)\n", r.Operations, r.OpsPerSec)
	fmt.Fprintf(w, "  throughput:  %s\n", r.Throughput)
	fmt.Fprintf(w, "  batch p50:   %s\n", r.BatchLatency.P50)
	fmt.Fprintf(w, "  batch p99:   %s\n", r.BatchLatency.P99)
	fmt.Fprintf(w, "  batch p99.9: %s\n", r.BatchLatency.P999)
	fmt.Fprintf(w, "  kicks/post:  %.2f\n", r.Client.KicksPerPost)
	fmt.Fprintf(w, "  empty polls: %d of %d\n", r.Client.EmptyPolls, r.Client.PollCalls)
	return nil
}
