package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-vrdma"
	"github.com/ehrlich-b/go-vrdma/backend"
	"github.com/ehrlich-b/go-vrdma/internal/logging"
)

// worker drives one connected pair of queue pairs sharing a CQ. The local
// side posts; the remote side only receives.
type worker struct {
	id     int
	cfg    *Config
	cq     *vrdma.CQ
	local  *vrdma.QP
	remote *vrdma.QP

	// src and dst are outside the Go heap; the device reads and writes
	// them through addresses.
	src []byte
	dst []byte

	sends []vrdma.SendWR
	recvs []vrdma.RecvWR
	wc    []vrdma.WC

	ops       uint64
	bytes     uint64
	latencies []time.Duration
}

func newWorker(id int, ctx *vrdma.Context, dev *backend.Loopback, cfg *Config) (*worker, error) {
	w := &worker{id: id, cfg: cfg}

	cq, err := ctx.CreateCQ(vrdma.CQParams{Depth: 2 * cfg.Depth})
	if err != nil {
		return nil, err
	}
	w.cq = cq

	params := vrdma.DefaultQPParams(cq)
	params.MaxSendWR = cfg.Depth
	params.MaxRecvWR = cfg.Depth
	params.MaxSendSGE = 1
	params.MaxRecvSGE = 1
	if cfg.Inline {
		params.MaxInlineData = cfg.payload
	}
	if w.local, err = ctx.CreateQP(params); err != nil {
		return nil, err
	}
	if w.remote, err = ctx.CreateQP(params); err != nil {
		return nil, err
	}
	if err := dev.Connect(w.local.QPN(), w.remote.QPN()); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	span := cfg.payload * cfg.Batch
	if w.src, err = mapBuffer(span); err != nil {
		return nil, err
	}
	if w.dst, err = mapBuffer(span); err != nil {
		return nil, err
	}
	for i := range w.src {
		w.src[i] = byte(i + id)
	}

	w.build()
	w.wc = make([]vrdma.WC, 2*cfg.Batch)
	return w, nil
}

func mapBuffer(n int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", n, err)
	}
	return b, nil
}

// build lays out one batch of work requests. Request i uses slot i of
// both buffers.
func (w *worker) build() {
	op := w.cfg.opcode()
	size := w.cfg.payload
	w.sends = make([]vrdma.SendWR, w.cfg.Batch)
	for i := range w.sends {
		local := vrdma.SGEFor(w.src[i*size:(i+1)*size], 0)
		remote := vrdma.SGEFor(w.dst[i*size:(i+1)*size], 0)
		wr := vrdma.SendWR{
			WRID:      uint64(i),
			Opcode:    op,
			SendFlags: vrdma.SendSignaled,
			SGList:    []vrdma.SGE{local},
		}
		if op != vrdma.WRSend {
			wr.RDMA = vrdma.RDMA{RemoteAddr: remote.Addr}
		}
		if w.cfg.Inline {
			wr.SendFlags |= vrdma.SendInline
		}
		w.sends[i] = wr
	}
	if op == vrdma.WRSend {
		w.recvs = make([]vrdma.RecvWR, w.cfg.Batch)
		for i := range w.recvs {
			w.recvs[i] = vrdma.RecvWR{
				WRID:   uint64(i),
				SGList: []vrdma.SGE{vrdma.SGEFor(w.dst[i*size:(i+1)*size], 0)},
			}
		}
	}
}

// run posts batches until ctx is done. Every batch is fully completed
// before the next one is posted.
func (w *worker) run(ctx context.Context) error {
	want := len(w.sends) + len(w.recvs)
	for ctx.Err() == nil {
		start := time.Now()
		if len(w.recvs) > 0 {
			if _, err := w.remote.PostRecv(w.recvs); err != nil {
				return fmt.Errorf("worker %d: %w", w.id, err)
			}
		}
		if _, err := w.local.PostSend(w.sends); err != nil {
			return fmt.Errorf("worker %d: %w", w.id, err)
		}

		for got := 0; got < want; {
			n, err := w.cq.Poll(w.wc)
			if err != nil {
				return fmt.Errorf("worker %d: %w", w.id, err)
			}
			for i := 0; i < n; i++ {
				if w.wc[i].Status != vrdma.WCSuccess {
					return fmt.Errorf("worker %d: wr %d completed with %s", w.id, w.wc[i].WRID, w.wc[i].Status)
				}
			}
			got += n
			if n == 0 {
				if ctx.Err() != nil {
					return nil
				}
				runtime.Gosched()
			}
		}

		w.latencies = append(w.latencies, time.Since(start))
		w.ops += uint64(len(w.sends))
		w.bytes += uint64(len(w.sends) * w.cfg.payload)
	}
	return nil
}

func (w *worker) close() {
	if w.src != nil {
		unix.Munmap(w.src)
	}
	if w.dst != nil {
		unix.Munmap(w.dst)
	}
}

// serveMetrics exports the context's metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *vrdma.Metrics, logger *logging.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(vrdma.NewPrometheusCollector(m, "vrdma"))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}, nil
}

// runBench runs the configured workload over a loopback device.
func runBench(ctx context.Context, cfg *Config, logger *logging.Logger) (*Report, error) {
	opts := backend.DefaultOptions()
	opts.Doorbell = cfg.Doorbell
	opts.Polling = cfg.Polling
	opts.Logger = logger
	dev := backend.NewLoopback(opts)
	defer dev.Close()

	vctx := vrdma.NewContext(dev, &vrdma.Options{Logger: logger})
	defer vctx.Close()

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(ctx, cfg.MetricsAddr, vctx.Metrics(), logger)
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	workers := make([]*worker, 0, cfg.Workers)
	defer func() {
		for _, w := range workers {
			w.close()
		}
	}()
	for i := 0; i < cfg.Workers; i++ {
		w, err := newWorker(i, vctx, dev, cfg)
		if w != nil {
			workers = append(workers, w)
		}
		if err != nil {
			return nil, err
		}
	}

	logger.Info("starting benchmark",
		"opcode", cfg.Opcode,
		"workers", cfg.Workers,
		"size", formatSize(int64(cfg.payload)),
		"batch", cfg.Batch,
		"duration", cfg.Duration.String())

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return dev.Run(gctx) })
	for _, w := range workers {
		g.Go(func() error { return w.run(gctx) })
	}

	start := time.Now()
	err := g.Wait()
	elapsed := time.Since(start)
	vctx.Metrics().Stop()
	if err != nil {
		return nil, err
	}

	return newReport(cfg, workers, elapsed, vctx.Metrics().Snapshot(), vctx.DeviceStats()), nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func mergeLatencies(workers []*worker) []time.Duration {
	var all []time.Duration
	for _, w := range workers {
		all = append(all, w.latencies...)
	}
	slices.Sort(all)
	return all
}
