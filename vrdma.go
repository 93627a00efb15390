// Package vrdma is the userspace data path of a virtio-rdma provider. It
// posts work requests to send and receive queues and polls completion
// queues, all over split virtqueues shared with the device.
//
// A Context wraps the command channel to one device. Completion queues and
// queue pairs are created from it; after creation no call on the data path
// crosses into the kernel except the slow-path doorbell when the device
// exports no doorbell word.
package vrdma

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/go-vrdma/internal/constants"
	"github.com/ehrlich-b/go-vrdma/internal/ctrl"
	"github.com/ehrlich-b/go-vrdma/internal/interfaces"
	"github.com/ehrlich-b/go-vrdma/internal/logging"
	"github.com/ehrlich-b/go-vrdma/internal/queue"
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/vring"
)

// Device is the command channel to a virtio-rdma device.
type Device = interfaces.Device

// Options contains additional options for a Context
type Options struct {
	// Logger for lifecycle events (if nil, uses the default logger)
	Logger *logging.Logger

	// Observer for metrics collection (if nil, records into the Context's
	// Metrics)
	Observer Observer

	// URing sends commands to a uverbs device through io_uring. Only used
	// by Open.
	URing bool
}

// Context owns the queues created on one device.
type Context struct {
	dev      Device
	owned    bool
	logger   *logging.Logger
	metrics  *Metrics
	observer Observer

	mu     sync.Mutex
	cqs    map[*CQ]struct{}
	qps    map[*QP]struct{}
	closed bool
}

// Open opens a uverbs character device, e.g. "/dev/infiniband/uverbs0".
// The device is closed with the Context.
func Open(path string, options *Options) (*Context, error) {
	if options == nil {
		options = &Options{}
	}
	opts := ctrl.DefaultOptions()
	opts.URing = options.URing
	if options.Logger != nil {
		opts.Logger = options.Logger
	}
	c, err := ctrl.Open(path, opts)
	if err != nil {
		return nil, WrapError("OPEN", err)
	}
	ctx := NewContext(c, options)
	ctx.owned = true
	return ctx, nil
}

// NewContext builds a Context over dev. The caller keeps ownership of dev.
func NewContext(dev Device, options *Options) *Context {
	if options == nil {
		options = &Options{}
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	metrics := NewMetrics()
	observer := options.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}
	return &Context{
		dev:      dev,
		logger:   logger,
		metrics:  metrics,
		observer: observer,
		cqs:      make(map[*CQ]struct{}),
		qps:      make(map[*QP]struct{}),
	}
}

// Device returns the command channel.
func (c *Context) Device() Device { return c.dev }

// Metrics returns the counters fed by the default observer.
func (c *Context) Metrics() *Metrics { return c.metrics }

// DeviceStats returns the device's own counters, or nil if it keeps none.
func (c *Context) DeviceStats() map[string]uint64 {
	if sd, ok := c.dev.(interfaces.StatDevice); ok {
		return sd.Stats()
	}
	return nil
}

// CQParams contains parameters for creating a completion queue
type CQParams struct {
	Depth      int    // Completion slots (default: 128)
	CompVector uint32 // Completion vector, passed through to the device
	UserHandle uint64 // Opaque value stored by the device
}

// DefaultCQParams returns default completion queue parameters
func DefaultCQParams() CQParams {
	return CQParams{Depth: constants.DefaultCQDepth}
}

// CreateCQ creates a completion queue and maps its ring.
func (c *Context) CreateCQ(p CQParams) (*CQ, error) {
	const op = "CREATE_CQ"
	if p.Depth <= 0 || p.Depth > vring.MaxDescriptors {
		return nil, NewError(op, ErrCodeInvalidParameters, fmt.Sprintf("depth %d out of range [1, %d]", p.Depth, vring.MaxDescriptors))
	}
	if err := c.check(op); err != nil {
		return nil, err
	}

	resp, err := c.dev.CreateCQ(uapi.CreateCQCmd{
		UserHandle:  p.UserHandle,
		CQE:         uint32(p.Depth),
		CompVector:  p.CompVector,
		CompChannel: -1,
	})
	if err != nil {
		return nil, WrapError(op, err)
	}

	logger := c.logger.WithCQ(resp.CQHandle)
	q, err := queue.Setup(c.dev, cqGeometry(&resp), queue.Config{
		Kind:     queue.KindCompletion,
		Observer: c.observer,
		Logger:   logger,
	})
	if err != nil {
		if derr := c.dev.DestroyCQ(resp.CQHandle); derr != nil {
			logger.WithError(derr).Warn("destroy after failed setup")
		}
		e := WrapError(op, err)
		e.Handle = resp.CQHandle
		return nil, e
	}

	cq := &CQ{ctx: c, handle: resp.CQHandle, depth: int(resp.NumCQE), q: q, logger: logger}
	if err := c.track(op, func() { c.cqs[cq] = struct{}{} }); err != nil {
		cq.teardown()
		return nil, err
	}
	logger.Debug("CQ created", "depth", cq.depth)
	return cq, nil
}

// QPParams contains parameters for creating a queue pair
type QPParams struct {
	Type   QPType
	SendCQ *CQ
	RecvCQ *CQ

	MaxSendWR     int // Send queue depth (default: 128)
	MaxRecvWR     int // Receive queue depth (default: 128)
	MaxSendSGE    int // SGEs per send request (default: 4)
	MaxRecvSGE    int // SGEs per receive request (default: 4)
	MaxInlineData int // Inline payload limit in bytes (default: 64)

	// SigAll makes every send generate a completion, signaled or not.
	SigAll bool

	PDHandle   uint32
	UserHandle uint64
}

// DefaultQPParams returns default parameters for an RC queue pair whose
// send and receive completions both go to cq.
func DefaultQPParams(cq *CQ) QPParams {
	return QPParams{
		Type:          QPTypeRC,
		SendCQ:        cq,
		RecvCQ:        cq,
		MaxSendWR:     constants.DefaultQueueDepth,
		MaxRecvWR:     constants.DefaultQueueDepth,
		MaxSendSGE:    constants.DefaultMaxSGE,
		MaxRecvSGE:    constants.DefaultMaxSGE,
		MaxInlineData: constants.DefaultMaxInline,
	}
}

func (c *Context) validateQP(p *QPParams) error {
	const op = "CREATE_QP"
	switch p.Type {
	case QPTypeRC, QPTypeUD:
	default:
		return NewError(op, ErrCodeUnsupportedOperation, fmt.Sprintf("queue pair type %s", p.Type))
	}
	if p.SendCQ == nil || p.RecvCQ == nil {
		return NewError(op, ErrCodeInvalidParameters, "send and receive CQs are required")
	}
	if p.SendCQ.ctx != c || p.RecvCQ.ctx != c {
		return NewError(op, ErrCodeInvalidParameters, "CQ belongs to another context")
	}
	for _, f := range []struct {
		name string
		v    int
		min  int
		max  int
	}{
		{"max_send_wr", p.MaxSendWR, 1, vring.MaxDescriptors},
		{"max_recv_wr", p.MaxRecvWR, 1, vring.MaxDescriptors},
		{"max_send_sge", p.MaxSendSGE, 0, 1 << 16},
		{"max_recv_sge", p.MaxRecvSGE, 0, 1 << 16},
		{"max_inline_data", p.MaxInlineData, 0, 1 << 20},
	} {
		if f.v < f.min || f.v > f.max {
			return NewError(op, ErrCodeInvalidParameters, fmt.Sprintf("%s %d out of range [%d, %d]", f.name, f.v, f.min, f.max))
		}
	}
	return nil
}

// CreateQP creates a queue pair and maps both of its work queue rings.
func (c *Context) CreateQP(p QPParams) (*QP, error) {
	const op = "CREATE_QP"
	if err := c.validateQP(&p); err != nil {
		return nil, err
	}
	if err := c.check(op); err != nil {
		return nil, err
	}

	var sigAll uint8
	if p.SigAll {
		sigAll = 1
	}
	resp, err := c.dev.CreateQP(uapi.CreateQPCmd{
		UserHandle:    p.UserHandle,
		PDHandle:      p.PDHandle,
		SendCQHandle:  p.SendCQ.handle,
		RecvCQHandle:  p.RecvCQ.handle,
		MaxSendWR:     uint32(p.MaxSendWR),
		MaxRecvWR:     uint32(p.MaxRecvWR),
		MaxSendSGE:    uint32(p.MaxSendSGE),
		MaxRecvSGE:    uint32(p.MaxRecvSGE),
		MaxInlineData: uint32(p.MaxInlineData),
		SQSigAll:      sigAll,
		QPType:        uint8(p.Type),
	})
	if err != nil {
		return nil, WrapError(op, err)
	}

	qp := &QP{
		ctx:    c,
		handle: resp.QPHandle,
		qpn:    resp.QPN,
		typ:    p.Type,
		scq:    p.SendCQ,
		rcq:    p.RecvCQ,
		caps: QPCaps{
			MaxSendWR:     int(resp.MaxSendWR),
			MaxRecvWR:     int(resp.MaxRecvWR),
			MaxSendSGE:    int(resp.MaxSendSGE),
			MaxRecvSGE:    int(resp.MaxRecvSGE),
			MaxInlineData: int(resp.MaxInlineData),
		},
		logger: c.logger.WithQP(resp.QPHandle),
	}
	if err := qp.setup(&resp); err != nil {
		qp.teardown()
		e := WrapError(op, err)
		e.Handle, e.QPN = qp.handle, qp.qpn
		return nil, e
	}
	if err := c.track(op, func() { c.qps[qp] = struct{}{} }); err != nil {
		qp.teardown()
		return nil, err
	}
	qp.logger.Debug("QP created",
		"qpn", qp.qpn,
		"type", qp.typ.String(),
		"send_wr", qp.caps.MaxSendWR,
		"recv_wr", qp.caps.MaxRecvWR,
		"doorbell", resp.NotifierSize > 0)
	return qp, nil
}

func (c *Context) check(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return NewError(op, ErrCodeClosed, "context is closed")
	}
	return nil
}

// track registers a new object unless Close ran while it was being built.
func (c *Context) track(op string, add func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return NewError(op, ErrCodeClosed, "context is closed")
	}
	add()
	return nil
}

// Close destroys every queue pair, then every completion queue. A device
// opened with Open is closed as well.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	qps := make([]*QP, 0, len(c.qps))
	for qp := range c.qps {
		qps = append(qps, qp)
	}
	cqs := make([]*CQ, 0, len(c.cqs))
	for cq := range c.cqs {
		cqs = append(cqs, cq)
	}
	c.mu.Unlock()

	var errs []error
	for _, qp := range qps {
		if err := qp.destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, cq := range cqs {
		if err := cq.destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	c.metrics.Stop()
	if cd, ok := c.dev.(interfaces.CloserDevice); ok && c.owned {
		if err := cd.Close(); err != nil {
			errs = append(errs, WrapError("CLOSE", err))
		}
	}
	c.logger.Debug("context closed", "qps", len(qps), "cqs", len(cqs))
	return errors.Join(errs...)
}

func (c *Context) forget(cq *CQ, qp *QP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cq != nil {
		delete(c.cqs, cq)
	}
	if qp != nil {
		delete(c.qps, qp)
	}
}

// CQ is a completion queue.
type CQ struct {
	ctx    *Context
	handle uint32
	depth  int
	q      *queue.Queue
	logger *logging.Logger

	mu        sync.Mutex
	destroyed bool
}

// Handle returns the device's handle for the CQ.
func (cq *CQ) Handle() uint32 { return cq.handle }

// Depth returns the number of completion slots.
func (cq *CQ) Depth() int { return cq.depth }

// Poll fills wc with up to len(wc) completions and returns how many were
// written. It never blocks. On a protocol mismatch the offending record is
// still counted and returned, with the invalid sentinel in the field that
// failed translation, and polling stops there.
func (cq *CQ) Poll(wc []WC) (int, error) {
	start := time.Now()
	n, err := cq.q.Poll(wc)
	failed := 0
	for i := 0; i < n; i++ {
		if wc[i].Status != WCSuccess {
			failed++
		}
	}
	cq.ctx.observer.ObservePoll(n, failed, uint64(time.Since(start)))
	if err != nil {
		e := WrapError("POLL_CQ", err)
		e.Handle = cq.handle
		e.Queue = "cq"
		return n, e
	}
	return n, nil
}

// Destroy destroys the CQ on the device and unmaps its ring. Queue pairs
// using it must be destroyed first.
func (cq *CQ) Destroy() error {
	if err := cq.destroy(); err != nil {
		return err
	}
	cq.ctx.forget(cq, nil)
	return nil
}

func (cq *CQ) destroy() error {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.destroyed {
		return nil
	}
	if err := cq.ctx.dev.DestroyCQ(cq.handle); err != nil {
		e := WrapError("DESTROY_CQ", err)
		e.Handle = cq.handle
		return e
	}
	cq.destroyed = true
	if err := cq.q.Close(); err != nil {
		cq.logger.WithError(err).Warn("unmap failed")
	}
	cq.logger.Debug("CQ destroyed")
	return nil
}

// teardown undoes a CreateCQ that could not be registered.
func (cq *CQ) teardown() {
	if err := cq.ctx.dev.DestroyCQ(cq.handle); err != nil {
		cq.logger.WithError(err).Warn("destroy after failed setup")
	}
	if err := cq.q.Close(); err != nil {
		cq.logger.WithError(err).Warn("unmap failed")
	}
}

func cqGeometry(r *uapi.CreateCQResp) queue.Geometry {
	return queue.Geometry{
		Offset:     int64(r.Offset),
		Size:       int(r.CQSize),
		VQSize:     int(r.VQSize),
		UsedOffset: int(r.UsedOff),
		NumDesc:    int(r.NumCVQE),
		NumEntries: int(r.NumCQE),
		BufAddr:    r.PhysAddr,
	}
}

// QPCaps are the limits the device granted a queue pair.
type QPCaps struct {
	MaxSendWR     int
	MaxRecvWR     int
	MaxSendSGE    int
	MaxRecvSGE    int
	MaxInlineData int
}

// QP is a queue pair: a send queue and a receive queue.
type QP struct {
	ctx    *Context
	handle uint32
	qpn    uint32
	typ    QPType
	scq    *CQ
	rcq    *CQ
	caps   QPCaps
	sq     *queue.Queue
	rq     *queue.Queue
	logger *logging.Logger

	mu        sync.Mutex
	destroyed bool
}

// Handle returns the device's handle for the QP.
func (qp *QP) Handle() uint32 { return qp.handle }

// QPN returns the queue pair number.
func (qp *QP) QPN() uint32 { return qp.qpn }

// Type returns the transport type.
func (qp *QP) Type() QPType { return qp.typ }

// Caps returns the limits the device granted.
func (qp *QP) Caps() QPCaps { return qp.caps }

// SendCQ returns the CQ receiving send completions.
func (qp *QP) SendCQ() *CQ { return qp.scq }

// RecvCQ returns the CQ receiving receive completions.
func (qp *QP) RecvCQ() *CQ { return qp.rcq }

func (qp *QP) setup(resp *uapi.CreateQPResp) error {
	dev := qp.ctx.dev
	handle := qp.handle
	sq, err := queue.Setup(dev, queue.Geometry{
		Offset:        int64(resp.SQOffset),
		Size:          int(resp.SQSize),
		VQSize:        int(resp.SVQSize),
		UsedOffset:    int(resp.SVQUsedOff),
		NumDesc:       int(resp.NumSVQE),
		NumEntries:    int(resp.NumSQE),
		DoorbellSize:  int(resp.NotifierSize),
		DoorbellIndex: resp.SQIdx,
		BufAddr:       resp.SQPhysAddr,
	}, queue.Config{
		Kind:      queue.KindSend,
		QPType:    qp.typ,
		MaxSGE:    qp.caps.MaxSendSGE,
		MaxInline: qp.caps.MaxInlineData,
		Notifier:  queue.NotifierFunc(func() error { return dev.NotifyQueue(handle, true) }),
		Observer:  qp.ctx.observer,
		Logger:    qp.logger.WithQueue("sq"),
	})
	if err != nil {
		return err
	}
	qp.sq = sq

	rq, err := queue.Setup(dev, queue.Geometry{
		Offset:        int64(resp.RQOffset),
		Size:          int(resp.RQSize),
		VQSize:        int(resp.RVQSize),
		UsedOffset:    int(resp.RVQUsedOff),
		NumDesc:       int(resp.NumRVQE),
		NumEntries:    int(resp.NumRQE),
		DoorbellSize:  int(resp.NotifierSize),
		DoorbellIndex: resp.RQIdx,
		BufAddr:       resp.RQPhysAddr,
	}, queue.Config{
		Kind:     queue.KindRecv,
		QPType:   qp.typ,
		MaxSGE:   qp.caps.MaxRecvSGE,
		Notifier: queue.NotifierFunc(func() error { return dev.NotifyQueue(handle, false) }),
		Observer: qp.ctx.observer,
		Logger:   qp.logger.WithQueue("rq"),
	})
	if err != nil {
		return err
	}
	qp.rq = rq
	return nil
}

// PostSend posts send work requests in order and returns how many were
// accepted. When n < len(wrs), wrs[n:] were not posted and the error
// names the first refused request. Accepted requests are not undone.
func (qp *QP) PostSend(wrs []SendWR) (int, error) {
	start := time.Now()
	n, err := qp.sq.PostSend(wrs)
	qp.ctx.observer.ObservePostSend(n, len(wrs), uint64(time.Since(start)), err == nil)
	if err != nil {
		return n, qp.postError("POST_SEND", "sq", n, len(wrs), err)
	}
	return n, nil
}

// PostRecv posts receive work requests with the same partial semantics as
// PostSend.
func (qp *QP) PostRecv(wrs []RecvWR) (int, error) {
	start := time.Now()
	n, err := qp.rq.PostRecv(wrs)
	qp.ctx.observer.ObservePostRecv(n, len(wrs), uint64(time.Since(start)), err == nil)
	if err != nil {
		return n, qp.postError("POST_RECV", "rq", n, len(wrs), err)
	}
	return n, nil
}

func (qp *QP) postError(op, kind string, posted, requested int, err error) error {
	e := WrapError(op, err)
	e.Handle = qp.handle
	e.QPN = qp.qpn
	e.Queue = kind
	e.Posted = posted
	e.Requested = requested
	return e
}

// Destroy destroys the QP on the device and unmaps its rings.
func (qp *QP) Destroy() error {
	if err := qp.destroy(); err != nil {
		return err
	}
	qp.ctx.forget(nil, qp)
	return nil
}

func (qp *QP) destroy() error {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	if qp.destroyed {
		return nil
	}
	if err := qp.ctx.dev.DestroyQP(qp.handle); err != nil {
		e := WrapError("DESTROY_QP", err)
		e.Handle, e.QPN = qp.handle, qp.qpn
		return e
	}
	qp.destroyed = true
	qp.closeQueues()
	qp.logger.Debug("QP destroyed", "qpn", qp.qpn)
	return nil
}

func (qp *QP) closeQueues() {
	for _, q := range []*queue.Queue{qp.sq, qp.rq} {
		if q == nil {
			continue
		}
		if err := q.Close(); err != nil {
			qp.logger.WithQueue(q.Kind().String()).WithError(err).Warn("unmap failed")
		}
	}
}

// teardown undoes a CreateQP that failed after the device created it.
func (qp *QP) teardown() {
	if err := qp.ctx.dev.DestroyQP(qp.handle); err != nil {
		qp.logger.WithError(err).Warn("destroy after failed setup")
	}
	qp.closeQueues()
}
