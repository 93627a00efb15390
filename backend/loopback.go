// Package backend provides in-process virtio-rdma device implementations
package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-vrdma/internal/constants"
	"github.com/ehrlich-b/go-vrdma/internal/interfaces"
	"github.com/ehrlich-b/go-vrdma/internal/logging"
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/vring"
)

const (
	doorbellSize = constants.DoorbellSize

	maxSGE    = 32
	maxInline = 4096

	// DefaultPhysBase is where the loopback places kernel buffer windows in
	// its device address space.
	DefaultPhysBase = 0x1_0000_0000
)

var pageSize = unix.Getpagesize()

// Options configures a Loopback device.
type Options struct {
	// Doorbell exports a doorbell word at the end of each work queue
	// region. Without it every kick goes through NotifyQueue.
	Doorbell bool

	// Polling sets VRING_USED_F_NO_NOTIFY on work queues: the device
	// promises to look at its rings without being kicked, so drivers skip
	// notifications. Only meaningful together with Run.
	Polling bool

	// PhysBase is the device address of offset zero.
	PhysBase uint64

	// Align is the used ring alignment. Zero means constants.RingAlign.
	Align int

	// RNRRetries is how many Process passes a send waits for a receive
	// buffer on its peer before failing with an RNR retry error.
	RNRRetries int

	// PollInterval is how long Run sleeps when there is no work.
	PollInterval time.Duration

	Logger *logging.Logger
}

func DefaultOptions() Options {
	return Options{
		Doorbell:     true,
		PhysBase:     DefaultPhysBase,
		Align:        constants.RingAlign,
		RNRRetries:   constants.RNRRetryLimit,
		PollInterval: constants.LoopbackPollInterval,
	}
}

type lcq struct {
	handle  uint32
	ring    *region
	pending *queue.Queue // uapi.CQReq waiting for a free slot
	users   int
}

type lqp struct {
	handle uint32
	qpn    uint32
	typ    uint8
	sigAll bool
	scq    *lcq
	rcq    *lcq
	sq     *region
	rq     *region
	peer   *lqp

	sends *queue.Queue // *sendOp popped from the SQ, in order
	rnr   int
}

// Loopback is a virtio-rdma device that lives in the calling process.
// Queue pairs exchange data by memory copy; RC pairs are wired together
// with Connect, UD sends are routed by QPN.
//
// The device does its work in Process, either called directly or from
// Run. It is safe for concurrent use with the drivers posting to it.
type Loopback struct {
	mu     sync.Mutex
	opts   Options
	logger *logging.Logger

	regions    map[int64]*region
	nextOffset int64
	nextHandle uint32
	nextQPN    uint32

	cqs    map[uint32]*lcq
	cqList []*lcq
	qps    map[uint32]*lqp
	qpList []*lqp
	byQPN  map[uint32]*lqp
	closed bool

	wake chan struct{}

	slowKicks     atomic.Uint64
	doorbellKicks atomic.Uint64
	executed      atomic.Uint64
	completions   atomic.Uint64
	rnrWaits      atomic.Uint64
	dropped       atomic.Uint64
}

// NewLoopback creates an empty loopback device.
func NewLoopback(opts Options) *Loopback {
	def := DefaultOptions()
	if opts.PhysBase == 0 {
		opts.PhysBase = def.PhysBase
	}
	if opts.Align == 0 {
		opts.Align = def.Align
	}
	if opts.RNRRetries == 0 {
		opts.RNRRetries = def.RNRRetries
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = def.PollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Loopback{
		opts:       opts,
		logger:     logger.WithDevice("loopback"),
		regions:    make(map[int64]*region),
		nextOffset: int64(pageSize),
		nextHandle: 1,
		nextQPN:    0x11,
		cqs:        make(map[uint32]*lcq),
		qps:        make(map[uint32]*lqp),
		byQPN:      make(map[uint32]*lqp),
		wake:       make(chan struct{}, 1),
	}
}

func roundPow2(n uint32) int {
	p := 1
	for p < int(n) {
		p <<= 1
	}
	return p
}

func (l *Loopback) addRegion(spec regionSpec) (*region, error) {
	r, err := newRegion(l.nextOffset, l.opts.PhysBase, spec)
	if err != nil {
		return nil, unix.ENOMEM
	}
	l.regions[r.offset] = r
	mapped := (len(r.mem) + pageSize - 1) &^ (pageSize - 1)
	l.nextOffset += int64(mapped)
	return r, nil
}

func (l *Loopback) dropRegion(r *region) {
	r.destroyed = true
	if r.maps == 0 {
		delete(l.regions, r.offset)
	}
	r.release()
}

func (l *Loopback) CreateCQ(cmd uapi.CreateCQCmd) (uapi.CreateCQResp, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return uapi.CreateCQResp{}, unix.ENODEV
	}
	if cmd.CQE == 0 || cmd.CQE > vring.MaxDescriptors {
		return uapi.CreateCQResp{}, unix.EINVAL
	}

	num := roundPow2(cmd.CQE)
	r, err := l.addRegion(regionSpec{num: num, slotSize: uapi.CQReqSize, align: l.opts.Align})
	if err != nil {
		return uapi.CreateCQResp{}, err
	}
	cq := &lcq{handle: l.nextHandle, ring: r, pending: queue.New()}
	l.nextHandle++
	l.cqs[cq.handle] = cq
	l.cqList = append(l.cqList, cq)

	l.logger.WithCQ(cq.handle).Debug("loopback CQ created", "slots", num)
	return uapi.CreateCQResp{
		CQHandle: cq.handle,
		CQE:      uint32(num),
		Offset:   uint64(r.offset),
		PhysAddr: r.bufAddr,
		UsedOff:  uint32(r.usedOff),
		VQSize:   uint32(r.vqSize),
		CQSize:   uint32(len(r.mem)),
		NumCQE:   uint32(num),
		NumCVQE:  uint32(num),
	}, nil
}

func (l *Loopback) DestroyCQ(handle uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cq, ok := l.cqs[handle]
	if !ok {
		return unix.EINVAL
	}
	if cq.users > 0 {
		return unix.EBUSY
	}
	delete(l.cqs, handle)
	l.cqList = removeCQ(l.cqList, cq)
	l.dropRegion(cq.ring)
	l.logger.WithCQ(handle).Debug("loopback CQ destroyed")
	return nil
}

func (l *Loopback) CreateQP(cmd uapi.CreateQPCmd) (uapi.CreateQPResp, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return uapi.CreateQPResp{}, unix.ENODEV
	}

	switch cmd.QPType {
	case uapi.IB_QPT_RC, uapi.IB_QPT_UC, uapi.IB_QPT_UD:
	default:
		return uapi.CreateQPResp{}, unix.EINVAL
	}
	if cmd.IsSRQ != 0 || cmd.SRQHandle != 0 {
		return uapi.CreateQPResp{}, unix.EOPNOTSUPP
	}
	scq, ok1 := l.cqs[cmd.SendCQHandle]
	rcq, ok2 := l.cqs[cmd.RecvCQHandle]
	if !ok1 || !ok2 {
		return uapi.CreateQPResp{}, unix.EINVAL
	}
	if cmd.MaxSendWR == 0 || cmd.MaxRecvWR == 0 ||
		cmd.MaxSendWR > vring.MaxDescriptors || cmd.MaxRecvWR > vring.MaxDescriptors ||
		cmd.MaxSendSGE > maxSGE || cmd.MaxRecvSGE > maxSGE || cmd.MaxInlineData > maxInline {
		return uapi.CreateQPResp{}, unix.EINVAL
	}

	handle := l.nextHandle
	sqNum := roundPow2(cmd.MaxSendWR)
	rqNum := roundPow2(cmd.MaxRecvWR)
	sq, err := l.addRegion(regionSpec{
		num:      sqNum,
		slotSize: uapi.SQSlotSize(int(cmd.MaxSendSGE), int(cmd.MaxInlineData)),
		align:    l.opts.Align,
		doorbell: l.opts.Doorbell,
		dbIndex:  handle * 2,
	})
	if err != nil {
		return uapi.CreateQPResp{}, err
	}
	rq, err := l.addRegion(regionSpec{
		num:      rqNum,
		slotSize: uapi.RQSlotSize(int(cmd.MaxRecvSGE)),
		align:    l.opts.Align,
		doorbell: l.opts.Doorbell,
		dbIndex:  handle*2 + 1,
	})
	if err != nil {
		l.dropRegion(sq)
		return uapi.CreateQPResp{}, err
	}
	if l.opts.Polling {
		sq.dev.SetNoNotify(true)
		rq.dev.SetNoNotify(true)
	}

	qp := &lqp{
		handle: handle,
		qpn:    l.nextQPN,
		typ:    cmd.QPType,
		sigAll: cmd.SQSigAll != 0,
		scq:    scq,
		rcq:    rcq,
		sq:     sq,
		rq:     rq,
		sends:  queue.New(),
	}
	l.nextHandle++
	l.nextQPN++
	scq.users++
	rcq.users++
	l.qps[handle] = qp
	l.qpList = append(l.qpList, qp)
	l.byQPN[qp.qpn] = qp

	resp := uapi.CreateQPResp{
		QPHandle:      handle,
		QPN:           qp.qpn,
		MaxSendWR:     uint32(sqNum),
		MaxRecvWR:     uint32(rqNum),
		MaxSendSGE:    cmd.MaxSendSGE,
		MaxRecvSGE:    cmd.MaxRecvSGE,
		MaxInlineData: cmd.MaxInlineData,
		SQOffset:      uint64(sq.offset),
		SQPhysAddr:    sq.bufAddr,
		RQOffset:      uint64(rq.offset),
		RQPhysAddr:    rq.bufAddr,
		SVQUsedOff:    uint32(sq.usedOff),
		SVQSize:       uint32(sq.vqSize),
		SQSize:        uint32(len(sq.mem)),
		NumSQE:        uint32(sqNum),
		NumSVQE:       uint32(sqNum),
		SQIdx:         sq.dbIndex,
		RVQUsedOff:    uint32(rq.usedOff),
		RVQSize:       uint32(rq.vqSize),
		RQSize:        uint32(len(rq.mem)),
		NumRQE:        uint32(rqNum),
		NumRVQE:       uint32(rqNum),
		RQIdx:         rq.dbIndex,
	}
	if l.opts.Doorbell {
		resp.NotifierSize = doorbellSize
	}
	l.logger.WithQP(handle).Debug("loopback QP created",
		"qpn", qp.qpn,
		"sq_slots", sqNum,
		"rq_slots", rqNum)
	return resp, nil
}

func (l *Loopback) DestroyQP(handle uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	qp, ok := l.qps[handle]
	if !ok {
		return unix.EINVAL
	}
	if qp.peer != nil {
		qp.peer.peer = nil
	}
	delete(l.qps, handle)
	delete(l.byQPN, qp.qpn)
	l.qpList = removeQP(l.qpList, qp)
	qp.scq.users--
	qp.rcq.users--
	l.dropRegion(qp.sq)
	l.dropRegion(qp.rq)
	l.logger.WithQP(handle).Debug("loopback QP destroyed")
	return nil
}

// Map hands out the region exported at offset. Every region is mapped
// whole; length may be shorter than the region.
func (l *Loopback) Map(offset int64, length int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.regions[offset]
	if !ok || r.destroyed {
		return nil, unix.EINVAL
	}
	if length <= 0 || length > len(r.mem) {
		return nil, unix.EINVAL
	}
	r.maps++
	return r.mem[:length:length], nil
}

func (l *Loopback) Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for off, r := range l.regions {
		if r.mem != nil && r.maps > 0 && unsafe.SliceData(r.mem) == unsafe.SliceData(b) {
			r.maps--
			if r.destroyed && r.maps == 0 {
				delete(l.regions, off)
			}
			r.release()
			return nil
		}
	}
	return unix.EINVAL
}

// NotifyQueue records a slow-path kick and wakes Run.
func (l *Loopback) NotifyQueue(qpHandle uint32, send bool) error {
	l.mu.Lock()
	_, ok := l.qps[qpHandle]
	l.mu.Unlock()
	if !ok {
		return unix.EINVAL
	}
	l.slowKicks.Add(1)
	l.poke()
	return nil
}

func (l *Loopback) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Connect wires two RC or UC queue pairs, given by QPN, to each other.
func (l *Loopback) Connect(qpnA, qpnB uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, okA := l.byQPN[qpnA]
	b, okB := l.byQPN[qpnB]
	if !okA || !okB || a.typ == uapi.IB_QPT_UD || b.typ == uapi.IB_QPT_UD {
		return unix.EINVAL
	}
	if a.peer != nil || b.peer != nil {
		return unix.EISCONN
	}
	a.peer, b.peer = b, a
	return nil
}

// Run calls Process until ctx is done, sleeping between empty passes
// unless a slow-path kick arrives.
func (l *Loopback) Run(ctx context.Context) error {
	timer := time.NewTimer(l.opts.PollInterval)
	defer timer.Stop()
	for {
		if l.Process() > 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		timer.Reset(l.opts.PollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		case <-timer.C:
		}
	}
}

// Stats implements interfaces.StatDevice.
func (l *Loopback) Stats() map[string]uint64 {
	l.mu.Lock()
	held := 0
	for _, cq := range l.cqList {
		held += cq.pending.Length()
	}
	l.mu.Unlock()
	return map[string]uint64{
		"slow_kicks":     l.slowKicks.Load(),
		"doorbell_kicks": l.doorbellKicks.Load(),
		"executed":       l.executed.Load(),
		"completions":    l.completions.Load(),
		"rnr_waits":      l.rnrWaits.Load(),
		"dropped":        l.dropped.Load(),
		"held":           uint64(held),
	}
}

// Close destroys everything the device still holds.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for off, r := range l.regions {
		r.free()
		delete(l.regions, off)
	}
	l.qps = map[uint32]*lqp{}
	l.byQPN = map[uint32]*lqp{}
	l.cqs = map[uint32]*lcq{}
	l.qpList = nil
	l.cqList = nil
	return nil
}

func removeQP(list []*lqp, qp *lqp) []*lqp {
	for i, q := range list {
		if q == qp {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func removeCQ(list []*lcq, cq *lcq) []*lcq {
	for i, c := range list {
		if c == cq {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

var (
	_ interfaces.Device       = (*Loopback)(nil)
	_ interfaces.StatDevice   = (*Loopback)(nil)
	_ interfaces.CloserDevice = (*Loopback)(nil)
)
