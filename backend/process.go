package backend

import (
	"github.com/ehrlich-b/go-vrdma/internal/logging"
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/verbs"
	"github.com/ehrlich-b/go-vrdma/internal/vring"
	"github.com/ehrlich-b/go-vrdma/internal/xlate"
)

type sendOp struct {
	desc vring.Desc
	req  uapi.SQReq
	body []byte // record bytes after the header
	bad  bool
}

type outcome int

const (
	done outcome = iota
	waitRecv
)

// Process runs one pass of the device: it consumes doorbells, executes
// every send it can, and writes pending completions into free CQ slots.
// It returns how many work requests and completions it handled.
func (l *Loopback) Process() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}

	n := 0
	for _, qp := range l.qpList {
		if qp.sq.kicked() {
			l.doorbellKicks.Add(1)
		}
		if qp.rq.kicked() {
			l.doorbellKicks.Add(1)
		}
		l.fetch(qp)
	}
	for _, qp := range l.qpList {
		n += l.execute(qp)
	}
	for _, cq := range l.cqList {
		n += l.flush(cq)
	}
	return n
}

// fetch moves newly posted sends off the SQ into the QP's ordered backlog.
func (l *Loopback) fetch(qp *lqp) {
	for {
		d, ok := qp.sq.dev.Pop()
		if !ok {
			return
		}
		op := &sendOp{desc: d}
		rec, ok := qp.sq.slot(d)
		if ok {
			op.req, op.bad = decodeSend(rec, qp.typ == uapi.IB_QPT_UD)
			if !op.bad {
				op.body = rec[uapi.SQReqHeaderSize:]
			}
		} else {
			op.bad = true
		}
		qp.sends.Add(op)
	}
}

func decodeSend(rec []byte, ud bool) (uapi.SQReq, bool) {
	req, err := uapi.UnmarshalSQReq(rec, ud)
	if err != nil {
		return req, true
	}
	payload := uint64(req.InlineLen)
	if req.SendFlags&uapi.VIRTIO_IB_SEND_INLINE == 0 {
		payload = uint64(req.NumSGE) * uapi.SGESize
	}
	return req, uapi.SQReqHeaderSize+payload > uint64(len(rec))
}

// execute runs the QP's backlog in order until it is empty or the head
// has to wait for a receive buffer.
func (l *Loopback) execute(qp *lqp) int {
	n := 0
	for qp.sends.Length() > 0 {
		op := qp.sends.Peek().(*sendOp)

		status, byteLen := uapi.VIRTIO_IB_WC_LOC_QP_OP_ERR, uint32(0)
		if !op.bad {
			var res outcome
			res, status, byteLen = l.run(qp, op)
			if res == waitRecv {
				if qp.rnr < l.opts.RNRRetries {
					qp.rnr++
					l.rnrWaits.Add(1)
					return n
				}
				status = uapi.VIRTIO_IB_WC_RNR_RETRY_EXC_ERR
			}
		}
		qp.rnr = 0
		qp.sends.Remove()
		qp.sq.dev.PushUsed(op.desc.ID, 0)
		l.executed.Add(1)
		n++

		if status != uapi.VIRTIO_IB_WC_SUCCESS && l.logger.Enabled(logging.LevelDebug) {
			l.logger.WithQP(qp.handle).
				WithRequest(op.req.WRID, xlate.WROpcodeFromWire(op.req.Opcode).String()).
				Debug("work request failed", "status", xlate.WCStatusFromWire(status).String())
		}

		signaled := qp.sigAll || op.req.SendFlags&uapi.VIRTIO_IB_SEND_SIGNALED != 0
		if signaled || status != uapi.VIRTIO_IB_WC_SUCCESS {
			l.post(qp.scq, uapi.CQReq{
				WRID:    op.req.WRID,
				Status:  status,
				Opcode:  sendCompletionOpcode(op.req.Opcode),
				ByteLen: byteLen,
				QPNum:   qp.qpn,
			})
		}
	}
	return n
}

func sendCompletionOpcode(op uapi.WROpcode) uapi.WCOpcode {
	switch op {
	case uapi.VIRTIO_IB_WR_RDMA_WRITE, uapi.VIRTIO_IB_WR_RDMA_WRITE_WITH_IMM:
		return uapi.VIRTIO_IB_WC_RDMA_WRITE
	case uapi.VIRTIO_IB_WR_RDMA_READ:
		return uapi.VIRTIO_IB_WC_RDMA_READ
	default:
		return uapi.VIRTIO_IB_WC_SEND
	}
}

func (l *Loopback) run(qp *lqp, op *sendOp) (outcome, uapi.WCStatus, uint32) {
	switch op.req.Opcode {
	case uapi.VIRTIO_IB_WR_SEND, uapi.VIRTIO_IB_WR_SEND_WITH_IMM:
		return l.send(qp, op)
	case uapi.VIRTIO_IB_WR_RDMA_WRITE, uapi.VIRTIO_IB_WR_RDMA_WRITE_WITH_IMM:
		return l.write(qp, op)
	case uapi.VIRTIO_IB_WR_RDMA_READ:
		return l.read(qp, op)
	default:
		return done, uapi.VIRTIO_IB_WC_LOC_QP_OP_ERR, 0
	}
}

func (l *Loopback) target(qp *lqp, op *sendOp) *lqp {
	if qp.typ == uapi.IB_QPT_UD {
		t := l.byQPN[op.req.RemoteQPN]
		if t == nil || t.typ != uapi.IB_QPT_UD {
			return nil
		}
		return t
	}
	return qp.peer
}

func (l *Loopback) send(qp *lqp, op *sendOp) (outcome, uapi.WCStatus, uint32) {
	t := l.target(qp, op)
	if t == nil {
		if qp.typ == uapi.IB_QPT_UD {
			// Datagrams to nowhere vanish.
			l.dropped.Add(1)
			return done, uapi.VIRTIO_IB_WC_SUCCESS, 0
		}
		return done, uapi.VIRTIO_IB_WC_RETRY_EXC_ERR, 0
	}

	rd, ok := t.rq.dev.Peek()
	if !ok {
		if qp.typ == uapi.IB_QPT_UD {
			l.dropped.Add(1)
			return done, uapi.VIRTIO_IB_WC_SUCCESS, 0
		}
		return waitRecv, 0, 0
	}

	payload, release, ok := gather(op)
	if !ok {
		return done, uapi.VIRTIO_IB_WC_LOC_PROT_ERR, 0
	}
	defer release()
	t.rq.dev.Pop()

	recv, sgl, ok := decodeRecv(t.rq, rd)
	rc := uapi.CQReq{
		WRID:   recv.WRID,
		Opcode: uapi.VIRTIO_IB_WC_RECV,
		SrcQP:  qp.qpn,
		QPNum:  t.qpn,
	}
	if op.req.Opcode == uapi.VIRTIO_IB_WR_SEND_WITH_IMM {
		rc.ImmData = op.req.ImmData
		rc.WCFlags = uapi.VIRTIO_IB_WC_WITH_IMM
	}
	status := uapi.VIRTIO_IB_WC_SUCCESS
	switch {
	case !ok:
		rc.Status = uapi.VIRTIO_IB_WC_LOC_QP_OP_ERR
		status = uapi.VIRTIO_IB_WC_REM_OP_ERR
	case !scatter(sgl, payload):
		rc.Status = uapi.VIRTIO_IB_WC_LOC_LEN_ERR
		status = uapi.VIRTIO_IB_WC_REM_INV_REQ_ERR
	default:
		rc.ByteLen = uint32(len(payload))
	}
	t.rq.dev.PushUsed(rd.ID, 0)
	l.post(t.rcq, rc)
	return done, status, uint32(len(payload))
}

func (l *Loopback) write(qp *lqp, op *sendOp) (outcome, uapi.WCStatus, uint32) {
	t := qp.peer
	if t == nil {
		return done, uapi.VIRTIO_IB_WC_RETRY_EXC_ERR, 0
	}
	withImm := op.req.Opcode == uapi.VIRTIO_IB_WR_RDMA_WRITE_WITH_IMM
	var rd vring.Desc
	if withImm {
		var ok bool
		if rd, ok = t.rq.dev.Peek(); !ok {
			return waitRecv, 0, 0
		}
	}

	payload, release, ok := gather(op)
	if !ok {
		return done, uapi.VIRTIO_IB_WC_LOC_PROT_ERR, 0
	}
	defer release()

	dst := verbs.SGE{Addr: op.req.RemoteAddr, Length: uint32(len(payload))}
	if len(payload) > 0 && dst.Addr == 0 {
		return done, uapi.VIRTIO_IB_WC_REM_ACCESS_ERR, 0
	}
	copy(dst.Bytes(), payload)

	if withImm {
		t.rq.dev.Pop()
		recv, _, _ := decodeRecv(t.rq, rd)
		t.rq.dev.PushUsed(rd.ID, 0)
		l.post(t.rcq, uapi.CQReq{
			WRID:    recv.WRID,
			Opcode:  uapi.VIRTIO_IB_WC_RECV_RDMA_WITH_IMM,
			WCFlags: uapi.VIRTIO_IB_WC_WITH_IMM,
			ByteLen: uint32(len(payload)),
			ImmData: op.req.ImmData,
			SrcQP:   qp.qpn,
			QPNum:   t.qpn,
		})
	}
	return done, uapi.VIRTIO_IB_WC_SUCCESS, uint32(len(payload))
}

func (l *Loopback) read(qp *lqp, op *sendOp) (outcome, uapi.WCStatus, uint32) {
	if qp.peer == nil {
		return done, uapi.VIRTIO_IB_WC_RETRY_EXC_ERR, 0
	}
	sgl, ok := decodeSGEs(op.body, op.req.NumSGE)
	if !ok {
		return done, uapi.VIRTIO_IB_WC_LOC_PROT_ERR, 0
	}
	var total uint32
	for _, s := range sgl {
		total += s.Length
	}
	src := verbs.SGE{Addr: op.req.RemoteAddr, Length: total}
	if total > 0 && src.Addr == 0 {
		return done, uapi.VIRTIO_IB_WC_REM_ACCESS_ERR, 0
	}
	scatter(sgl, src.Bytes())
	return done, uapi.VIRTIO_IB_WC_SUCCESS, total
}

// gather returns the payload of a send: the inline bytes, or the SGEs
// copied into a staging buffer.
func gather(op *sendOp) ([]byte, func(), bool) {
	if op.req.SendFlags&uapi.VIRTIO_IB_SEND_INLINE != 0 {
		return op.body[:op.req.InlineLen], func() {}, true
	}
	sgl, ok := decodeSGEs(op.body, op.req.NumSGE)
	if !ok {
		return nil, nil, false
	}
	total := 0
	for _, s := range sgl {
		total += int(s.Length)
	}
	buf := getStaging(total)
	n := 0
	for _, s := range sgl {
		n += copy(buf[n:], s.Bytes())
	}
	return buf, func() { putStaging(buf) }, true
}

// scatter copies data across sgl. It fails when sgl is too short.
func scatter(sgl []verbs.SGE, data []byte) bool {
	for _, s := range sgl {
		if len(data) == 0 {
			return true
		}
		data = data[copy(s.Bytes(), data):]
	}
	return len(data) == 0
}

func decodeSGEs(b []byte, n uint32) ([]verbs.SGE, bool) {
	if uint64(n)*uapi.SGESize > uint64(len(b)) {
		return nil, false
	}
	sgl := make([]verbs.SGE, n)
	for i := range sgl {
		s, _ := uapi.UnmarshalSGE(b[i*uapi.SGESize:])
		if s.Addr == 0 && s.Length > 0 {
			return nil, false
		}
		sgl[i] = verbs.SGE{Addr: s.Addr, Length: s.Length, LKey: s.LKey}
	}
	return sgl, true
}

func decodeRecv(rq *region, d vring.Desc) (uapi.RQReq, []verbs.SGE, bool) {
	rec, ok := rq.slot(d)
	if !ok {
		return uapi.RQReq{}, nil, false
	}
	req, err := uapi.UnmarshalRQReq(rec)
	if err != nil {
		return req, nil, false
	}
	sgl, ok := decodeSGEs(rec[uapi.RQReqHeaderSize:], req.NumSGE)
	return req, sgl, ok
}

// post queues a completion on cq; flush writes it once a slot is free.
func (l *Loopback) post(cq *lcq, rec uapi.CQReq) {
	cq.pending.Add(rec)
}

func (l *Loopback) flush(cq *lcq) int {
	n := 0
	for cq.pending.Length() > 0 {
		d, ok := cq.ring.dev.Peek()
		if !ok {
			break
		}
		slot, ok := cq.ring.slot(d)
		if !ok || !d.Writable() || len(slot) < uapi.CQReqSize {
			// The driver handed us a buffer we cannot use; return it empty.
			cq.ring.dev.Pop()
			cq.ring.dev.PushUsed(d.ID, 0)
			continue
		}
		rec := cq.pending.Remove().(uapi.CQReq)
		rec.MarshalTo(slot)
		cq.ring.dev.Pop()
		cq.ring.dev.PushUsed(d.ID, uapi.CQReqSize)
		l.completions.Add(1)
		n++
	}
	return n
}
