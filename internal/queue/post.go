package queue

import (
	"fmt"

	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/verbs"
	"github.com/ehrlich-b/go-vrdma/internal/xlate"
)

// PostSend submits send work requests in order. It returns how many were
// accepted; wrs[n:] were not posted and the error says why the first of
// them was refused. The device is kicked once if anything was accepted,
// including when an error stopped the batch.
func (q *Queue) PostSend(wrs []verbs.SendWR) (int, error) {
	if q.cfg.Kind != KindSend {
		return 0, fmt.Errorf("%w: send post on %s", ErrInvalidArgument, q.cfg.Kind)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	if err := q.reclaim(); err != nil {
		return 0, err
	}

	posted := 0
	var err error
	for i := range wrs {
		if err = q.postSend(&wrs[i]); err != nil {
			err = &RequestError{Index: i, WRID: wrs[i].WRID, Err: err}
			break
		}
		posted++
	}
	return posted, q.finish(posted, err)
}

// PostRecv submits receive work requests in order, with the same partial
// semantics as PostSend.
func (q *Queue) PostRecv(wrs []verbs.RecvWR) (int, error) {
	if q.cfg.Kind != KindRecv {
		return 0, fmt.Errorf("%w: receive post on %s", ErrInvalidArgument, q.cfg.Kind)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	if err := q.reclaim(); err != nil {
		return 0, err
	}

	posted := 0
	var err error
	for i := range wrs {
		if err = q.postRecv(&wrs[i]); err != nil {
			err = &RequestError{Index: i, WRID: wrs[i].WRID, Err: err}
			break
		}
		posted++
	}
	return posted, q.finish(posted, err)
}

// reclaim moves every buffer the device has finished with back to the
// free list.
func (q *Queue) reclaim() error {
	for {
		e, err := q.ring.GetCompleted()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocolMismatch, err)
		}
		if e == nil {
			return nil
		}
		q.ring.Recycle(e)
	}
}

// finish kicks the device after a batch and reports the queue occupancy.
func (q *Queue) finish(posted int, err error) error {
	if posted > 0 {
		if nerr := q.kick(); nerr != nil && err == nil {
			err = nerr
		}
	}
	if q.cfg.Observer != nil {
		q.cfg.Observer.ObserveInFlight(uint32(q.ring.Pool().InFlight()))
	}
	return err
}

// kick notifies the device unless it asked not to be.
func (q *Queue) kick() error {
	if !q.ring.NeedsNotify() {
		return nil
	}
	if q.ring.Notify() {
		if q.cfg.Observer != nil {
			q.cfg.Observer.ObserveNotify(false)
		}
		return nil
	}
	if q.cfg.Observer != nil {
		q.cfg.Observer.ObserveNotify(true)
	}
	return q.cfg.Notifier.Notify()
}

// validateSend checks a send request against the queue's limits and
// returns its wire opcode and flags.
func (q *Queue) validateSend(wr *verbs.SendWR) (uapi.WROpcode, uapi.SendFlags, error) {
	op := xlate.WROpcodeToWire(wr.Opcode)
	if op == uapi.WROpcodeInvalid {
		return 0, 0, fmt.Errorf("%w: opcode %s", ErrUnsupportedOperation, wr.Opcode)
	}
	switch q.cfg.QPType {
	case verbs.QPTypeRC:
	case verbs.QPTypeUD:
		if op != uapi.VIRTIO_IB_WR_SEND && op != uapi.VIRTIO_IB_WR_SEND_WITH_IMM {
			return 0, 0, fmt.Errorf("%w: opcode %s on a UD queue pair", ErrUnsupportedOperation, wr.Opcode)
		}
	default:
		return 0, 0, fmt.Errorf("%w: queue pair type %s", ErrUnsupportedOperation, q.cfg.QPType)
	}

	flags := xlate.SendFlagsToWire(wr.SendFlags)
	if flags == uapi.SendFlagsInvalid {
		return 0, 0, fmt.Errorf("%w: send flags %#x", ErrUnsupportedOperation, uint32(wr.SendFlags))
	}
	if len(wr.SGList) > q.cfg.MaxSGE {
		return 0, 0, fmt.Errorf("%w: %d SGEs, limit %d", ErrInvalidArgument, len(wr.SGList), q.cfg.MaxSGE)
	}
	if wr.SendFlags&verbs.SendInline != 0 {
		if n := wr.PayloadLen(); n > uint64(q.cfg.MaxInline) {
			return 0, 0, fmt.Errorf("%w: %d inline bytes, limit %d", ErrInvalidArgument, n, q.cfg.MaxInline)
		}
	}
	return op, flags, nil
}

func (q *Queue) postSend(wr *verbs.SendWR) error {
	op, flags, err := q.validateSend(wr)
	if err != nil {
		return err
	}

	e, ok := q.ring.Acquire()
	if !ok {
		return ErrResourceExhausted
	}

	req := uapi.SQReq{
		WRID:      wr.WRID,
		Opcode:    op,
		SendFlags: flags,
		ImmData:   wr.ImmData,
	}
	if q.cfg.QPType == verbs.QPTypeUD {
		req.UD = true
		req.RemoteQPN = wr.UD.RemoteQPN
		req.RemoteQKey = wr.UD.RemoteQKey
		req.AH = wr.UD.AH
	} else {
		req.RemoteAddr = wr.RDMA.RemoteAddr
		req.RKey = wr.RDMA.RKey
	}

	var payload int
	if wr.SendFlags&verbs.SendInline != 0 {
		payload = int(wr.PayloadLen())
		req.InlineLen = uint32(payload)
	} else {
		payload = len(wr.SGList) * uapi.SGESize
		req.NumSGE = uint32(len(wr.SGList))
	}
	length := uapi.SQReqHeaderSize + payload
	if length > len(e.Buf) {
		q.ring.Recycle(e)
		return fmt.Errorf("%w: record of %d bytes in a %d byte slot", ErrInvalidArgument, length, len(e.Buf))
	}

	if err := req.MarshalTo(e.Buf); err != nil {
		q.ring.Recycle(e)
		return err
	}
	body := e.Buf[uapi.SQReqHeaderSize:length]
	if wr.SendFlags&verbs.SendInline != 0 {
		n := 0
		for i := range wr.SGList {
			n += copy(body[n:], wr.SGList[i].Bytes())
		}
	} else {
		putSGEs(body, wr.SGList)
	}

	q.ring.Submit(e, uint32(length))
	return nil
}

func (q *Queue) postRecv(wr *verbs.RecvWR) error {
	if len(wr.SGList) > q.cfg.MaxSGE {
		return fmt.Errorf("%w: %d SGEs, limit %d", ErrInvalidArgument, len(wr.SGList), q.cfg.MaxSGE)
	}

	e, ok := q.ring.Acquire()
	if !ok {
		return ErrResourceExhausted
	}

	length := uapi.RQReqHeaderSize + len(wr.SGList)*uapi.SGESize
	if length > len(e.Buf) {
		q.ring.Recycle(e)
		return fmt.Errorf("%w: record of %d bytes in a %d byte slot", ErrInvalidArgument, length, len(e.Buf))
	}
	req := uapi.RQReq{WRID: wr.WRID, NumSGE: uint32(len(wr.SGList))}
	if err := req.MarshalTo(e.Buf); err != nil {
		q.ring.Recycle(e)
		return err
	}
	putSGEs(e.Buf[uapi.RQReqHeaderSize:length], wr.SGList)

	q.ring.Submit(e, uint32(length))
	return nil
}

func putSGEs(b []byte, sgl []verbs.SGE) {
	for i := range sgl {
		s := uapi.SGE{Addr: sgl[i].Addr, Length: sgl[i].Length, LKey: sgl[i].LKey}
		s.MarshalTo(b[i*uapi.SGESize:])
	}
}
