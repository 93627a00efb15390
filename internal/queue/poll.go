package queue

import (
	"fmt"

	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/verbs"
	"github.com/ehrlich-b/go-vrdma/internal/xlate"
)

// Poll fills wc with up to len(wc) completions and returns how many were
// written. It never blocks. Each slot is handed back to the device as
// soon as its record has been copied out.
//
// A record carrying a status, opcode or flag the translation tables do not
// know is still returned (with the invalid sentinel in that field) and
// counted, but polling stops there and a RequestError wrapping
// ErrProtocolMismatch names it.
//
// QPNum is left zero; mapping completions to queue pairs is up to the
// caller.
func (q *Queue) Poll(wc []verbs.WC) (int, error) {
	if q.cfg.Kind != KindCompletion {
		return 0, fmt.Errorf("%w: poll on %s", ErrInvalidArgument, q.cfg.Kind)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	n := 0
	for n < len(wc) {
		e, err := q.ring.GetCompleted()
		if err != nil {
			return n, fmt.Errorf("%w: %w", ErrProtocolMismatch, err)
		}
		if e == nil {
			break
		}

		rec, err := uapi.UnmarshalCQReq(e.Buf)
		// The slot goes back to the device whether or not the record is good.
		q.ring.Submit(e, e.Len)
		if err != nil {
			return n, fmt.Errorf("%w: %w", ErrProtocolMismatch, err)
		}

		w := &wc[n]
		*w = verbs.WC{
			WRID:      rec.WRID,
			Status:    xlate.WCStatusFromWire(rec.Status),
			Opcode:    xlate.WCOpcodeFromWire(rec.Opcode),
			VendorErr: rec.VendorErr,
			ByteLen:   rec.ByteLen,
			ImmData:   rec.ImmData,
			SrcQP:     rec.SrcQP,
			WCFlags:   xlate.WCFlagsFromWire(rec.WCFlags),
		}
		n++

		if w.Status == verbs.WCStatusInvalid || w.Opcode == verbs.WCOpcodeInvalid || w.WCFlags == verbs.WCFlagsInvalid {
			return n, &RequestError{
				Index: n - 1,
				WRID:  rec.WRID,
				Err: fmt.Errorf("%w: status=%d opcode=%d flags=%#x",
					ErrProtocolMismatch, rec.Status, rec.Opcode, uint8(rec.WCFlags)),
			}
		}
	}
	return n, nil
}
