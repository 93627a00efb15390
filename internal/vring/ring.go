// Package vring implements the driver side of a virtio split ring living in
// memory shared with the device, plus a device-side view of the same ring.
//
// The driver publishes descriptors through the available ring and reclaims
// them from the used ring. Descriptor i always points at buffer pool entry
// i, so no descriptor chaining or id mapping is needed. Index publication
// uses sync/atomic loads and stores on the 32-bit flags/idx header word:
// everything written before a store is visible to a reader that observes it.
package vring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/ehrlich-b/go-vrdma/internal/bufpool"
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
)

// Ring is the driver half of one split virtqueue. It is not safe for
// concurrent use.
type Ring struct {
	num  int
	mask uint16
	parts

	doorbell *uint32
	queueIdx uint32

	pool      *bufpool.Pool
	descFlags uint16

	_          cpu.CacheLinePad
	availIdx   uint16
	availFlags uint16

	_        cpu.CacheLinePad
	lastUsed uint16
}

// Attach binds a ring of num descriptors to region. The descriptor table
// starts at offset 0, the available ring follows it, and the used ring
// starts at usedOffset. No device I/O happens here.
func Attach(region []byte, num int, usedOffset int) (*Ring, error) {
	p, err := split(region, num, usedOffset)
	if err != nil {
		return nil, err
	}
	r := &Ring{
		num:   num,
		mask:  uint16(num - 1),
		parts: p,
	}
	// Start from whatever indices the device initialized.
	r.availIdx = wordIdx(atomic.LoadUint32(r.availWord))
	r.lastUsed = wordIdx(atomic.LoadUint32(r.usedWord))
	return r, nil
}

// InitPool creates the buffer pool backing the ring's descriptors over
// window, whose first byte the device sees at baseAddr. Descriptors of a
// completion ring are marked device-writable.
func (r *Ring) InitPool(window []byte, baseAddr uint64, count, slotSize int, forCompletion bool) error {
	if count > r.num {
		return fmt.Errorf("%w: %d entries, %d descriptors", ErrPoolTooLarge, count, r.num)
	}
	p, err := bufpool.New(window, baseAddr, count, slotSize)
	if err != nil {
		return err
	}
	r.pool = p
	r.descFlags = 0
	if forCompletion {
		r.descFlags = uapi.VRING_DESC_F_WRITE
	}
	return nil
}

// SetDoorbell maps the doorbell word. Notify writes index into it.
func (r *Ring) SetDoorbell(word []byte, index uint32) error {
	if len(word) < 4 || uintptr(unsafe.Pointer(&word[0]))%4 != 0 {
		return fmt.Errorf("%w: doorbell must be an aligned 32-bit word", ErrBadLayout)
	}
	r.doorbell = (*uint32)(unsafe.Pointer(&word[0]))
	r.queueIdx = index
	return nil
}

// HasDoorbell reports whether a doorbell word is mapped.
func (r *Ring) HasDoorbell() bool { return r.doorbell != nil }

// Pool returns the ring's buffer pool.
func (r *Ring) Pool() *bufpool.Pool { return r.pool }

// Num returns the descriptor count.
func (r *Ring) Num() int { return r.num }

// Acquire pops a free buffer. It returns false when none is free.
func (r *Ring) Acquire() (*bufpool.Entry, bool) {
	return r.pool.Get()
}

// Recycle returns an acquired buffer that will not be submitted.
func (r *Ring) Recycle(e *bufpool.Entry) {
	r.pool.Put(e)
}

// Submit makes e available to the device with the given length. The
// descriptor and avail slot are written first; the new avail index is then
// published with a release store. Submit does not notify the device.
func (r *Ring) Submit(e *bufpool.Entry, length uint32) {
	d := r.desc[int(e.Index)*uapi.VringDescSize:]
	le.PutUint64(d[0:8], e.Addr)
	le.PutUint32(d[8:12], length)
	le.PutUint16(d[12:14], r.descFlags)
	le.PutUint16(d[14:16], 0)

	slot := int(r.availIdx & r.mask)
	le.PutUint16(r.avail[uapi.VringAvailHdrSize+2*slot:], e.Index)

	r.pool.MarkInFlight(e, length)
	r.availIdx++
	atomic.StoreUint32(r.availWord, makeWord(r.availFlags, r.availIdx))
}

// GetCompleted returns the next buffer the device has finished with, or
// nil when there is none. The returned entry is owned by the caller, with
// Written set to the length the device reported.
func (r *Ring) GetCompleted() (*bufpool.Entry, error) {
	usedIdx := wordIdx(atomic.LoadUint32(r.usedWord))
	if usedIdx == r.lastUsed {
		return nil, nil
	}
	if pending := usedIdx - r.lastUsed; int(pending) > r.num {
		return nil, fmt.Errorf("%w: %d entries pending on a ring of %d", ErrBadUsedIndex, pending, r.num)
	}

	slot := int(r.lastUsed & r.mask)
	elem := r.used[uapi.VringUsedHdrSize+uapi.VringUsedElemSize*slot:]
	id := le.Uint32(elem[0:4])
	length := le.Uint32(elem[4:8])
	r.lastUsed++

	e, err := r.pool.Complete(id, length)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadUsedID, err)
	}
	return e, nil
}

// NeedsNotify reports whether the device asked to be kicked. A device that
// polls the ring sets VRING_USED_F_NO_NOTIFY.
func (r *Ring) NeedsNotify() bool {
	return wordFlags(atomic.LoadUint32(r.usedWord))&uapi.VRING_USED_F_NO_NOTIFY == 0
}

// Notify writes the queue index into the doorbell. It returns false when no
// doorbell is mapped and the caller must use the slow path.
func (r *Ring) Notify() bool {
	if r.doorbell == nil {
		return false
	}
	atomic.StoreUint32(r.doorbell, r.queueIdx)
	return true
}

// SuppressInterrupts sets or clears VRING_AVAIL_F_NO_INTERRUPT, telling the
// device the driver polls for used buffers.
func (r *Ring) SuppressInterrupts(on bool) {
	if on {
		r.availFlags |= uapi.VRING_AVAIL_F_NO_INTERRUPT
	} else {
		r.availFlags &^= uapi.VRING_AVAIL_F_NO_INTERRUPT
	}
	atomic.StoreUint32(r.availWord, makeWord(r.availFlags, r.availIdx))
}
