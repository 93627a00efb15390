package vring

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-vrdma/internal/uapi"
)

// Desc is one descriptor as seen by the device.
type Desc struct {
	ID    uint16
	Addr  uint64
	Len   uint32
	Flags uint16
}

// Writable reports whether the device may write into the buffer.
func (d Desc) Writable() bool { return d.Flags&uapi.VRING_DESC_F_WRITE != 0 }

// DeviceView is the device half of a split ring: it consumes the available
// ring and publishes the used ring. Backends that live in the same process
// as the driver use it, and so do tests.
type DeviceView struct {
	num  int
	mask uint16
	parts

	lastAvail uint16
	usedIdx   uint16
	usedFlags uint16
}

// NewDeviceView binds the device side of the ring laid out in region.
func NewDeviceView(region []byte, num int, usedOffset int) (*DeviceView, error) {
	p, err := split(region, num, usedOffset)
	if err != nil {
		return nil, err
	}
	return &DeviceView{
		num:   num,
		mask:  uint16(num - 1),
		parts: p,
	}, nil
}

// Pending returns how many available descriptors have not been consumed.
func (d *DeviceView) Pending() int {
	return int(wordIdx(atomic.LoadUint32(d.availWord)) - d.lastAvail)
}

// Peek returns the next available descriptor without consuming it.
func (d *DeviceView) Peek() (Desc, bool) {
	availIdx := wordIdx(atomic.LoadUint32(d.availWord))
	if availIdx == d.lastAvail {
		return Desc{}, false
	}
	slot := int(d.lastAvail & d.mask)
	id := le.Uint16(d.avail[uapi.VringAvailHdrSize+2*slot:])
	if int(id) >= d.num {
		return Desc{ID: id}, true
	}
	e := d.desc[int(id)*uapi.VringDescSize:]
	return Desc{
		ID:    id,
		Addr:  le.Uint64(e[0:8]),
		Len:   le.Uint32(e[8:12]),
		Flags: le.Uint16(e[12:14]),
	}, true
}

// Pop consumes the next available descriptor.
func (d *DeviceView) Pop() (Desc, bool) {
	desc, ok := d.Peek()
	if ok {
		d.lastAvail++
	}
	return desc, ok
}

// PushUsed returns descriptor id to the driver with the number of bytes
// written into it, then publishes the new used index.
func (d *DeviceView) PushUsed(id uint16, written uint32) {
	slot := int(d.usedIdx & d.mask)
	e := d.used[uapi.VringUsedHdrSize+uapi.VringUsedElemSize*slot:]
	le.PutUint32(e[0:4], uint32(id))
	le.PutUint32(e[4:8], written)
	d.usedIdx++
	atomic.StoreUint32(d.usedWord, makeWord(d.usedFlags, d.usedIdx))
}

// SetNoNotify sets or clears VRING_USED_F_NO_NOTIFY.
func (d *DeviceView) SetNoNotify(on bool) {
	if on {
		d.usedFlags |= uapi.VRING_USED_F_NO_NOTIFY
	} else {
		d.usedFlags &^= uapi.VRING_USED_F_NO_NOTIFY
	}
	atomic.StoreUint32(d.usedWord, makeWord(d.usedFlags, d.usedIdx))
}

// InterruptsSuppressed reports whether the driver set
// VRING_AVAIL_F_NO_INTERRUPT.
func (d *DeviceView) InterruptsSuppressed() bool {
	return wordFlags(atomic.LoadUint32(d.availWord))&uapi.VRING_AVAIL_F_NO_INTERRUPT != 0
}
