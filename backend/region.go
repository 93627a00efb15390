package backend

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-vrdma/internal/vring"
)

// noKick marks a doorbell word the device has already consumed.
const noKick = ^uint32(0)

// region is one exported queue: a split ring, its buffer window and an
// optional doorbell word, in a single anonymous shared mapping.
type region struct {
	mem     []byte
	offset  int64
	num     int
	usedOff int
	vqSize  int
	bufAddr uint64
	window  []byte
	dev     *vring.DeviceView

	doorbell *uint32
	dbIndex  uint32

	maps      int
	destroyed bool
}

type regionSpec struct {
	num      int
	slotSize int
	align    int
	doorbell bool
	dbIndex  uint32
}

func (s regionSpec) layout() (usedOff, vqSize, size int) {
	usedOff, vqSize = vring.Layout(s.num, s.align)
	vqSize = (vqSize + 63) &^ 63
	size = vqSize + s.num*s.slotSize
	if s.doorbell {
		size += doorbellSize
	}
	return usedOff, vqSize, size
}

func newRegion(offset int64, physBase uint64, spec regionSpec) (*region, error) {
	usedOff, vqSize, size := spec.layout()
	mapLen := (size + pageSize - 1) &^ (pageSize - 1)
	mem, err := unix.Mmap(-1, 0, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("queue region of %d bytes: %w", mapLen, err)
	}
	mem = mem[:size]

	dev, err := vring.NewDeviceView(mem[:vqSize], spec.num, usedOff)
	if err != nil {
		unix.Munmap(mem[:mapLen])
		return nil, err
	}
	r := &region{
		mem:     mem,
		offset:  offset,
		num:     spec.num,
		usedOff: usedOff,
		vqSize:  vqSize,
		bufAddr: physBase + uint64(offset) + uint64(vqSize),
		window:  mem[vqSize : vqSize+spec.num*spec.slotSize],
		dev:     dev,
	}
	if spec.doorbell {
		r.doorbell = (*uint32)(unsafe.Pointer(&mem[size-doorbellSize]))
		r.dbIndex = spec.dbIndex
		atomic.StoreUint32(r.doorbell, noKick)
	}
	return r, nil
}

// slot returns the window bytes a descriptor points at.
func (r *region) slot(d vring.Desc) ([]byte, bool) {
	if d.Addr < r.bufAddr {
		return nil, false
	}
	off := d.Addr - r.bufAddr
	end := off + uint64(d.Len)
	if end > uint64(len(r.window)) {
		return nil, false
	}
	return r.window[off:end], true
}

// kicked consumes a doorbell write, if any.
func (r *region) kicked() bool {
	if r.doorbell == nil {
		return false
	}
	return atomic.SwapUint32(r.doorbell, noKick) != noKick
}

func (r *region) free() {
	if r.mem == nil {
		return
	}
	n := (cap(r.mem) + pageSize - 1) &^ (pageSize - 1)
	unix.Munmap(r.mem[:n:n])
	r.mem = nil
	r.window = nil
	r.dev = nil
	r.doorbell = nil
}

// release frees the memory once the device and every mapping are done.
func (r *region) release() {
	if r.destroyed && r.maps == 0 {
		r.free()
	}
}
