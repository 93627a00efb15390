package vring

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/ehrlich-b/go-vrdma/internal/uapi"
)

// MaxDescriptors is the largest split ring the virtio spec allows.
const MaxDescriptors = 32768

var (
	// ErrBadLayout is returned when a region cannot hold the ring
	// described by the descriptor count and used ring offset.
	ErrBadLayout = errors.New("vring: invalid ring layout")

	// ErrBadUsedID is returned when the device reports a used element
	// that does not name an in-flight descriptor.
	ErrBadUsedID = errors.New("vring: device returned an invalid descriptor id")

	// ErrBadUsedIndex is returned when the device's used index runs ahead
	// of the driver by more than the ring size.
	ErrBadUsedIndex = errors.New("vring: device used index out of range")

	// ErrPoolTooLarge is returned when a pool has more entries than the
	// ring has descriptors.
	ErrPoolTooLarge = errors.New("vring: pool larger than descriptor table")
)

var le = binary.LittleEndian

// The avail and used headers are published as a single 32-bit word holding
// flags in the low half and idx in the high half. That reading of the
// little-endian ring only holds on a little-endian host.
var hostLittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// Layout returns the used ring offset and total size of a split ring of
// num descriptors with the used ring aligned to align bytes.
func Layout(num, align int) (usedOffset, size int) {
	if align < 4 {
		align = 4
	}
	availEnd := availOffset(num) + uapi.VringAvailHdrSize + 2*num + uapi.VringEventFieldSize
	usedOffset = (availEnd + align - 1) &^ (align - 1)
	size = usedOffset + usedLen(num)
	return usedOffset, size
}

func availOffset(num int) int { return num * uapi.VringDescSize }

func usedLen(num int) int {
	return uapi.VringUsedHdrSize + uapi.VringUsedElemSize*num + uapi.VringEventFieldSize
}

// parts splits region into the descriptor table, avail ring and used ring.
type parts struct {
	desc      []byte
	avail     []byte
	used      []byte
	availWord *uint32
	usedWord  *uint32
}

func split(region []byte, num, usedOff int) (parts, error) {
	if !hostLittleEndian {
		return parts{}, fmt.Errorf("%w: big-endian host", ErrBadLayout)
	}
	if num <= 0 || num > MaxDescriptors || num&(num-1) != 0 {
		return parts{}, fmt.Errorf("%w: descriptor count %d is not a power of two in [1, %d]", ErrBadLayout, num, MaxDescriptors)
	}
	if len(region) == 0 || uintptr(unsafe.Pointer(&region[0]))%4 != 0 {
		return parts{}, fmt.Errorf("%w: region not 4-byte aligned", ErrBadLayout)
	}
	availOff := availOffset(num)
	availEnd := availOff + uapi.VringAvailHdrSize + 2*num + uapi.VringEventFieldSize
	if usedOff < availEnd || usedOff%4 != 0 {
		return parts{}, fmt.Errorf("%w: used offset %d (avail ends at %d)", ErrBadLayout, usedOff, availEnd)
	}
	usedEnd := usedOff + usedLen(num)
	if usedEnd > len(region) {
		return parts{}, fmt.Errorf("%w: ring needs %d bytes, region has %d", ErrBadLayout, usedEnd, len(region))
	}

	return parts{
		desc:      region[:availOff:availOff],
		avail:     region[availOff:availEnd:availEnd],
		used:      region[usedOff:usedEnd:usedEnd],
		availWord: (*uint32)(unsafe.Pointer(&region[availOff])),
		usedWord:  (*uint32)(unsafe.Pointer(&region[usedOff])),
	}, nil
}

func wordFlags(w uint32) uint16 { return uint16(w) }
func wordIdx(w uint32) uint16   { return uint16(w >> 16) }
func makeWord(flags, idx uint16) uint32 {
	return uint32(flags) | uint32(idx)<<16
}
