// Package bufpool partitions a mapped kernel buffer window into fixed-size
// slots, one per ring descriptor.
//
// Entries live in a single array and are handed out by index from a LIFO
// free list. Every entry is in exactly one of three states: free, owned by
// the caller that acquired it, or in flight on the ring. The state is kept
// per entry so that indices coming back from the device can be checked.
package bufpool

import (
	"errors"
	"fmt"
)

// MaxEntries is the largest pool a 16-bit descriptor index can address.
const MaxEntries = 1 << 16

var (
	// ErrInvalidGeometry is returned for a zero or negative slot size or
	// entry count, or more entries than a descriptor index can address.
	ErrInvalidGeometry = errors.New("bufpool: invalid pool geometry")

	// ErrWindowTooSmall is returned when count*slotSize exceeds the window.
	ErrWindowTooSmall = errors.New("bufpool: buffer window too small")

	// ErrNotInFlight is returned when the device reports an index that is
	// out of range or not currently submitted.
	ErrNotInFlight = errors.New("bufpool: entry not in flight")
)

// State is the ownership state of an entry.
type State uint8

const (
	StateFree State = iota
	StateOwned
	StateInFlight
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateOwned:
		return "owned"
	case StateInFlight:
		return "in-flight"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Entry is one slot of the kernel buffer window.
type Entry struct {
	Index uint16 // descriptor index, equal to the position in the pool
	Addr  uint64 // device address of Buf[0]
	Buf   []byte // slot memory, len == slot size

	// Len is the length the entry was last submitted with.
	Len uint32
	// Written is the length the device reported when it returned the entry.
	Written uint32

	state State
}

// State returns the entry's ownership state.
func (e *Entry) State() State { return e.state }

// Pool is a fixed set of entries over one window. It is not safe for
// concurrent use; the owning queue serializes access.
type Pool struct {
	entries  []Entry
	free     []uint16
	slotSize int
	inFlight int
}

// New partitions window into count slots of slotSize bytes. baseAddr is the
// device address of window[0].
func New(window []byte, baseAddr uint64, count, slotSize int) (*Pool, error) {
	if count <= 0 || slotSize <= 0 || count > MaxEntries {
		return nil, fmt.Errorf("%w: count=%d slot=%d", ErrInvalidGeometry, count, slotSize)
	}
	if count*slotSize > len(window) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrWindowTooSmall, count*slotSize, len(window))
	}

	p := &Pool{
		entries:  make([]Entry, count),
		free:     make([]uint16, count),
		slotSize: slotSize,
	}
	for i := range p.entries {
		off := i * slotSize
		p.entries[i] = Entry{
			Index: uint16(i),
			Addr:  baseAddr + uint64(off),
			Buf:   window[off : off+slotSize : off+slotSize],
		}
		// Pop order is ascending index.
		p.free[count-1-i] = uint16(i)
	}
	return p, nil
}

// Get pops a free entry. It returns false when every entry is owned or in
// flight.
func (p *Pool) Get() (*Entry, bool) {
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	e := &p.entries[idx]
	e.state = StateOwned
	return e, true
}

// Put returns an owned entry to the free list. Putting an entry that is not
// owned is a programming error and panics.
func (p *Pool) Put(e *Entry) {
	if e.state != StateOwned {
		panic(fmt.Sprintf("bufpool: put of %s entry %d", e.state, e.Index))
	}
	e.state = StateFree
	e.Len = 0
	e.Written = 0
	p.free = append(p.free, e.Index)
}

// MarkInFlight records that an owned entry was submitted with length.
func (p *Pool) MarkInFlight(e *Entry, length uint32) {
	if e.state != StateOwned {
		panic(fmt.Sprintf("bufpool: submit of %s entry %d", e.state, e.Index))
	}
	e.state = StateInFlight
	e.Len = length
	p.inFlight++
}

// Complete moves the in-flight entry at index back to the caller.
func (p *Pool) Complete(index uint32, written uint32) (*Entry, error) {
	if index >= uint32(len(p.entries)) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrNotInFlight, index)
	}
	e := &p.entries[index]
	if e.state != StateInFlight {
		return nil, fmt.Errorf("%w: index %d is %s", ErrNotInFlight, index, e.state)
	}
	e.state = StateOwned
	e.Written = written
	p.inFlight--
	return e, nil
}

// Entry returns the entry at index i.
func (p *Pool) Entry(i int) *Entry { return &p.entries[i] }

// Len returns the number of entries.
func (p *Pool) Len() int { return len(p.entries) }

// Free returns the number of entries on the free list.
func (p *Pool) Free() int { return len(p.free) }

// InFlight returns the number of submitted entries.
func (p *Pool) InFlight() int { return p.inFlight }

// SlotSize returns the size of each slot.
func (p *Pool) SlotSize() int { return p.slotSize }
