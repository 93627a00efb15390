// Package queue drives the send, receive and completion rings of a
// virtio-rdma device. A Queue owns one ring and its buffer pool and
// serializes every operation on it with a mutex; different queues are
// independent and may be used concurrently.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-vrdma/internal/interfaces"
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/verbs"
	"github.com/ehrlich-b/go-vrdma/internal/vring"
)

var (
	// ErrResourceExhausted means every buffer of the ring is in flight.
	ErrResourceExhausted = errors.New("no free ring buffer")
	// ErrUnsupportedOperation means the opcode is not valid for the QP type.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrInvalidArgument means a request exceeds the queue's limits.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrProtocolMismatch means the device returned something undecodable.
	ErrProtocolMismatch = errors.New("device protocol mismatch")
	// ErrMapping means the ring region could not be mapped or split.
	ErrMapping = errors.New("ring mapping failed")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("queue closed")
)

// RequestError reports the work request or completion at which an
// operation stopped. Entries before Index were processed.
type RequestError struct {
	Index int
	WRID  uint64
	Err   error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d (wr_id %#x): %v", e.Index, e.WRID, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Kind selects what a queue carries.
type Kind int

const (
	KindSend Kind = iota
	KindRecv
	KindCompletion
)

func (k Kind) String() string {
	switch k {
	case KindSend:
		return "sq"
	case KindRecv:
		return "rq"
	case KindCompletion:
		return "cq"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Notifier kicks the device through the command channel.
type Notifier interface {
	Notify() error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func() error

func (f NotifierFunc) Notify() error { return f() }

// Mapper maps and unmaps ring regions.
type Mapper interface {
	Map(offset int64, length int) ([]byte, error)
	Unmap(region []byte) error
}

// Logger receives setup messages. *logging.Logger satisfies it.
type Logger interface {
	Debugf(format string, args ...any)
}

// Config describes a queue.
type Config struct {
	Kind Kind

	// QPType, MaxSGE and MaxInline bound what a send queue accepts.
	// MaxSGE also bounds receive requests.
	QPType    verbs.QPType
	MaxSGE    int
	MaxInline int

	// Notifier is the slow path used when no doorbell word is mapped.
	Notifier Notifier
	Observer interfaces.Observer
	Logger   Logger
}

// SlotSize returns the buffer slot size a record of this queue needs.
func (c *Config) SlotSize() int {
	switch c.Kind {
	case KindSend:
		return uapi.SQSlotSize(c.MaxSGE, c.MaxInline)
	case KindRecv:
		return uapi.RQSlotSize(c.MaxSGE)
	default:
		return uapi.CQReqSize
	}
}

// Queue is one ring with its buffer pool.
type Queue struct {
	mu     sync.Mutex
	cfg    Config
	ring   *vring.Ring
	region []byte
	mapper Mapper
	closed bool
}

// New wraps a ring whose pool has already been initialized. Completion
// queues get every slot posted to the device.
func New(ring *vring.Ring, cfg Config) (*Queue, error) {
	if ring == nil || ring.Pool() == nil {
		return nil, fmt.Errorf("%w: ring has no buffer pool", ErrInvalidArgument)
	}
	switch cfg.Kind {
	case KindSend, KindRecv:
		if cfg.MaxSGE < 0 || cfg.MaxInline < 0 {
			return nil, fmt.Errorf("%w: negative limits", ErrInvalidArgument)
		}
		if !ring.HasDoorbell() && cfg.Notifier == nil {
			return nil, fmt.Errorf("%w: no doorbell and no notifier", ErrInvalidArgument)
		}
	case KindCompletion:
	default:
		return nil, fmt.Errorf("%w: unknown queue kind %d", ErrInvalidArgument, cfg.Kind)
	}

	q := &Queue{cfg: cfg, ring: ring}
	if cfg.Kind == KindCompletion {
		q.prepost()
	}
	return q, nil
}

// prepost hands every completion slot to the device so it has somewhere
// to write completions.
func (q *Queue) prepost() {
	q.ring.SuppressInterrupts(true)
	size := uint32(q.ring.Pool().SlotSize())
	for {
		e, ok := q.ring.Acquire()
		if !ok {
			return
		}
		q.ring.Submit(e, size)
	}
}

// Geometry is the device's description of one queue's ring region.
//
// The region is laid out as the virtqueue (descriptor table, avail ring,
// used ring) in [0, VQSize), the kernel buffer window in
// [VQSize, Size-DoorbellSize), and the doorbell word in the last
// DoorbellSize bytes.
type Geometry struct {
	Offset        int64  // mmap offset
	Size          int    // whole region
	VQSize        int    // virtqueue part
	UsedOffset    int    // used ring, relative to the region start
	NumDesc       int    // ring descriptors
	NumEntries    int    // buffer slots
	DoorbellSize  int    // 0 when the device has no doorbell
	DoorbellIndex uint32 // value written to the doorbell
	BufAddr       uint64 // device address of the kernel buffer window
}

func (g *Geometry) validate() error {
	if g.Size <= 0 || g.VQSize <= 0 || g.DoorbellSize < 0 {
		return fmt.Errorf("%w: region %d, vq %d, doorbell %d", ErrMapping, g.Size, g.VQSize, g.DoorbellSize)
	}
	if g.VQSize+g.DoorbellSize > g.Size {
		return fmt.Errorf("%w: vq %d and doorbell %d exceed region %d", ErrMapping, g.VQSize, g.DoorbellSize, g.Size)
	}
	if g.DoorbellSize > 0 && g.DoorbellSize < 4 {
		return fmt.Errorf("%w: doorbell of %d bytes", ErrMapping, g.DoorbellSize)
	}
	return nil
}

// Setup maps the region described by geo and builds a queue on it.
func Setup(m Mapper, geo Geometry, cfg Config) (*Queue, error) {
	if err := geo.validate(); err != nil {
		return nil, err
	}
	region, err := m.Map(geo.Offset, geo.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMapping, err)
	}
	if len(region) < geo.Size {
		err := fmt.Errorf("%w: mapped %d bytes, need %d", ErrMapping, len(region), geo.Size)
		return nil, errors.Join(err, m.Unmap(region))
	}

	q, err := attach(region, geo, cfg)
	if err != nil {
		return nil, errors.Join(err, m.Unmap(region))
	}
	q.region = region
	q.mapper = m
	if cfg.Logger != nil {
		cfg.Logger.Debugf("%s mapped: %d descriptors, %d slots of %d bytes, doorbell=%v",
			cfg.Kind, geo.NumDesc, geo.NumEntries, cfg.SlotSize(), geo.DoorbellSize > 0)
	}
	return q, nil
}

func attach(region []byte, geo Geometry, cfg Config) (*Queue, error) {
	ring, err := vring.Attach(region[:geo.VQSize], geo.NumDesc, geo.UsedOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMapping, err)
	}
	window := region[geo.VQSize : geo.Size-geo.DoorbellSize]
	if err := ring.InitPool(window, geo.BufAddr, geo.NumEntries, cfg.SlotSize(), cfg.Kind == KindCompletion); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMapping, err)
	}
	if geo.DoorbellSize > 0 {
		if err := ring.SetDoorbell(region[geo.Size-geo.DoorbellSize:], geo.DoorbellIndex); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMapping, err)
		}
	}
	return New(ring, cfg)
}

// Close stops the queue and unmaps its region if Setup mapped it.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.mapper != nil && q.region != nil {
		region := q.region
		q.region = nil
		return q.mapper.Unmap(region)
	}
	return nil
}

// Kind returns what the queue carries.
func (q *Queue) Kind() Kind { return q.cfg.Kind }

// Free returns the number of buffers available for posting.
func (q *Queue) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Pool().Free()
}

// InFlight returns the number of buffers owned by the device.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Pool().InFlight()
}

// Depth returns the number of buffer slots.
func (q *Queue) Depth() int { return q.ring.Pool().Len() }
