package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/vring"
)

const testBufAddr = 0x40000000

func alignedBytes(size int) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

// harness is a queue plus the device side of its ring.
type harness struct {
	q        *Queue
	dev      *vring.DeviceView
	window   []byte
	doorbell []byte
	notifier *countingNotifier
	observer *recordingObserver
}

func (h *harness) slot(d vring.Desc) []byte {
	off := d.Addr - testBufAddr
	return h.window[off : off+uint64(d.Len)]
}

func (h *harness) doorbellValue() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&h.doorbell[0])))
}

type harnessOpts struct {
	num      int
	doorbell bool
}

func newHarness(t *testing.T, cfg Config, opts harnessOpts) *harness {
	t.Helper()
	if opts.num == 0 {
		opts.num = 4
	}
	usedOff, size := vring.Layout(opts.num, 64)
	region := alignedBytes(size)

	ring, err := vring.Attach(region, opts.num, usedOff)
	require.NoError(t, err)
	slot := cfg.SlotSize()
	window := alignedBytes(opts.num * slot)
	require.NoError(t, ring.InitPool(window, testBufAddr, opts.num, slot, cfg.Kind == KindCompletion))

	h := &harness{
		window:   window,
		notifier: &countingNotifier{},
		observer: &recordingObserver{},
	}
	if opts.doorbell {
		h.doorbell = alignedBytes(4)
		require.NoError(t, ring.SetDoorbell(h.doorbell, 5))
	}
	if cfg.Kind != KindCompletion {
		cfg.Notifier = h.notifier
	}
	cfg.Observer = h.observer

	h.q, err = New(ring, cfg)
	require.NoError(t, err)
	h.dev, err = vring.NewDeviceView(region, opts.num, usedOff)
	require.NoError(t, err)
	return h
}

// completeAll pops every available descriptor and returns it as used.
func (h *harness) completeAll() int {
	n := 0
	for {
		d, ok := h.dev.Pop()
		if !ok {
			return n
		}
		h.dev.PushUsed(d.ID, 0)
		n++
	}
}

// deliver writes a completion record into the next posted CQ slot.
func (h *harness) deliver(t *testing.T, rec uapi.CQReq) bool {
	t.Helper()
	d, ok := h.dev.Pop()
	if !ok {
		return false
	}
	require.NoError(t, rec.MarshalTo(h.slot(d)))
	h.dev.PushUsed(d.ID, uapi.CQReqSize)
	return true
}

type countingNotifier struct {
	calls atomic.Int32
	err   error
}

func (n *countingNotifier) Notify() error {
	n.calls.Add(1)
	return n.err
}

type recordingObserver struct {
	mu        sync.Mutex
	doorbells int
	slow      int
	inFlight  []uint32
}

func (o *recordingObserver) ObservePostSend(int, int, uint64, bool) {}
func (o *recordingObserver) ObservePostRecv(int, int, uint64, bool) {}
func (o *recordingObserver) ObservePoll(int, int, uint64)           {}

func (o *recordingObserver) ObserveNotify(slow bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if slow {
		o.slow++
	} else {
		o.doorbells++
	}
}

func (o *recordingObserver) ObserveInFlight(depth uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = append(o.inFlight, depth)
}
