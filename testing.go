package vrdma

import (
	"sync"
	"syscall"

	"github.com/ehrlich-b/go-vrdma/backend"
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
)

// Mock device operations, for FailNext and CallCounts.
const (
	MockCreateCQ  = "create_cq"
	MockDestroyCQ = "destroy_cq"
	MockCreateQP  = "create_qp"
	MockDestroyQP = "destroy_qp"
	MockMap       = "map"
	MockUnmap     = "unmap"
	MockNotify    = "notify"
)

// MockDevice is a loopback device that counts command channel calls and
// can be told to fail them. It is useful for unit testing applications
// built on a Context without a virtio-rdma device.
type MockDevice struct {
	lb *backend.Loopback

	mu       sync.RWMutex
	calls    map[string]int
	failures map[string][]error
	closed   bool
}

// NewMockDevice creates a mock device over a fresh loopback device.
func NewMockDevice(opts backend.Options) *MockDevice {
	return &MockDevice{
		lb:       backend.NewLoopback(opts),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// Loopback returns the underlying device, to connect queue pairs and to
// drive it with Process or Run.
func (m *MockDevice) Loopback() *backend.Loopback { return m.lb }

// Process runs one pass of the loopback device.
func (m *MockDevice) Process() int { return m.lb.Process() }

// Connect wires two RC queue pairs to each other.
func (m *MockDevice) Connect(a, b *QP) error { return m.lb.Connect(a.QPN(), b.QPN()) }

// FailNext makes the next call of op return err instead of reaching the
// loopback device. Repeated calls queue up failures in order.
func (m *MockDevice) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

func (m *MockDevice) enter(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if m.closed {
		return syscall.ENODEV
	}
	if q := m.failures[op]; len(q) > 0 {
		m.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

// CreateCQ implements Device
func (m *MockDevice) CreateCQ(cmd uapi.CreateCQCmd) (uapi.CreateCQResp, error) {
	if err := m.enter(MockCreateCQ); err != nil {
		return uapi.CreateCQResp{}, err
	}
	return m.lb.CreateCQ(cmd)
}

// DestroyCQ implements Device
func (m *MockDevice) DestroyCQ(handle uint32) error {
	if err := m.enter(MockDestroyCQ); err != nil {
		return err
	}
	return m.lb.DestroyCQ(handle)
}

// CreateQP implements Device
func (m *MockDevice) CreateQP(cmd uapi.CreateQPCmd) (uapi.CreateQPResp, error) {
	if err := m.enter(MockCreateQP); err != nil {
		return uapi.CreateQPResp{}, err
	}
	return m.lb.CreateQP(cmd)
}

// DestroyQP implements Device
func (m *MockDevice) DestroyQP(handle uint32) error {
	if err := m.enter(MockDestroyQP); err != nil {
		return err
	}
	return m.lb.DestroyQP(handle)
}

// Map implements Device
func (m *MockDevice) Map(offset int64, length int) ([]byte, error) {
	if err := m.enter(MockMap); err != nil {
		return nil, err
	}
	return m.lb.Map(offset, length)
}

// Unmap implements Device
func (m *MockDevice) Unmap(region []byte) error {
	if err := m.enter(MockUnmap); err != nil {
		return err
	}
	return m.lb.Unmap(region)
}

// NotifyQueue implements Device
func (m *MockDevice) NotifyQueue(qpHandle uint32, send bool) error {
	if err := m.enter(MockNotify); err != nil {
		return err
	}
	return m.lb.NotifyQueue(qpHandle, send)
}

// Stats returns the loopback counters
func (m *MockDevice) Stats() map[string]uint64 {
	return m.lb.Stats()
}

// Close closes the loopback device
func (m *MockDevice) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.lb.Close()
}

// Testing utility methods

// IsClosed returns true if the device has been closed
func (m *MockDevice) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// CallCounts returns the number of times each operation has been called
func (m *MockDevice) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(m.calls))
	for k, v := range m.calls {
		counts[k] = v
	}
	return counts
}

// Reset clears call counters and pending failures
func (m *MockDevice) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = make(map[string]int)
	m.failures = make(map[string][]error)
}

// Compile-time interface checks
var (
	_ Device = (*MockDevice)(nil)
)
