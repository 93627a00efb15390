package interfaces

import "github.com/ehrlich-b/go-vrdma/internal/uapi"

// Device is the command channel to a virtio-rdma device. It creates and
// destroys the objects whose rings the provider drives, maps their ring
// regions, and delivers the slow-path doorbell.
//
// Errors returned by a Device carry the backend's raw errno where there is
// one (a syscall.Errno in the chain). Callers do not retry.
type Device interface {
	// CreateCQ creates a completion queue. The response describes its ring:
	// region size and mmap offset, descriptor and slot counts, used ring
	// offset and the device address of the kernel buffer window.
	CreateCQ(cmd uapi.CreateCQCmd) (uapi.CreateCQResp, error)

	// DestroyCQ destroys the completion queue with the given handle.
	// The caller unmaps the ring region afterwards.
	DestroyCQ(handle uint32) error

	// CreateQP creates a queue pair. The response describes both work
	// queue rings and, when NotifierSize is non-zero, the doorbell word
	// placed at the end of each region.
	CreateQP(cmd uapi.CreateQPCmd) (uapi.CreateQPResp, error)

	// DestroyQP destroys the queue pair with the given handle.
	DestroyQP(handle uint32) error

	// Map maps length bytes of ring memory at the given offset. The
	// returned slice is shared with the device.
	Map(offset int64, length int) ([]byte, error)

	// Unmap releases a region returned by Map.
	Unmap(region []byte) error

	// NotifyQueue kicks the send or receive queue of a queue pair through
	// the command channel. It is used when no doorbell word is mapped.
	NotifyQueue(qpHandle uint32, send bool) error
}

// StatDevice is an optional interface for devices that expose counters.
type StatDevice interface {
	Device

	// Stats returns device-specific counters keyed by name.
	Stats() map[string]uint64
}

// CloserDevice is an optional interface for devices holding resources of
// their own (file descriptors, rings, goroutines).
type CloserDevice interface {
	Device

	// Close releases the device. No other method may be called after it.
	Close() error
}
