//go:build linux

package uring

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/ehrlich-b/go-vrdma/internal/logging"
)

type ringWriter struct {
	mu     sync.Mutex
	ring   *giouring.Ring
	fd     int
	seq    uint64
	closed bool
}

func newWriter(cfg Config) (Writer, error) {
	logger := logging.Default()
	logger.Debug("creating io_uring", "entries", cfg.Entries, "fd", cfg.FD)

	ring, err := giouring.CreateRing(cfg.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create io_uring: %w", err)
	}
	return &ringWriter{ring: ring, fd: int(cfg.FD)}, nil
}

// Write submits one IORING_OP_WRITE of b and waits for its completion.
// b must stay untouched until Write returns; commands that carry response
// pointers rely on that.
func (w *ringWriter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, syscall.EBADF
	}

	sqe := w.ring.GetSQE()
	if sqe == nil {
		return 0, ErrRingFull
	}
	w.seq++
	sqe.PrepareWrite(w.fd, uintptr(unsafe.Pointer(&b[0])), uint32(len(b)), 0)
	sqe.UserData = w.seq

	if _, err := w.ring.SubmitAndWait(1); err != nil {
		return 0, fmt.Errorf("io_uring submit: %w", err)
	}
	cqe, err := w.ring.WaitCQE()
	if err != nil {
		return 0, fmt.Errorf("io_uring wait: %w", err)
	}
	res, data := cqe.Res, cqe.UserData
	w.ring.CQESeen(cqe)
	runtime.KeepAlive(b)

	if data != w.seq {
		return 0, fmt.Errorf("io_uring completion %d for submission %d", data, w.seq)
	}
	if res < 0 {
		return 0, syscall.Errno(-res)
	}
	return int(res), nil
}

func (w *ringWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.ring.QueueExit()
	return nil
}
