// Package ctrl is the command channel to a virtio-rdma uverbs device. It
// issues legacy write() commands on the character device and maps the
// queue regions the device exports.
package ctrl

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-vrdma/internal/constants"
	"github.com/ehrlich-b/go-vrdma/internal/logging"
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/uring"
)

const DefaultPath = constants.DefaultUverbsPath

type fdWriter int

func (fd fdWriter) Write(b []byte) (int, error) {
	return unix.Write(int(fd), b)
}

// Controller owns an open uverbs device file.
//
// Command responses are written by the kernel into one page mapped outside
// the Go heap, so commands are serialized.
type Controller struct {
	fd     int
	path   string
	w      io.Writer
	ring   uring.Writer
	logger *logging.Logger
	info   uapi.GetContextResp

	mu   sync.Mutex
	page []byte

	commands  atomic.Uint64
	failures  atomic.Uint64
	slowKicks atomic.Uint64
	mapped    atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Open opens the uverbs device at path and allocates its user context.
func Open(path string, opts Options) (*Controller, error) {
	if path == "" {
		path = DefaultPath
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	c, err := FromFD(fd, path, opts)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return c, nil
}

// FromFD builds a Controller on an already open device and allocates its
// user context. On success the Controller owns fd.
func FromFD(fd int, path string, opts Options) (*Controller, error) {
	var w io.Writer = fdWriter(fd)
	var ring uring.Writer
	if opts.URing {
		var err error
		ring, err = uring.NewWriter(uring.Config{Entries: opts.URingEntries, FD: int32(fd)})
		if err != nil {
			return nil, err
		}
		w = ring
	}

	c, err := newController(fd, path, w, opts.Logger)
	if err != nil {
		if ring != nil {
			ring.Close()
		}
		return nil, err
	}
	c.ring = ring

	if err := c.getContext(); err != nil {
		c.release()
		return nil, err
	}
	c.logger.Debug("uverbs context allocated",
		"async_fd", c.info.AsyncFD,
		"comp_vectors", c.info.NumCompVectors,
		"uring", opts.URing)
	return c, nil
}

func newController(fd int, path string, w io.Writer, logger *logging.Logger) (*Controller, error) {
	if logger == nil {
		logger = logging.Default()
	}
	page, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("response page: %w", err)
	}
	return &Controller{
		fd:     fd,
		path:   path,
		w:      w,
		page:   page,
		logger: logger.WithDevice(path),
	}, nil
}

// exchange issues one command built around the response address and
// returns a copy of the respSize bytes the kernel wrote back.
func (c *Controller) exchange(build func(resp uint64) []byte, respSize int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil, unix.EBADF
	}

	resp := c.page[:respSize]
	clear(resp)
	cmd := build(uint64(uintptr(unsafe.Pointer(&resp[0]))))

	c.commands.Add(1)
	n, err := c.w.Write(cmd)
	if err == nil && n != len(cmd) {
		err = fmt.Errorf("short command write: %d of %d bytes", n, len(cmd))
	}
	if err != nil {
		c.failures.Add(1)
		hdr, _ := uapi.UnmarshalCmdHdr(cmd)
		return nil, fmt.Errorf("%s: %w", commandName(hdr.Command), err)
	}
	return bytes.Clone(resp), nil
}

func (c *Controller) getContext() error {
	resp, err := c.exchange(uapi.MarshalGetContext, uapi.GetContextRespSize)
	if err != nil {
		return err
	}
	info, err := uapi.UnmarshalGetContextResp(resp)
	if err != nil {
		return err
	}
	c.info = info
	return nil
}

// Context returns what GET_CONTEXT reported.
func (c *Controller) Context() uapi.GetContextResp { return c.info }

// Path returns the device path.
func (c *Controller) Path() string { return c.path }

func (c *Controller) CreateCQ(cmd uapi.CreateCQCmd) (uapi.CreateCQResp, error) {
	resp, err := c.exchange(cmd.Marshal, uapi.CreateCQRespSize)
	if err != nil {
		return uapi.CreateCQResp{}, err
	}
	r, err := uapi.UnmarshalCreateCQResp(resp)
	if err != nil {
		return r, err
	}
	c.logger.WithCQ(r.CQHandle).Debug("CREATE_CQ completed",
		"cqe", r.CQE,
		"slots", r.NumCQE,
		"descriptors", r.NumCVQE,
		"region", r.CQSize)
	return r, nil
}

func (c *Controller) DestroyCQ(handle uint32) error {
	_, err := c.exchange(func(resp uint64) []byte {
		return uapi.MarshalDestroyCQ(handle, resp)
	}, uapi.DestroyCQRespSize)
	if err != nil {
		return err
	}
	c.logger.WithCQ(handle).Debug("DESTROY_CQ completed")
	return nil
}

func (c *Controller) CreateQP(cmd uapi.CreateQPCmd) (uapi.CreateQPResp, error) {
	resp, err := c.exchange(cmd.Marshal, uapi.CreateQPRespSize)
	if err != nil {
		return uapi.CreateQPResp{}, err
	}
	r, err := uapi.UnmarshalCreateQPResp(resp)
	if err != nil {
		return r, err
	}
	c.logger.WithQP(r.QPHandle).Debug("CREATE_QP completed",
		"qpn", r.QPN,
		"sq_slots", r.NumSQE,
		"rq_slots", r.NumRQE,
		"doorbell", r.NotifierSize)
	return r, nil
}

func (c *Controller) DestroyQP(handle uint32) error {
	_, err := c.exchange(func(resp uint64) []byte {
		return uapi.MarshalDestroyQP(handle, resp)
	}, uapi.DestroyQPRespSize)
	if err != nil {
		return err
	}
	c.logger.WithQP(handle).Debug("DESTROY_QP completed")
	return nil
}

// NotifyQueue kicks one work queue with a POST_SEND or POST_RECV that
// carries no work requests.
func (c *Controller) NotifyQueue(qpHandle uint32, send bool) error {
	c.slowKicks.Add(1)
	_, err := c.exchange(func(resp uint64) []byte {
		return uapi.MarshalNullPost(qpHandle, send, resp)
	}, uapi.PostRespSize)
	return err
}

// Map maps length bytes of the device file at offset, shared with the
// device.
func (c *Controller) Map(offset int64, length int) ([]byte, error) {
	b, err := unix.Mmap(c.fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap offset %#x length %d: %w", offset, length, err)
	}
	c.mapped.Add(int64(length))
	return b, nil
}

func (c *Controller) Unmap(region []byte) error {
	if len(region) == 0 {
		return nil
	}
	n := len(region)
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	c.mapped.Add(-int64(n))
	return nil
}

// Stats returns command channel counters.
func (c *Controller) Stats() map[string]uint64 {
	return map[string]uint64{
		"commands":     c.commands.Load(),
		"failures":     c.failures.Load(),
		"slow_kicks":   c.slowKicks.Load(),
		"mapped_bytes": uint64(c.mapped.Load()),
	}
}

// release frees the response page and the io_uring but leaves fd open.
func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ring != nil {
		c.ring.Close()
		c.ring = nil
	}
	if c.page != nil {
		unix.Munmap(c.page)
		c.page = nil
	}
}

func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.release()
		c.closeErr = unix.Close(c.fd)
		c.logger.Debug("uverbs device closed")
	})
	return c.closeErr
}

// SetLogger sets the logger for this controller
func (c *Controller) SetLogger(logger *logging.Logger) {
	if logger != nil {
		c.logger = logger.WithDevice(c.path)
	}
}
