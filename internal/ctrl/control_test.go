//go:build linux

package ctrl

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-vrdma/internal/interfaces"
	"github.com/ehrlich-b/go-vrdma/internal/logging"
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
)

var (
	_ interfaces.Device      = (*Controller)(nil)
	_ interfaces.StatDevice  = (*Controller)(nil)
	_ interfaces.CloserDevice = (*Controller)(nil)
)

type kick struct {
	handle uint32
	send   bool
}

// fakeKernel answers uverbs commands the way the driver does: it checks
// the header word counts and writes the response through the address
// carried in the command.
type fakeKernel struct {
	t      *testing.T
	calls  []uint32
	cqs    map[uint32]uapi.CreateCQCmd
	qps    map[uint32]uapi.CreateQPCmd
	kicks  []kick
	next   uint32
	failOn map[uint32]error
}

func newFakeKernel(t *testing.T) *fakeKernel {
	return &fakeKernel{
		t:      t,
		cqs:    make(map[uint32]uapi.CreateCQCmd),
		qps:    make(map[uint32]uapi.CreateQPCmd),
		next:   1,
		failOn: make(map[uint32]error),
	}
}

func response(body []byte, n int) []byte {
	addr := uintptr(binary.LittleEndian.Uint64(body[0:8]))
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func (k *fakeKernel) Write(b []byte) (int, error) {
	hdr, err := uapi.UnmarshalCmdHdr(b)
	require.NoError(k.t, err)
	require.Equal(k.t, len(b), int(hdr.InWords)*4, "in_words covers the whole command")
	k.calls = append(k.calls, hdr.Command)
	if err := k.failOn[hdr.Command]; err != nil {
		return 0, err
	}

	body := b[uapi.CmdHdrSize:]
	resp := response(body, int(hdr.OutWords)*4)
	switch hdr.Command {
	case uapi.IB_USER_VERBS_CMD_GET_CONTEXT:
		binary.LittleEndian.PutUint32(resp[0:4], 17)
		binary.LittleEndian.PutUint32(resp[4:8], 2)
	case uapi.IB_USER_VERBS_CMD_CREATE_CQ:
		cmd, _, err := uapi.UnmarshalCreateCQCmd(body)
		require.NoError(k.t, err)
		h := k.next
		k.next++
		k.cqs[h] = cmd
		r := uapi.CreateCQResp{CQHandle: h, CQE: cmd.CQE, Offset: uint64(h) << 12, NumCQE: cmd.CQE, NumCVQE: cmd.CQE}
		require.NoError(k.t, r.MarshalTo(resp))
	case uapi.IB_USER_VERBS_CMD_DESTROY_CQ:
		h := binary.LittleEndian.Uint32(body[8:12])
		if _, ok := k.cqs[h]; !ok {
			return 0, unix.EINVAL
		}
		delete(k.cqs, h)
	case uapi.IB_USER_VERBS_CMD_CREATE_QP:
		cmd, _, err := uapi.UnmarshalCreateQPCmd(body)
		require.NoError(k.t, err)
		h := k.next
		k.next++
		k.qps[h] = cmd
		r := uapi.CreateQPResp{QPHandle: h, QPN: 0x100 + h, NumSQE: cmd.MaxSendWR, NumRQE: cmd.MaxRecvWR, NotifierSize: 4}
		require.NoError(k.t, r.MarshalTo(resp))
	case uapi.IB_USER_VERBS_CMD_DESTROY_QP:
		h := binary.LittleEndian.Uint32(body[8:12])
		if _, ok := k.qps[h]; !ok {
			return 0, unix.EINVAL
		}
		delete(k.qps, h)
	case uapi.IB_USER_VERBS_CMD_POST_SEND, uapi.IB_USER_VERBS_CMD_POST_RECV:
		h, count, err := uapi.UnmarshalPostCmd(body)
		require.NoError(k.t, err)
		require.Zero(k.t, count)
		k.kicks = append(k.kicks, kick{h, hdr.Command == uapi.IB_USER_VERBS_CMD_POST_SEND})
	default:
		return 0, unix.ENOSYS
	}
	return len(b), nil
}

func newTestController(t *testing.T, k *fakeKernel) *Controller {
	t.Helper()
	fd, err := unix.MemfdCreate("vrdma-ctrl-test", unix.MFD_CLOEXEC)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(fd, 1<<20))

	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Output: &buf, Sync: true, NoColor: true})
	c, err := newController(fd, "/dev/infiniband/uverbs-test", k, logger)
	require.NoError(t, err)
	require.NoError(t, c.getContext())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetContext(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestController(t, k)

	assert.Equal(t, uapi.GetContextResp{AsyncFD: 17, NumCompVectors: 2}, c.Context())
	assert.Equal(t, "/dev/infiniband/uverbs-test", c.Path())
	assert.Equal(t, []uint32{uapi.IB_USER_VERBS_CMD_GET_CONTEXT}, k.calls)
}

func TestCreateDestroy(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestController(t, k)

	cq, err := c.CreateCQ(uapi.CreateCQCmd{UserHandle: 9, CQE: 64, CompChannel: -1})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cq.CQHandle)
	assert.Equal(t, uint32(64), cq.NumCQE)
	assert.Equal(t, uint64(1<<12), cq.Offset)
	assert.Equal(t, int32(-1), k.cqs[1].CompChannel)

	qp, err := c.CreateQP(uapi.CreateQPCmd{
		SendCQHandle: cq.CQHandle,
		RecvCQHandle: cq.CQHandle,
		MaxSendWR:    32,
		MaxRecvWR:    16,
		QPType:       uapi.IB_QPT_RC,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), qp.QPHandle)
	assert.Equal(t, uint32(0x102), qp.QPN)
	assert.Equal(t, uint32(32), qp.NumSQE)
	assert.Equal(t, uint32(4), qp.NotifierSize)

	require.NoError(t, c.DestroyQP(qp.QPHandle))
	require.NoError(t, c.DestroyCQ(cq.CQHandle))
	assert.Empty(t, k.qps)
	assert.Empty(t, k.cqs)

	err = c.DestroyCQ(cq.CQHandle)
	assert.ErrorIs(t, err, unix.EINVAL)
	assert.ErrorContains(t, err, "DESTROY_CQ")
	assert.Equal(t, uint64(1), c.Stats()["failures"])
}

func TestCommandErrorsCarryErrno(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestController(t, k)
	k.failOn[uapi.IB_USER_VERBS_CMD_CREATE_QP] = unix.ENOMEM

	_, err := c.CreateQP(uapi.CreateQPCmd{MaxSendWR: 1 << 20})
	var errno unix.Errno
	require.ErrorAs(t, err, &errno)
	assert.Equal(t, unix.ENOMEM, errno)
	assert.ErrorContains(t, err, "CREATE_QP")
}

func TestNotifyQueue(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestController(t, k)

	require.NoError(t, c.NotifyQueue(5, true))
	require.NoError(t, c.NotifyQueue(5, false))
	assert.Equal(t, []kick{{5, true}, {5, false}}, k.kicks)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats["slow_kicks"])
	assert.Equal(t, uint64(3), stats["commands"])
}

func TestMapUnmap(t *testing.T) {
	c := newTestController(t, newFakeKernel(t))

	region, err := c.Map(4096, 8192)
	require.NoError(t, err)
	require.Len(t, region, 8192)
	assert.Equal(t, uint64(8192), c.Stats()["mapped_bytes"])

	// Shared mappings of the same offset see each other's writes.
	other, err := c.Map(4096, 4096)
	require.NoError(t, err)
	region[10] = 0xAB
	assert.Equal(t, byte(0xAB), other[10])

	require.NoError(t, c.Unmap(other))
	require.NoError(t, c.Unmap(region))
	assert.Equal(t, uint64(0), c.Stats()["mapped_bytes"])
	assert.NoError(t, c.Unmap(nil))

	_, err = c.Map(3, 4096)
	assert.Error(t, err, "unaligned offset")
}

func TestCloseReleases(t *testing.T) {
	c := newTestController(t, newFakeKernel(t))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.NotifyQueue(1, true)
	assert.ErrorIs(t, err, unix.EBADF)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "CREATE_CQ", commandName(uapi.IB_USER_VERBS_CMD_CREATE_CQ))
	assert.Equal(t, "POST_RECV", commandName(uapi.IB_USER_VERBS_CMD_POST_RECV))
	assert.Equal(t, "CMD_99", commandName(99))
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open("/dev/infiniband/does-not-exist", DefaultOptions())
	assert.ErrorIs(t, err, unix.ENOENT)
}
