package uapi

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test structure sizes match the driver ABI
func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"SGE", unsafe.Sizeof(SGE{}), 16},
		{"RQReq", unsafe.Sizeof(RQReq{}), 16},
		{"CQReq", unsafe.Sizeof(CQReq{}), 32},
		{"CmdHdr", unsafe.Sizeof(CmdHdr{}), 8},
		{"CreateCQResp", unsafe.Sizeof(CreateCQResp{}), 48},
		{"CreateQPResp", unsafe.Sizeof(CreateQPResp{}), 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.size) != tt.expected {
				t.Errorf("%s size = %d, want %d", tt.name, tt.size, tt.expected)
			}
		})
	}
}

func TestSlotSizes(t *testing.T) {
	assert.Equal(t, 64+4*16, SQSlotSize(4, 64))
	assert.Equal(t, 64+256, SQSlotSize(4, 256))
	assert.Equal(t, 64, SQSlotSize(0, 0))
	assert.Equal(t, 16+2*16, RQSlotSize(2))
}

func TestSQReqLayout(t *testing.T) {
	buf := make([]byte, SQReqHeaderSize)
	for i := range buf {
		buf[i] = 0xAA // stale bytes from a previous record
	}

	req := SQReq{
		WRID:       0x1122334455667788,
		Opcode:     VIRTIO_IB_WR_RDMA_WRITE_WITH_IMM,
		SendFlags:  VIRTIO_IB_SEND_SIGNALED | VIRTIO_IB_SEND_FENCE,
		NumSGE:     2,
		ImmData:    0xCAFEBABE,
		RemoteAddr: 0xDEAD0000BEEF,
		RKey:       0x42,
	}
	require.NoError(t, req.MarshalTo(buf))

	assert.Equal(t, uint64(0x1122334455667788), binary.LittleEndian.Uint64(buf[0:8]))
	assert.Equal(t, byte(1), buf[8])
	assert.Equal(t, byte(3), buf[9])
	assert.Equal(t, []byte{0, 0}, buf[10:12])
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[12:16]))
	assert.Equal(t, uint32(0xCAFEBABE), binary.LittleEndian.Uint32(buf[16:20]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[20:24]))
	assert.Equal(t, uint64(0xDEAD0000BEEF), binary.LittleEndian.Uint64(buf[24:32]))
	assert.Equal(t, uint32(0x42), binary.LittleEndian.Uint32(buf[32:36]))
	assert.Equal(t, make([]byte, 28), buf[36:64], "tail must be cleared")

	got, err := UnmarshalSQReq(buf, false)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestSQReqUDArm(t *testing.T) {
	buf := make([]byte, SQReqHeaderSize)
	req := SQReq{
		WRID:       7,
		Opcode:     VIRTIO_IB_WR_SEND,
		UD:         true,
		RemoteQPN:  0x10,
		RemoteQKey: 0x11111111,
		AH:         3,
	}
	require.NoError(t, req.MarshalTo(buf))
	assert.Equal(t, uint32(0x10), binary.LittleEndian.Uint32(buf[24:28]))
	assert.Equal(t, uint32(0x11111111), binary.LittleEndian.Uint32(buf[28:32]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[32:36]))

	got, err := UnmarshalSQReq(buf, true)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestCQReqLayout(t *testing.T) {
	buf := make([]byte, CQReqSize)
	c := CQReq{
		WRID:      99,
		Status:    VIRTIO_IB_WC_REM_ACCESS_ERR,
		Opcode:    VIRTIO_IB_WC_RECV,
		WCFlags:   VIRTIO_IB_WC_WITH_IMM,
		VendorErr: 5,
		ByteLen:   4096,
		ImmData:   0xABCD,
		SrcQP:     17,
	}
	require.NoError(t, c.MarshalTo(buf))
	assert.Equal(t, byte(8), buf[8])
	assert.Equal(t, byte(3), buf[9])
	assert.Equal(t, byte(2), buf[10])
	assert.Equal(t, uint32(4096), binary.LittleEndian.Uint32(buf[16:20]))

	got, err := UnmarshalCQReq(buf)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = UnmarshalCQReq(buf[:CQReqSize-1])
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestShortBuffers(t *testing.T) {
	var sq SQReq
	assert.ErrorIs(t, sq.MarshalTo(make([]byte, 10)), ErrBufferTooSmall)
	var rq RQReq
	assert.ErrorIs(t, rq.MarshalTo(make([]byte, 10)), ErrBufferTooSmall)
	var cq CQReq
	assert.ErrorIs(t, cq.MarshalTo(make([]byte, 10)), ErrBufferTooSmall)
	_, err := UnmarshalSGE(make([]byte, 8))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCommandHeaders(t *testing.T) {
	tests := []struct {
		name     string
		buf      []byte
		command  uint32
		inWords  uint16
		outWords uint16
	}{
		{"get_context", MarshalGetContext(0), IB_USER_VERBS_CMD_GET_CONTEXT, 4, 2},
		{"create_cq", (&CreateCQCmd{}).Marshal(0), IB_USER_VERBS_CMD_CREATE_CQ, 10, 12},
		{"destroy_cq", MarshalDestroyCQ(1, 0), IB_USER_VERBS_CMD_DESTROY_CQ, 6, 2},
		{"create_qp", (&CreateQPCmd{}).Marshal(0), IB_USER_VERBS_CMD_CREATE_QP, 16, 30},
		{"destroy_qp", MarshalDestroyQP(1, 0), IB_USER_VERBS_CMD_DESTROY_QP, 6, 1},
		{"post_send", MarshalNullPost(1, true, 0), IB_USER_VERBS_CMD_POST_SEND, 8, 1},
		{"post_recv", MarshalNullPost(1, false, 0), IB_USER_VERBS_CMD_POST_RECV, 8, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr, err := UnmarshalCmdHdr(tt.buf)
			require.NoError(t, err)
			assert.Equal(t, tt.command, hdr.Command)
			assert.Equal(t, tt.inWords, hdr.InWords)
			assert.Equal(t, tt.outWords, hdr.OutWords)
			assert.Equal(t, int(hdr.InWords)*4, len(tt.buf))
		})
	}
}

func TestCreateQPRoundTrip(t *testing.T) {
	cmd := CreateQPCmd{
		UserHandle:    0xFEED,
		PDHandle:      1,
		SendCQHandle:  2,
		RecvCQHandle:  3,
		MaxSendWR:     64,
		MaxRecvWR:     32,
		MaxSendSGE:    4,
		MaxRecvSGE:    2,
		MaxInlineData: 128,
		SQSigAll:      1,
		QPType:        IB_QPT_UD,
	}
	buf := cmd.Marshal(0x7000)
	got, response, err := UnmarshalCreateQPCmd(buf[CmdHdrSize:])
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7000), response)
	assert.Equal(t, cmd, got)

	resp := CreateQPResp{
		QPHandle:     9,
		QPN:          0x100,
		SQOffset:     0x1000,
		SQPhysAddr:   0xA0000,
		RQOffset:     0x2000,
		RQPhysAddr:   0xB0000,
		SVQUsedOff:   1024,
		SVQSize:      4096,
		SQSize:       16384,
		NumSQE:       64,
		NumSVQE:      64,
		SQIdx:        2,
		RQIdx:        3,
		NotifierSize: 4,
	}
	rb := make([]byte, CreateQPRespSize)
	require.NoError(t, resp.MarshalTo(rb))
	gotResp, err := UnmarshalCreateQPResp(rb)
	require.NoError(t, err)
	assert.Equal(t, resp, gotResp)
}

func TestNullPost(t *testing.T) {
	buf := MarshalNullPost(42, false, 0x9000)
	handle, count, err := UnmarshalPostCmd(buf[CmdHdrSize:])
	require.NoError(t, err)
	assert.Equal(t, uint32(42), handle)
	assert.Equal(t, uint32(0), count)
}
