// Package uapi provides the wire definitions shared with the virtio-rdma
// kernel driver and device: virtio split-ring flags, the work request and
// completion records exchanged through the rings, and the uverbs command ABI.
package uapi

// Split virtqueue flags (linux/virtio_ring.h)
const (
	VRING_DESC_F_NEXT     = 1 // buffer continues via the next field
	VRING_DESC_F_WRITE    = 2 // buffer is device write-only
	VRING_DESC_F_INDIRECT = 4 // buffer contains a list of descriptors

	VRING_USED_F_NO_NOTIFY     = 1 // device does not need a kick
	VRING_AVAIL_F_NO_INTERRUPT = 1 // driver does not need an interrupt
)

// Split virtqueue element sizes
const (
	VringDescSize       = 16 // addr u64, len u32, flags u16, next u16
	VringAvailHdrSize   = 4  // flags u16, idx u16
	VringUsedHdrSize    = 4  // flags u16, idx u16
	VringUsedElemSize   = 8  // id u32, len u32
	VringEventFieldSize = 2  // used_event / avail_event
)

// WROpcode is a work request opcode as encoded on the ring.
type WROpcode uint8

// Work request opcodes (VIRTIO_IB_WR_*)
const (
	VIRTIO_IB_WR_RDMA_WRITE          WROpcode = 0
	VIRTIO_IB_WR_RDMA_WRITE_WITH_IMM WROpcode = 1
	VIRTIO_IB_WR_SEND                WROpcode = 2
	VIRTIO_IB_WR_SEND_WITH_IMM       WROpcode = 3
	VIRTIO_IB_WR_RDMA_READ           WROpcode = 4

	WROpcodeInvalid WROpcode = 0xFF
)

// WCOpcode is a completion opcode as encoded on the ring.
type WCOpcode uint8

// Completion opcodes (VIRTIO_IB_WC_*)
const (
	VIRTIO_IB_WC_SEND               WCOpcode = 0
	VIRTIO_IB_WC_RDMA_WRITE         WCOpcode = 1
	VIRTIO_IB_WC_RDMA_READ          WCOpcode = 2
	VIRTIO_IB_WC_RECV               WCOpcode = 3
	VIRTIO_IB_WC_RECV_RDMA_WITH_IMM WCOpcode = 4

	WCOpcodeInvalid WCOpcode = 0xFF
)

// WCStatus is a completion status as encoded on the ring.
type WCStatus uint8

// Completion status codes (VIRTIO_IB_WC_*)
const (
	VIRTIO_IB_WC_SUCCESS            WCStatus = 0
	VIRTIO_IB_WC_LOC_LEN_ERR        WCStatus = 1
	VIRTIO_IB_WC_LOC_QP_OP_ERR      WCStatus = 2
	VIRTIO_IB_WC_LOC_PROT_ERR       WCStatus = 3
	VIRTIO_IB_WC_WR_FLUSH_ERR       WCStatus = 4
	VIRTIO_IB_WC_BAD_RESP_ERR       WCStatus = 5
	VIRTIO_IB_WC_LOC_ACCESS_ERR     WCStatus = 6
	VIRTIO_IB_WC_REM_INV_REQ_ERR    WCStatus = 7
	VIRTIO_IB_WC_REM_ACCESS_ERR     WCStatus = 8
	VIRTIO_IB_WC_REM_OP_ERR         WCStatus = 9
	VIRTIO_IB_WC_RETRY_EXC_ERR      WCStatus = 10
	VIRTIO_IB_WC_RNR_RETRY_EXC_ERR  WCStatus = 11
	VIRTIO_IB_WC_REM_ABORT_ERR      WCStatus = 12
	VIRTIO_IB_WC_FATAL_ERR          WCStatus = 13
	VIRTIO_IB_WC_RESP_TIMEOUT_ERR   WCStatus = 14
	VIRTIO_IB_WC_GENERAL_ERR        WCStatus = 15

	WCStatusInvalid WCStatus = 0xFF
)

// SendFlags is a bit set of send flags as encoded on the ring.
type SendFlags uint8

// Send flags (VIRTIO_IB_SEND_*)
const (
	VIRTIO_IB_SEND_FENCE     SendFlags = 1 << 0
	VIRTIO_IB_SEND_SIGNALED  SendFlags = 1 << 1
	VIRTIO_IB_SEND_SOLICITED SendFlags = 1 << 2
	VIRTIO_IB_SEND_INLINE    SendFlags = 1 << 3

	SendFlagsInvalid SendFlags = 0xFF
)

// WCFlags is a bit set of completion flags as encoded on the ring.
type WCFlags uint8

// Completion flags (VIRTIO_IB_WC_*)
const (
	VIRTIO_IB_WC_GRH      WCFlags = 1 << 0
	VIRTIO_IB_WC_WITH_IMM WCFlags = 1 << 1

	WCFlagsInvalid WCFlags = 0xFF
)

// Record sizes
const (
	SGESize         = 16 // addr u64, length u32, lkey u32
	SQReqHeaderSize = 64
	RQReqHeaderSize = 16
	CQReqSize       = 32
)

// SQSlotSize returns the buffer slot size needed for one send queue record.
// Inline data and the scatter/gather list share the payload area.
func SQSlotSize(maxSGE, maxInline int) int {
	payload := maxSGE * SGESize
	if maxInline > payload {
		payload = maxInline
	}
	return SQReqHeaderSize + payload
}

// RQSlotSize returns the buffer slot size needed for one receive queue record.
func RQSlotSize(maxSGE int) int {
	return RQReqHeaderSize + maxSGE*SGESize
}

// uverbs write() command numbers (IB_USER_VERBS_CMD_*)
const (
	IB_USER_VERBS_CMD_GET_CONTEXT = 0
	IB_USER_VERBS_CMD_CREATE_CQ   = 18
	IB_USER_VERBS_CMD_DESTROY_CQ  = 20
	IB_USER_VERBS_CMD_CREATE_QP   = 24
	IB_USER_VERBS_CMD_DESTROY_QP  = 27
	IB_USER_VERBS_CMD_POST_SEND   = 28
	IB_USER_VERBS_CMD_POST_RECV   = 29
)

// QP types as carried in the create command (IB_QPT_*)
const (
	IB_QPT_RC = 2
	IB_QPT_UC = 3
	IB_QPT_UD = 4
)

// uverbs command and response sizes in bytes
const (
	CmdHdrSize            = 8
	GetContextCmdSize     = 8
	GetContextRespSize    = 8
	CreateCQCmdSize       = 32
	CreateCQRespSize      = 48 // core 8 + driver 40
	DestroyCQCmdSize      = 16
	DestroyCQRespSize     = 8
	CreateQPCmdSize       = 56
	CreateQPRespSize      = 120 // core 32 + driver 88
	DestroyQPCmdSize      = 16
	DestroyQPRespSize     = 4
	PostCmdSize           = 24
	PostRespSize          = 4
)
