package uapi

import "unsafe"

// SGE is one scatter/gather element of a ring record.
//
//	struct virtio_ib_sge {
//	  __u64 addr;
//	  __u32 length;
//	  __u32 lkey;
//	};
type SGE struct {
	Addr   uint64
	Length uint32
	LKey   uint32
}

var _ [SGESize]byte = [unsafe.Sizeof(SGE{})]byte{}

// SQReq is the send queue record header. The payload area that follows
// holds either NumSGE scatter/gather elements or InlineLen bytes of data.
//
//	struct virtio_ib_sq_req {
//	  __u64 wr_id;
//	  __u8  opcode;
//	  __u8  send_flags;
//	  __u16 reserved;
//	  __u32 num_sge;
//	  __u32 imm_data;
//	  __u32 inline_len;
//	  union {
//	    struct { __u64 remote_addr; __u32 rkey; } rdma;
//	    struct { __u32 remote_qpn; __u32 remote_qkey; __u32 ah; } ud;
//	  };
//	  __u8  reserved2[24];
//	};
type SQReq struct {
	WRID      uint64
	Opcode    WROpcode
	SendFlags SendFlags
	NumSGE    uint32
	ImmData   uint32
	InlineLen uint32

	// UD selects which arm of the union is encoded.
	UD bool

	// rdma
	RemoteAddr uint64
	RKey       uint32

	// ud
	RemoteQPN  uint32
	RemoteQKey uint32
	AH         uint32
}

// RQReq is the receive queue record header, followed by NumSGE elements.
//
//	struct virtio_ib_rq_req {
//	  __u64 wr_id;
//	  __u32 num_sge;
//	  __u32 reserved;
//	};
type RQReq struct {
	WRID     uint64
	NumSGE   uint32
	Reserved uint32
}

var _ [RQReqHeaderSize]byte = [unsafe.Sizeof(RQReq{})]byte{}

// CQReq is one completion record written by the device into a CQ slot.
//
//	struct virtio_ib_cq_req {
//	  __u64 wr_id;
//	  __u8  status;
//	  __u8  opcode;
//	  __u8  wc_flags;
//	  __u8  reserved;
//	  __u32 vendor_err;
//	  __u32 byte_len;
//	  __u32 imm_data;
//	  __u32 src_qp;
//	  __u32 qp_num;   // reserved, not filled by the device
//	};
type CQReq struct {
	WRID      uint64
	Status    WCStatus
	Opcode    WCOpcode
	WCFlags   WCFlags
	Reserved  uint8
	VendorErr uint32
	ByteLen   uint32
	ImmData   uint32
	SrcQP     uint32
	QPNum     uint32
}

var _ [CQReqSize]byte = [unsafe.Sizeof(CQReq{})]byte{}

// CmdHdr prefixes every uverbs write() command.
//
//	struct ib_uverbs_cmd_hdr {
//	  __u32 command;
//	  __u16 in_words;   // command length in 32-bit words, header included
//	  __u16 out_words;  // response length in 32-bit words
//	};
type CmdHdr struct {
	Command  uint32
	InWords  uint16
	OutWords uint16
}

var _ [CmdHdrSize]byte = [unsafe.Sizeof(CmdHdr{})]byte{}

// GetContextResp is the response to GET_CONTEXT.
type GetContextResp struct {
	AsyncFD        uint32
	NumCompVectors uint32
}

// CreateCQCmd carries the caller-controlled fields of CREATE_CQ. The
// response pointer is filled in by the command channel.
type CreateCQCmd struct {
	UserHandle  uint64
	CQE         uint32
	CompVector  uint32
	CompChannel int32
}

// CreateCQResp is the core CREATE_CQ response followed by the virtio
// driver data describing the completion ring.
type CreateCQResp struct {
	CQHandle uint32
	CQE      uint32

	Offset   uint64 // mmap offset of the queue region
	PhysAddr uint64 // device address of the kernel buffer window
	UsedOff  uint32 // used ring offset inside the virtqueue part
	VQSize   uint32 // size of the virtqueue part
	CQSize   uint32 // size of the whole region
	NumCQE   uint32 // buffer slots
	NumCVQE  uint32 // ring descriptors
	Reserved uint32
}

var _ [CreateCQRespSize]byte = [unsafe.Sizeof(CreateCQResp{})]byte{}

// CreateQPCmd carries the caller-controlled fields of CREATE_QP.
type CreateQPCmd struct {
	UserHandle    uint64
	PDHandle      uint32
	SendCQHandle  uint32
	RecvCQHandle  uint32
	SRQHandle     uint32
	MaxSendWR     uint32
	MaxRecvWR     uint32
	MaxSendSGE    uint32
	MaxRecvSGE    uint32
	MaxInlineData uint32
	SQSigAll      uint8
	QPType        uint8
	IsSRQ         uint8
	Reserved      uint8
}

// CreateQPResp is the core CREATE_QP response followed by the virtio
// driver data describing both work queue rings.
type CreateQPResp struct {
	QPHandle      uint32
	QPN           uint32
	MaxSendWR     uint32
	MaxRecvWR     uint32
	MaxSendSGE    uint32
	MaxRecvSGE    uint32
	MaxInlineData uint32
	Reserved      uint32

	SQOffset   uint64
	SQPhysAddr uint64
	RQOffset   uint64
	RQPhysAddr uint64

	SVQUsedOff   uint32
	SVQSize      uint32
	SQSize       uint32
	NumSQE       uint32
	NumSVQE      uint32
	SQIdx        uint32
	RVQUsedOff   uint32
	RVQSize      uint32
	RQSize       uint32
	NumRQE       uint32
	NumRVQE      uint32
	RQIdx        uint32
	NotifierSize uint32
	Reserved2    uint32
}

var _ [CreateQPRespSize]byte = [unsafe.Sizeof(CreateQPResp{})]byte{}

// DestroyCQResp is the response to DESTROY_CQ.
type DestroyCQResp struct {
	CompEventsReported  uint32
	AsyncEventsReported uint32
}

// DestroyQPResp is the response to DESTROY_QP.
type DestroyQPResp struct {
	EventsReported uint32
}
