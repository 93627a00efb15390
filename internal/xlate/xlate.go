// Package xlate converts between the generic verbs codes and the compact
// codes carried on the rings. Every function is total: an input with no
// counterpart yields the invalid sentinel of the target domain.
package xlate

import (
	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/verbs"
)

// WROpcodeToWire maps a send opcode onto the ring encoding.
func WROpcodeToWire(op verbs.WROpcode) uapi.WROpcode {
	switch op {
	case verbs.WRRDMAWrite:
		return uapi.VIRTIO_IB_WR_RDMA_WRITE
	case verbs.WRRDMAWriteWithImm:
		return uapi.VIRTIO_IB_WR_RDMA_WRITE_WITH_IMM
	case verbs.WRSend:
		return uapi.VIRTIO_IB_WR_SEND
	case verbs.WRSendWithImm:
		return uapi.VIRTIO_IB_WR_SEND_WITH_IMM
	case verbs.WRRDMARead:
		return uapi.VIRTIO_IB_WR_RDMA_READ
	default:
		return uapi.WROpcodeInvalid
	}
}

// WROpcodeFromWire maps a ring send opcode back to the generic one.
func WROpcodeFromWire(op uapi.WROpcode) verbs.WROpcode {
	switch op {
	case uapi.VIRTIO_IB_WR_RDMA_WRITE:
		return verbs.WRRDMAWrite
	case uapi.VIRTIO_IB_WR_RDMA_WRITE_WITH_IMM:
		return verbs.WRRDMAWriteWithImm
	case uapi.VIRTIO_IB_WR_SEND:
		return verbs.WRSend
	case uapi.VIRTIO_IB_WR_SEND_WITH_IMM:
		return verbs.WRSendWithImm
	case uapi.VIRTIO_IB_WR_RDMA_READ:
		return verbs.WRRDMARead
	default:
		return verbs.WROpcodeInvalid
	}
}

// WCOpcodeToWire maps a completion opcode onto the ring encoding.
func WCOpcodeToWire(op verbs.WCOpcode) uapi.WCOpcode {
	switch op {
	case verbs.WCOpSend:
		return uapi.VIRTIO_IB_WC_SEND
	case verbs.WCOpRDMAWrite:
		return uapi.VIRTIO_IB_WC_RDMA_WRITE
	case verbs.WCOpRDMARead:
		return uapi.VIRTIO_IB_WC_RDMA_READ
	case verbs.WCOpRecv:
		return uapi.VIRTIO_IB_WC_RECV
	case verbs.WCOpRecvRDMAWithImm:
		return uapi.VIRTIO_IB_WC_RECV_RDMA_WITH_IMM
	default:
		return uapi.WCOpcodeInvalid
	}
}

// WCOpcodeFromWire maps a ring completion opcode to the generic one.
func WCOpcodeFromWire(op uapi.WCOpcode) verbs.WCOpcode {
	switch op {
	case uapi.VIRTIO_IB_WC_SEND:
		return verbs.WCOpSend
	case uapi.VIRTIO_IB_WC_RDMA_WRITE:
		return verbs.WCOpRDMAWrite
	case uapi.VIRTIO_IB_WC_RDMA_READ:
		return verbs.WCOpRDMARead
	case uapi.VIRTIO_IB_WC_RECV:
		return verbs.WCOpRecv
	case uapi.VIRTIO_IB_WC_RECV_RDMA_WITH_IMM:
		return verbs.WCOpRecvRDMAWithImm
	default:
		return verbs.WCOpcodeInvalid
	}
}

// WCStatusToWire maps a completion status onto the ring encoding. Statuses
// the device never reports (EEC, RDD, MW bind) have no wire value.
func WCStatusToWire(s verbs.WCStatus) uapi.WCStatus {
	switch s {
	case verbs.WCSuccess:
		return uapi.VIRTIO_IB_WC_SUCCESS
	case verbs.WCLocalLenErr:
		return uapi.VIRTIO_IB_WC_LOC_LEN_ERR
	case verbs.WCLocalQPOpErr:
		return uapi.VIRTIO_IB_WC_LOC_QP_OP_ERR
	case verbs.WCLocalProtErr:
		return uapi.VIRTIO_IB_WC_LOC_PROT_ERR
	case verbs.WCWRFlushErr:
		return uapi.VIRTIO_IB_WC_WR_FLUSH_ERR
	case verbs.WCBadRespErr:
		return uapi.VIRTIO_IB_WC_BAD_RESP_ERR
	case verbs.WCLocalAccessErr:
		return uapi.VIRTIO_IB_WC_LOC_ACCESS_ERR
	case verbs.WCRemoteInvalidReqErr:
		return uapi.VIRTIO_IB_WC_REM_INV_REQ_ERR
	case verbs.WCRemoteAccessErr:
		return uapi.VIRTIO_IB_WC_REM_ACCESS_ERR
	case verbs.WCRemoteOpErr:
		return uapi.VIRTIO_IB_WC_REM_OP_ERR
	case verbs.WCRetryExcErr:
		return uapi.VIRTIO_IB_WC_RETRY_EXC_ERR
	case verbs.WCRnrRetryExcErr:
		return uapi.VIRTIO_IB_WC_RNR_RETRY_EXC_ERR
	case verbs.WCRemoteAbortedErr:
		return uapi.VIRTIO_IB_WC_REM_ABORT_ERR
	case verbs.WCFatalErr:
		return uapi.VIRTIO_IB_WC_FATAL_ERR
	case verbs.WCRespTimeoutErr:
		return uapi.VIRTIO_IB_WC_RESP_TIMEOUT_ERR
	case verbs.WCGeneralErr:
		return uapi.VIRTIO_IB_WC_GENERAL_ERR
	default:
		return uapi.WCStatusInvalid
	}
}

// WCStatusFromWire maps a ring completion status to the generic one.
func WCStatusFromWire(s uapi.WCStatus) verbs.WCStatus {
	switch s {
	case uapi.VIRTIO_IB_WC_SUCCESS:
		return verbs.WCSuccess
	case uapi.VIRTIO_IB_WC_LOC_LEN_ERR:
		return verbs.WCLocalLenErr
	case uapi.VIRTIO_IB_WC_LOC_QP_OP_ERR:
		return verbs.WCLocalQPOpErr
	case uapi.VIRTIO_IB_WC_LOC_PROT_ERR:
		return verbs.WCLocalProtErr
	case uapi.VIRTIO_IB_WC_WR_FLUSH_ERR:
		return verbs.WCWRFlushErr
	case uapi.VIRTIO_IB_WC_BAD_RESP_ERR:
		return verbs.WCBadRespErr
	case uapi.VIRTIO_IB_WC_LOC_ACCESS_ERR:
		return verbs.WCLocalAccessErr
	case uapi.VIRTIO_IB_WC_REM_INV_REQ_ERR:
		return verbs.WCRemoteInvalidReqErr
	case uapi.VIRTIO_IB_WC_REM_ACCESS_ERR:
		return verbs.WCRemoteAccessErr
	case uapi.VIRTIO_IB_WC_REM_OP_ERR:
		return verbs.WCRemoteOpErr
	case uapi.VIRTIO_IB_WC_RETRY_EXC_ERR:
		return verbs.WCRetryExcErr
	case uapi.VIRTIO_IB_WC_RNR_RETRY_EXC_ERR:
		return verbs.WCRnrRetryExcErr
	case uapi.VIRTIO_IB_WC_REM_ABORT_ERR:
		return verbs.WCRemoteAbortedErr
	case uapi.VIRTIO_IB_WC_FATAL_ERR:
		return verbs.WCFatalErr
	case uapi.VIRTIO_IB_WC_RESP_TIMEOUT_ERR:
		return verbs.WCRespTimeoutErr
	case uapi.VIRTIO_IB_WC_GENERAL_ERR:
		return verbs.WCGeneralErr
	default:
		return verbs.WCStatusInvalid
	}
}

var sendFlagBits = [...]struct {
	generic verbs.SendFlags
	wire    uapi.SendFlags
}{
	{verbs.SendFence, uapi.VIRTIO_IB_SEND_FENCE},
	{verbs.SendSignaled, uapi.VIRTIO_IB_SEND_SIGNALED},
	{verbs.SendSolicited, uapi.VIRTIO_IB_SEND_SOLICITED},
	{verbs.SendInline, uapi.VIRTIO_IB_SEND_INLINE},
}

// SendFlagsToWire translates send flags bit by bit. Any bit without a wire
// counterpart makes the whole set invalid.
func SendFlagsToWire(f verbs.SendFlags) uapi.SendFlags {
	if f == verbs.SendFlagsInvalid {
		return uapi.SendFlagsInvalid
	}
	var out uapi.SendFlags
	for _, b := range sendFlagBits {
		if f&b.generic != 0 {
			out |= b.wire
			f &^= b.generic
		}
	}
	if f != 0 {
		return uapi.SendFlagsInvalid
	}
	return out
}

// SendFlagsFromWire is the inverse of SendFlagsToWire.
func SendFlagsFromWire(f uapi.SendFlags) verbs.SendFlags {
	if f == uapi.SendFlagsInvalid {
		return verbs.SendFlagsInvalid
	}
	var out verbs.SendFlags
	for _, b := range sendFlagBits {
		if f&b.wire != 0 {
			out |= b.generic
			f &^= b.wire
		}
	}
	if f != 0 {
		return verbs.SendFlagsInvalid
	}
	return out
}

var wcFlagBits = [...]struct {
	generic verbs.WCFlags
	wire    uapi.WCFlags
}{
	{verbs.WCGRH, uapi.VIRTIO_IB_WC_GRH},
	{verbs.WCWithImm, uapi.VIRTIO_IB_WC_WITH_IMM},
}

// WCFlagsToWire translates completion flags bit by bit.
func WCFlagsToWire(f verbs.WCFlags) uapi.WCFlags {
	if f == verbs.WCFlagsInvalid {
		return uapi.WCFlagsInvalid
	}
	var out uapi.WCFlags
	for _, b := range wcFlagBits {
		if f&b.generic != 0 {
			out |= b.wire
			f &^= b.generic
		}
	}
	if f != 0 {
		return uapi.WCFlagsInvalid
	}
	return out
}

// WCFlagsFromWire is the inverse of WCFlagsToWire.
func WCFlagsFromWire(f uapi.WCFlags) verbs.WCFlags {
	if f == uapi.WCFlagsInvalid {
		return verbs.WCFlagsInvalid
	}
	var out verbs.WCFlags
	for _, b := range wcFlagBits {
		if f&b.wire != 0 {
			out |= b.generic
			f &^= b.wire
		}
	}
	if f != 0 {
		return verbs.WCFlagsInvalid
	}
	return out
}
