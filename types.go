package vrdma

import "github.com/ehrlich-b/go-vrdma/internal/verbs"

// Work request and completion types.
type (
	QPType    = verbs.QPType
	WROpcode  = verbs.WROpcode
	WCStatus  = verbs.WCStatus
	WCOpcode  = verbs.WCOpcode
	SendFlags = verbs.SendFlags
	WCFlags   = verbs.WCFlags

	SGE    = verbs.SGE
	RDMA   = verbs.RDMA
	UD     = verbs.UD
	SendWR = verbs.SendWR
	RecvWR = verbs.RecvWR
	WC     = verbs.WC
)

// Queue pair types
const (
	QPTypeRC = verbs.QPTypeRC
	QPTypeUC = verbs.QPTypeUC
	QPTypeUD = verbs.QPTypeUD
)

// Send opcodes
const (
	WRRDMAWrite         = verbs.WRRDMAWrite
	WRRDMAWriteWithImm  = verbs.WRRDMAWriteWithImm
	WRSend              = verbs.WRSend
	WRSendWithImm       = verbs.WRSendWithImm
	WRRDMARead          = verbs.WRRDMARead
	WRAtomicCmpAndSwp   = verbs.WRAtomicCmpAndSwp
	WRAtomicFetchAndAdd = verbs.WRAtomicFetchAndAdd
	WRLocalInv          = verbs.WRLocalInv
	WRBindMW            = verbs.WRBindMW
	WRSendWithInv       = verbs.WRSendWithInv
	WRTSO               = verbs.WRTSO
)

// Send flags
const (
	SendFence     = verbs.SendFence
	SendSignaled  = verbs.SendSignaled
	SendSolicited = verbs.SendSolicited
	SendInline    = verbs.SendInline
	SendIPCsum    = verbs.SendIPCsum
)

// Completion statuses
const (
	WCSuccess               = verbs.WCSuccess
	WCLocalLenErr           = verbs.WCLocalLenErr
	WCLocalQPOpErr          = verbs.WCLocalQPOpErr
	WCLocalEECOpErr         = verbs.WCLocalEECOpErr
	WCLocalProtErr          = verbs.WCLocalProtErr
	WCWRFlushErr            = verbs.WCWRFlushErr
	WCMWBindErr             = verbs.WCMWBindErr
	WCBadRespErr            = verbs.WCBadRespErr
	WCLocalAccessErr        = verbs.WCLocalAccessErr
	WCRemoteInvalidReqErr   = verbs.WCRemoteInvalidReqErr
	WCRemoteAccessErr       = verbs.WCRemoteAccessErr
	WCRemoteOpErr           = verbs.WCRemoteOpErr
	WCRetryExcErr           = verbs.WCRetryExcErr
	WCRnrRetryExcErr        = verbs.WCRnrRetryExcErr
	WCLocalRddViolErr       = verbs.WCLocalRddViolErr
	WCRemoteInvalidRdReqErr = verbs.WCRemoteInvalidRdReqErr
	WCRemoteAbortedErr      = verbs.WCRemoteAbortedErr
	WCInvEECNErr            = verbs.WCInvEECNErr
	WCInvEECStateErr        = verbs.WCInvEECStateErr
	WCFatalErr              = verbs.WCFatalErr
	WCRespTimeoutErr        = verbs.WCRespTimeoutErr
	WCGeneralErr            = verbs.WCGeneralErr
)

// Completion opcodes
const (
	WCOpSend            = verbs.WCOpSend
	WCOpRDMAWrite       = verbs.WCOpRDMAWrite
	WCOpRDMARead        = verbs.WCOpRDMARead
	WCOpCompSwap        = verbs.WCOpCompSwap
	WCOpFetchAdd        = verbs.WCOpFetchAdd
	WCOpBindMW          = verbs.WCOpBindMW
	WCOpLocalInv        = verbs.WCOpLocalInv
	WCOpTSO             = verbs.WCOpTSO
	WCOpRecv            = verbs.WCOpRecv
	WCOpRecvRDMAWithImm = verbs.WCOpRecvRDMAWithImm
)

// Completion flags
const (
	WCGRH      = verbs.WCGRH
	WCWithImm  = verbs.WCWithImm
	WCIPCsumOK = verbs.WCIPCsumOK
	WCWithInv  = verbs.WCWithInv
)

// Invalid sentinels written into a completion field that had no
// counterpart in the device's encoding.
const (
	WCStatusInvalid = verbs.WCStatusInvalid
	WCOpcodeInvalid = verbs.WCOpcodeInvalid
	WCFlagsInvalid  = verbs.WCFlagsInvalid
)

// SGEFor describes b as a scatter/gather element. b must stay alive and
// unmoved until the work request using it completes.
func SGEFor(b []byte, lkey uint32) SGE { return verbs.SGEFor(b, lkey) }
