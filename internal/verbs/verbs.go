// Package verbs defines the generic verbs-level work requests and work
// completions exchanged with callers. Numeric values follow libibverbs so
// they can be handed to or taken from verbs consumers without conversion.
package verbs

import (
	"strconv"
	"unsafe"
)

//go:generate go tool stringer -type=WCStatus,WCOpcode,WROpcode -output=verbs_string.go

// QPType represents queue pair types.
type QPType uint8

const (
	QPTypeRC QPType = 2 // Reliable Connection
	QPTypeUC QPType = 3 // Unreliable Connection
	QPTypeUD QPType = 4 // Unreliable Datagram
)

func (t QPType) String() string {
	switch t {
	case QPTypeRC:
		return "RC"
	case QPTypeUC:
		return "UC"
	case QPTypeUD:
		return "UD"
	default:
		return "QPType(" + strconv.Itoa(int(t)) + ")"
	}
}

// WROpcode is a send work request opcode.
type WROpcode uint8

const (
	WRRDMAWrite WROpcode = iota
	WRRDMAWriteWithImm
	WRSend
	WRSendWithImm
	WRRDMARead
	WRAtomicCmpAndSwp
	WRAtomicFetchAndAdd
	WRLocalInv
	WRBindMW
	WRSendWithInv
	WRTSO

	WROpcodeInvalid WROpcode = 0xFF
)

// Work completion status.
type WCStatus uint8

const (
	WCSuccess WCStatus = iota
	WCLocalLenErr
	WCLocalQPOpErr
	WCLocalEECOpErr
	WCLocalProtErr
	WCWRFlushErr
	WCMWBindErr
	WCBadRespErr
	WCLocalAccessErr
	WCRemoteInvalidReqErr
	WCRemoteAccessErr
	WCRemoteOpErr
	WCRetryExcErr
	WCRnrRetryExcErr
	WCLocalRddViolErr
	WCRemoteInvalidRdReqErr
	WCRemoteAbortedErr
	WCInvEECNErr
	WCInvEECStateErr
	WCFatalErr
	WCRespTimeoutErr
	WCGeneralErr

	WCStatusInvalid WCStatus = 0xFF
)

// Work completion opcode.
type WCOpcode uint8

const (
	WCOpSend WCOpcode = iota
	WCOpRDMAWrite
	WCOpRDMARead
	WCOpCompSwap
	WCOpFetchAdd
	WCOpBindMW
	WCOpLocalInv
	WCOpTSO

	// Receive side completions have the high bit set.
	WCOpRecv            WCOpcode = 128
	WCOpRecvRDMAWithImm WCOpcode = 129

	WCOpcodeInvalid WCOpcode = 0xFF
)

// SendFlags modify how a send work request is processed.
type SendFlags uint32

const (
	SendFence SendFlags = 1 << iota
	SendSignaled
	SendSolicited
	SendInline
	SendIPCsum

	SendFlagsInvalid SendFlags = 0xFFFFFFFF
)

// Has reports whether every bit of f is set.
func (s SendFlags) Has(f SendFlags) bool { return s&f == f }

// WCFlags describe optional fields of a work completion.
type WCFlags uint32

const (
	WCGRH WCFlags = 1 << iota
	WCWithImm
	WCIPCsumOK
	WCWithInv

	WCFlagsInvalid WCFlags = 0xFFFFFFFF
)

// Has reports whether every bit of f is set.
func (w WCFlags) Has(f WCFlags) bool { return w&f == f }

// SGE is a scatter/gather element: a registered memory range.
type SGE struct {
	Addr   uint64
	Length uint32
	LKey   uint32
}

// SGEFor describes b as a scatter/gather element. b must stay alive and
// unmoved until the work request using it completes.
func SGEFor(b []byte, lkey uint32) SGE {
	if len(b) == 0 {
		return SGE{LKey: lkey}
	}
	return SGE{
		Addr:   uint64(uintptr(unsafe.Pointer(&b[0]))),
		Length: uint32(len(b)),
		LKey:   lkey,
	}
}

// Bytes returns the memory the element describes. Addr must be a valid
// address in this process.
func (s SGE) Bytes() []byte {
	if s.Addr == 0 || s.Length == 0 {
		return nil
	}
	addr := uintptr(s.Addr)
	p := *(*unsafe.Pointer)(unsafe.Pointer(&addr))
	return unsafe.Slice((*byte)(p), s.Length)
}

// RDMA holds the remote side of an RDMA read or write.
type RDMA struct {
	RemoteAddr uint64
	RKey       uint32
}

// UD holds the datagram addressing of a UD send. AH is an opaque address
// handle number.
type UD struct {
	AH         uint32
	RemoteQPN  uint32
	RemoteQKey uint32
}

// SendWR is a send queue work request.
type SendWR struct {
	WRID      uint64
	Opcode    WROpcode
	SendFlags SendFlags
	ImmData   uint32
	SGList    []SGE
	RDMA      RDMA
	UD        UD
}

// PayloadLen returns the total length described by the scatter/gather list.
func (w *SendWR) PayloadLen() uint64 {
	var n uint64
	for i := range w.SGList {
		n += uint64(w.SGList[i].Length)
	}
	return n
}

// RecvWR is a receive queue work request.
type RecvWR struct {
	WRID   uint64
	SGList []SGE
}

// WC is a work completion.
type WC struct {
	WRID      uint64
	Status    WCStatus
	Opcode    WCOpcode
	VendorErr uint32
	ByteLen   uint32
	ImmData   uint32
	QPNum     uint32 // not filled in by the completion engine
	SrcQP     uint32
	WCFlags   WCFlags
	PkeyIndex uint16
}
