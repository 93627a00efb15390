package uapi

import (
	"encoding/binary"
	"errors"
)

// ErrInsufficientData is returned when a buffer is shorter than the record
// being decoded from it.
var ErrInsufficientData = errors.New("insufficient data for unmarshaling")

// ErrBufferTooSmall is returned when a buffer cannot hold the record being
// encoded into it.
var ErrBufferTooSmall = errors.New("buffer too small for record")

var le = binary.LittleEndian

// MarshalTo encodes the element into b[0:16].
func (s *SGE) MarshalTo(b []byte) {
	_ = b[SGESize-1]
	le.PutUint64(b[0:8], s.Addr)
	le.PutUint32(b[8:12], s.Length)
	le.PutUint32(b[12:16], s.LKey)
}

// UnmarshalSGE decodes one element from b.
func UnmarshalSGE(b []byte) (SGE, error) {
	if len(b) < SGESize {
		return SGE{}, ErrInsufficientData
	}
	return SGE{
		Addr:   le.Uint64(b[0:8]),
		Length: le.Uint32(b[8:12]),
		LKey:   le.Uint32(b[12:16]),
	}, nil
}

// MarshalTo encodes the header into b[0:64]. Every header byte is written,
// so a reused slot carries nothing over from its previous record.
func (r *SQReq) MarshalTo(b []byte) error {
	if len(b) < SQReqHeaderSize {
		return ErrBufferTooSmall
	}
	clear(b[:SQReqHeaderSize])
	le.PutUint64(b[0:8], r.WRID)
	b[8] = byte(r.Opcode)
	b[9] = byte(r.SendFlags)
	le.PutUint32(b[12:16], r.NumSGE)
	le.PutUint32(b[16:20], r.ImmData)
	le.PutUint32(b[20:24], r.InlineLen)
	if r.UD {
		le.PutUint32(b[24:28], r.RemoteQPN)
		le.PutUint32(b[28:32], r.RemoteQKey)
		le.PutUint32(b[32:36], r.AH)
	} else {
		le.PutUint64(b[24:32], r.RemoteAddr)
		le.PutUint32(b[32:36], r.RKey)
	}
	return nil
}

// UnmarshalSQReq decodes a send queue header. ud selects the union arm.
func UnmarshalSQReq(b []byte, ud bool) (SQReq, error) {
	if len(b) < SQReqHeaderSize {
		return SQReq{}, ErrInsufficientData
	}
	r := SQReq{
		WRID:      le.Uint64(b[0:8]),
		Opcode:    WROpcode(b[8]),
		SendFlags: SendFlags(b[9]),
		NumSGE:    le.Uint32(b[12:16]),
		ImmData:   le.Uint32(b[16:20]),
		InlineLen: le.Uint32(b[20:24]),
		UD:        ud,
	}
	if ud {
		r.RemoteQPN = le.Uint32(b[24:28])
		r.RemoteQKey = le.Uint32(b[28:32])
		r.AH = le.Uint32(b[32:36])
	} else {
		r.RemoteAddr = le.Uint64(b[24:32])
		r.RKey = le.Uint32(b[32:36])
	}
	return r, nil
}

// MarshalTo encodes the header into b[0:16].
func (r *RQReq) MarshalTo(b []byte) error {
	if len(b) < RQReqHeaderSize {
		return ErrBufferTooSmall
	}
	le.PutUint64(b[0:8], r.WRID)
	le.PutUint32(b[8:12], r.NumSGE)
	le.PutUint32(b[12:16], 0)
	return nil
}

// UnmarshalRQReq decodes a receive queue header.
func UnmarshalRQReq(b []byte) (RQReq, error) {
	if len(b) < RQReqHeaderSize {
		return RQReq{}, ErrInsufficientData
	}
	return RQReq{
		WRID:   le.Uint64(b[0:8]),
		NumSGE: le.Uint32(b[8:12]),
	}, nil
}

// MarshalTo encodes the completion into b[0:32].
func (c *CQReq) MarshalTo(b []byte) error {
	if len(b) < CQReqSize {
		return ErrBufferTooSmall
	}
	le.PutUint64(b[0:8], c.WRID)
	b[8] = byte(c.Status)
	b[9] = byte(c.Opcode)
	b[10] = byte(c.WCFlags)
	b[11] = 0
	le.PutUint32(b[12:16], c.VendorErr)
	le.PutUint32(b[16:20], c.ByteLen)
	le.PutUint32(b[20:24], c.ImmData)
	le.PutUint32(b[24:28], c.SrcQP)
	le.PutUint32(b[28:32], c.QPNum)
	return nil
}

// UnmarshalCQReq decodes one completion record.
func UnmarshalCQReq(b []byte) (CQReq, error) {
	if len(b) < CQReqSize {
		return CQReq{}, ErrInsufficientData
	}
	return CQReq{
		WRID:      le.Uint64(b[0:8]),
		Status:    WCStatus(b[8]),
		Opcode:    WCOpcode(b[9]),
		WCFlags:   WCFlags(b[10]),
		VendorErr: le.Uint32(b[12:16]),
		ByteLen:   le.Uint32(b[16:20]),
		ImmData:   le.Uint32(b[20:24]),
		SrcQP:     le.Uint32(b[24:28]),
		QPNum:     le.Uint32(b[28:32]),
	}, nil
}

// newCmd allocates a command buffer of header plus bodySize bytes with the
// header filled in. Word counts include the header.
func newCmd(command uint32, bodySize, respSize int) []byte {
	buf := make([]byte, CmdHdrSize+bodySize)
	le.PutUint32(buf[0:4], command)
	le.PutUint16(buf[4:6], uint16((CmdHdrSize+bodySize)/4))
	le.PutUint16(buf[6:8], uint16(respSize/4))
	return buf
}

// UnmarshalCmdHdr decodes the header at the start of a command buffer.
func UnmarshalCmdHdr(b []byte) (CmdHdr, error) {
	if len(b) < CmdHdrSize {
		return CmdHdr{}, ErrInsufficientData
	}
	return CmdHdr{
		Command:  le.Uint32(b[0:4]),
		InWords:  le.Uint16(b[4:6]),
		OutWords: le.Uint16(b[6:8]),
	}, nil
}

// MarshalGetContext builds a GET_CONTEXT command writing its response to
// the given user address.
func MarshalGetContext(response uint64) []byte {
	buf := newCmd(IB_USER_VERBS_CMD_GET_CONTEXT, GetContextCmdSize, GetContextRespSize)
	le.PutUint64(buf[8:16], response)
	return buf
}

// UnmarshalGetContextResp decodes a GET_CONTEXT response.
func UnmarshalGetContextResp(b []byte) (GetContextResp, error) {
	if len(b) < GetContextRespSize {
		return GetContextResp{}, ErrInsufficientData
	}
	return GetContextResp{
		AsyncFD:        le.Uint32(b[0:4]),
		NumCompVectors: le.Uint32(b[4:8]),
	}, nil
}

// Marshal builds a CREATE_CQ command writing its response to the given
// user address.
func (c *CreateCQCmd) Marshal(response uint64) []byte {
	buf := newCmd(IB_USER_VERBS_CMD_CREATE_CQ, CreateCQCmdSize, CreateCQRespSize)
	b := buf[CmdHdrSize:]
	le.PutUint64(b[0:8], response)
	le.PutUint64(b[8:16], c.UserHandle)
	le.PutUint32(b[16:20], c.CQE)
	le.PutUint32(b[20:24], c.CompVector)
	le.PutUint32(b[24:28], uint32(c.CompChannel))
	return buf
}

// UnmarshalCreateCQCmd decodes the body of a CREATE_CQ command (header
// excluded) and returns the response address with it.
func UnmarshalCreateCQCmd(b []byte) (CreateCQCmd, uint64, error) {
	if len(b) < CreateCQCmdSize {
		return CreateCQCmd{}, 0, ErrInsufficientData
	}
	return CreateCQCmd{
		UserHandle:  le.Uint64(b[8:16]),
		CQE:         le.Uint32(b[16:20]),
		CompVector:  le.Uint32(b[20:24]),
		CompChannel: int32(le.Uint32(b[24:28])),
	}, le.Uint64(b[0:8]), nil
}

// MarshalTo encodes the response into b.
func (r *CreateCQResp) MarshalTo(b []byte) error {
	if len(b) < CreateCQRespSize {
		return ErrBufferTooSmall
	}
	le.PutUint32(b[0:4], r.CQHandle)
	le.PutUint32(b[4:8], r.CQE)
	le.PutUint64(b[8:16], r.Offset)
	le.PutUint64(b[16:24], r.PhysAddr)
	le.PutUint32(b[24:28], r.UsedOff)
	le.PutUint32(b[28:32], r.VQSize)
	le.PutUint32(b[32:36], r.CQSize)
	le.PutUint32(b[36:40], r.NumCQE)
	le.PutUint32(b[40:44], r.NumCVQE)
	le.PutUint32(b[44:48], 0)
	return nil
}

// UnmarshalCreateCQResp decodes a CREATE_CQ response.
func UnmarshalCreateCQResp(b []byte) (CreateCQResp, error) {
	if len(b) < CreateCQRespSize {
		return CreateCQResp{}, ErrInsufficientData
	}
	return CreateCQResp{
		CQHandle: le.Uint32(b[0:4]),
		CQE:      le.Uint32(b[4:8]),
		Offset:   le.Uint64(b[8:16]),
		PhysAddr: le.Uint64(b[16:24]),
		UsedOff:  le.Uint32(b[24:28]),
		VQSize:   le.Uint32(b[28:32]),
		CQSize:   le.Uint32(b[32:36]),
		NumCQE:   le.Uint32(b[36:40]),
		NumCVQE:  le.Uint32(b[40:44]),
	}, nil
}

// MarshalDestroyCQ builds a DESTROY_CQ command.
func MarshalDestroyCQ(cqHandle uint32, response uint64) []byte {
	buf := newCmd(IB_USER_VERBS_CMD_DESTROY_CQ, DestroyCQCmdSize, DestroyCQRespSize)
	b := buf[CmdHdrSize:]
	le.PutUint64(b[0:8], response)
	le.PutUint32(b[8:12], cqHandle)
	return buf
}

// UnmarshalDestroyCQResp decodes a DESTROY_CQ response.
func UnmarshalDestroyCQResp(b []byte) (DestroyCQResp, error) {
	if len(b) < DestroyCQRespSize {
		return DestroyCQResp{}, ErrInsufficientData
	}
	return DestroyCQResp{
		CompEventsReported:  le.Uint32(b[0:4]),
		AsyncEventsReported: le.Uint32(b[4:8]),
	}, nil
}

// Marshal builds a CREATE_QP command writing its response to the given
// user address.
func (c *CreateQPCmd) Marshal(response uint64) []byte {
	buf := newCmd(IB_USER_VERBS_CMD_CREATE_QP, CreateQPCmdSize, CreateQPRespSize)
	b := buf[CmdHdrSize:]
	le.PutUint64(b[0:8], response)
	le.PutUint64(b[8:16], c.UserHandle)
	le.PutUint32(b[16:20], c.PDHandle)
	le.PutUint32(b[20:24], c.SendCQHandle)
	le.PutUint32(b[24:28], c.RecvCQHandle)
	le.PutUint32(b[28:32], c.SRQHandle)
	le.PutUint32(b[32:36], c.MaxSendWR)
	le.PutUint32(b[36:40], c.MaxRecvWR)
	le.PutUint32(b[40:44], c.MaxSendSGE)
	le.PutUint32(b[44:48], c.MaxRecvSGE)
	le.PutUint32(b[48:52], c.MaxInlineData)
	b[52] = c.SQSigAll
	b[53] = c.QPType
	b[54] = c.IsSRQ
	return buf
}

// UnmarshalCreateQPCmd decodes the body of a CREATE_QP command (header
// excluded) and returns the response address with it.
func UnmarshalCreateQPCmd(b []byte) (CreateQPCmd, uint64, error) {
	if len(b) < CreateQPCmdSize {
		return CreateQPCmd{}, 0, ErrInsufficientData
	}
	return CreateQPCmd{
		UserHandle:    le.Uint64(b[8:16]),
		PDHandle:      le.Uint32(b[16:20]),
		SendCQHandle:  le.Uint32(b[20:24]),
		RecvCQHandle:  le.Uint32(b[24:28]),
		SRQHandle:     le.Uint32(b[28:32]),
		MaxSendWR:     le.Uint32(b[32:36]),
		MaxRecvWR:     le.Uint32(b[36:40]),
		MaxSendSGE:    le.Uint32(b[40:44]),
		MaxRecvSGE:    le.Uint32(b[44:48]),
		MaxInlineData: le.Uint32(b[48:52]),
		SQSigAll:      b[52],
		QPType:        b[53],
		IsSRQ:         b[54],
	}, le.Uint64(b[0:8]), nil
}

// MarshalTo encodes the response into b.
func (r *CreateQPResp) MarshalTo(b []byte) error {
	if len(b) < CreateQPRespSize {
		return ErrBufferTooSmall
	}
	le.PutUint32(b[0:4], r.QPHandle)
	le.PutUint32(b[4:8], r.QPN)
	le.PutUint32(b[8:12], r.MaxSendWR)
	le.PutUint32(b[12:16], r.MaxRecvWR)
	le.PutUint32(b[16:20], r.MaxSendSGE)
	le.PutUint32(b[20:24], r.MaxRecvSGE)
	le.PutUint32(b[24:28], r.MaxInlineData)
	le.PutUint32(b[28:32], 0)
	le.PutUint64(b[32:40], r.SQOffset)
	le.PutUint64(b[40:48], r.SQPhysAddr)
	le.PutUint64(b[48:56], r.RQOffset)
	le.PutUint64(b[56:64], r.RQPhysAddr)
	le.PutUint32(b[64:68], r.SVQUsedOff)
	le.PutUint32(b[68:72], r.SVQSize)
	le.PutUint32(b[72:76], r.SQSize)
	le.PutUint32(b[76:80], r.NumSQE)
	le.PutUint32(b[80:84], r.NumSVQE)
	le.PutUint32(b[84:88], r.SQIdx)
	le.PutUint32(b[88:92], r.RVQUsedOff)
	le.PutUint32(b[92:96], r.RVQSize)
	le.PutUint32(b[96:100], r.RQSize)
	le.PutUint32(b[100:104], r.NumRQE)
	le.PutUint32(b[104:108], r.NumRVQE)
	le.PutUint32(b[108:112], r.RQIdx)
	le.PutUint32(b[112:116], r.NotifierSize)
	le.PutUint32(b[116:120], 0)
	return nil
}

// UnmarshalCreateQPResp decodes a CREATE_QP response.
func UnmarshalCreateQPResp(b []byte) (CreateQPResp, error) {
	if len(b) < CreateQPRespSize {
		return CreateQPResp{}, ErrInsufficientData
	}
	return CreateQPResp{
		QPHandle:      le.Uint32(b[0:4]),
		QPN:           le.Uint32(b[4:8]),
		MaxSendWR:     le.Uint32(b[8:12]),
		MaxRecvWR:     le.Uint32(b[12:16]),
		MaxSendSGE:    le.Uint32(b[16:20]),
		MaxRecvSGE:    le.Uint32(b[20:24]),
		MaxInlineData: le.Uint32(b[24:28]),
		SQOffset:      le.Uint64(b[32:40]),
		SQPhysAddr:    le.Uint64(b[40:48]),
		RQOffset:      le.Uint64(b[48:56]),
		RQPhysAddr:    le.Uint64(b[56:64]),
		SVQUsedOff:    le.Uint32(b[64:68]),
		SVQSize:       le.Uint32(b[68:72]),
		SQSize:        le.Uint32(b[72:76]),
		NumSQE:        le.Uint32(b[76:80]),
		NumSVQE:       le.Uint32(b[80:84]),
		SQIdx:         le.Uint32(b[84:88]),
		RVQUsedOff:    le.Uint32(b[88:92]),
		RVQSize:       le.Uint32(b[92:96]),
		RQSize:        le.Uint32(b[96:100]),
		NumRQE:        le.Uint32(b[100:104]),
		NumRVQE:       le.Uint32(b[104:108]),
		RQIdx:         le.Uint32(b[108:112]),
		NotifierSize:  le.Uint32(b[112:116]),
	}, nil
}

// MarshalDestroyQP builds a DESTROY_QP command.
func MarshalDestroyQP(qpHandle uint32, response uint64) []byte {
	buf := newCmd(IB_USER_VERBS_CMD_DESTROY_QP, DestroyQPCmdSize, DestroyQPRespSize)
	b := buf[CmdHdrSize:]
	le.PutUint64(b[0:8], response)
	le.PutUint32(b[8:12], qpHandle)
	return buf
}

// UnmarshalDestroyQPResp decodes a DESTROY_QP response.
func UnmarshalDestroyQPResp(b []byte) (DestroyQPResp, error) {
	if len(b) < DestroyQPRespSize {
		return DestroyQPResp{}, ErrInsufficientData
	}
	return DestroyQPResp{EventsReported: le.Uint32(b[0:4])}, nil
}

// MarshalNullPost builds a POST_SEND or POST_RECV command carrying no work
// requests. The device treats it as a kick for the queue.
func MarshalNullPost(qpHandle uint32, send bool, response uint64) []byte {
	command := uint32(IB_USER_VERBS_CMD_POST_RECV)
	if send {
		command = IB_USER_VERBS_CMD_POST_SEND
	}
	buf := newCmd(command, PostCmdSize, PostRespSize)
	b := buf[CmdHdrSize:]
	le.PutUint64(b[0:8], response)
	le.PutUint32(b[8:12], qpHandle)
	// wr_count, sge_count, wqe_size stay zero
	return buf
}

// UnmarshalPostCmd decodes the queue handle and work request count of a
// POST_SEND or POST_RECV body (header excluded).
func UnmarshalPostCmd(b []byte) (qpHandle, wrCount uint32, err error) {
	if len(b) < PostCmdSize {
		return 0, 0, ErrInsufficientData
	}
	return le.Uint32(b[8:12]), le.Uint32(b[12:16]), nil
}
