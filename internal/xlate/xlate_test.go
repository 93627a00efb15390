package xlate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ehrlich-b/go-vrdma/internal/uapi"
	"github.com/ehrlich-b/go-vrdma/internal/verbs"
)

func TestWROpcodeRoundTrip(t *testing.T) {
	supported := []verbs.WROpcode{
		verbs.WRRDMAWrite,
		verbs.WRRDMAWriteWithImm,
		verbs.WRSend,
		verbs.WRSendWithImm,
		verbs.WRRDMARead,
	}
	for _, op := range supported {
		wire := WROpcodeToWire(op)
		assert.NotEqual(t, uapi.WROpcodeInvalid, wire, op.String())
		assert.Equal(t, op, WROpcodeFromWire(wire), op.String())
	}

	for _, op := range []verbs.WROpcode{verbs.WRAtomicCmpAndSwp, verbs.WRAtomicFetchAndAdd, verbs.WRLocalInv, verbs.WRBindMW, verbs.WRTSO} {
		assert.Equal(t, uapi.WROpcodeInvalid, WROpcodeToWire(op), op.String())
	}
	assert.Equal(t, verbs.WROpcodeInvalid, WROpcodeFromWire(0x7F))
	assert.Equal(t, verbs.WROpcodeInvalid, WROpcodeFromWire(uapi.WROpcodeInvalid))
}

func TestWCOpcodeRoundTrip(t *testing.T) {
	for w := uapi.WCOpcode(0); w <= uapi.VIRTIO_IB_WC_RECV_RDMA_WITH_IMM; w++ {
		g := WCOpcodeFromWire(w)
		assert.NotEqual(t, verbs.WCOpcodeInvalid, g)
		assert.Equal(t, w, WCOpcodeToWire(g))
	}
	assert.Equal(t, verbs.WCOpRecv, WCOpcodeFromWire(uapi.VIRTIO_IB_WC_RECV))
	assert.Equal(t, verbs.WCOpcodeInvalid, WCOpcodeFromWire(5))
	assert.Equal(t, uapi.WCOpcodeInvalid, WCOpcodeToWire(verbs.WCOpCompSwap))
}

func TestWCStatusRoundTrip(t *testing.T) {
	// every wire status maps to a distinct generic status and back
	seen := make(map[verbs.WCStatus]bool)
	for w := uapi.WCStatus(0); w <= uapi.VIRTIO_IB_WC_GENERAL_ERR; w++ {
		g := WCStatusFromWire(w)
		assert.NotEqual(t, verbs.WCStatusInvalid, g, "wire %d", w)
		assert.False(t, seen[g], "duplicate mapping for %s", g)
		seen[g] = true
		assert.Equal(t, w, WCStatusToWire(g))
	}

	assert.Equal(t, verbs.WCRemoteAccessErr, WCStatusFromWire(uapi.VIRTIO_IB_WC_REM_ACCESS_ERR))
	assert.Equal(t, verbs.WCStatusInvalid, WCStatusFromWire(16))
	assert.Equal(t, uapi.WCStatusInvalid, WCStatusToWire(verbs.WCLocalEECOpErr))
	assert.Equal(t, uapi.WCStatusInvalid, WCStatusToWire(verbs.WCStatusInvalid))
}

func TestSendFlagsPerBit(t *testing.T) {
	tests := []struct {
		name    string
		generic verbs.SendFlags
		wire    uapi.SendFlags
	}{
		{"none", 0, 0},
		{"signaled", verbs.SendSignaled, uapi.VIRTIO_IB_SEND_SIGNALED},
		{"signaled_inline", verbs.SendSignaled | verbs.SendInline, uapi.VIRTIO_IB_SEND_SIGNALED | uapi.VIRTIO_IB_SEND_INLINE},
		{"all", verbs.SendFence | verbs.SendSignaled | verbs.SendSolicited | verbs.SendInline, 0x0F},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, SendFlagsToWire(tt.generic))
			assert.Equal(t, tt.generic, SendFlagsFromWire(tt.wire))
		})
	}

	assert.Equal(t, uapi.SendFlagsInvalid, SendFlagsToWire(verbs.SendSignaled|verbs.SendIPCsum))
	assert.Equal(t, uapi.SendFlagsInvalid, SendFlagsToWire(verbs.SendFlagsInvalid))
	assert.Equal(t, verbs.SendFlagsInvalid, SendFlagsFromWire(0x10))
	assert.Equal(t, verbs.SendFlagsInvalid, SendFlagsFromWire(uapi.SendFlagsInvalid))
}

func TestWCFlagsPerBit(t *testing.T) {
	assert.Equal(t, verbs.WCGRH|verbs.WCWithImm, WCFlagsFromWire(uapi.VIRTIO_IB_WC_GRH|uapi.VIRTIO_IB_WC_WITH_IMM))
	assert.Equal(t, verbs.WCFlags(0), WCFlagsFromWire(0))
	assert.Equal(t, uapi.VIRTIO_IB_WC_WITH_IMM, WCFlagsToWire(verbs.WCWithImm))
	assert.Equal(t, verbs.WCFlagsInvalid, WCFlagsFromWire(0x04))
	assert.Equal(t, uapi.WCFlagsInvalid, WCFlagsToWire(verbs.WCWithInv))
}
