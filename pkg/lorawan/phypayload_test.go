package lorawan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPHYPayloadRoundTrip(t *testing.T) {
	fport := uint8(10)
	mac := MACPayload{
		FHDR: FHDR{
			DevAddr: DevAddr{0x01, 0x02, 0x03, 0x04},
			FCtrl:   FCtrl{ADR: true, ACK: true},
			FCnt:    0x1234,
			FOpts:   []byte{0x02}, // LinkCheckReq
		},
		FPort:      &fport,
		FRMPayload: []byte{0xde, 0xad, 0xbe, 0xef},
	}
	macBytes, err := mac.MarshalBinary(true)
	require.NoError(t, err)

	phy := PHYPayload{
		MHDR:       MHDR{MType: UnconfirmedDataUp, Major: LoRaWANR1},
		MACPayload: macBytes,
		MIC:        [4]byte{0x11, 0x22, 0x33, 0x44},
	}
	frame, err := phy.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, byte(0x40), frame[0])
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, frame[len(frame)-4:])

	var out PHYPayload
	require.NoError(t, out.UnmarshalBinary(frame))
	assert.Equal(t, phy.MHDR, out.MHDR)
	assert.Equal(t, phy.MIC, out.MIC)

	var outMAC MACPayload
	require.NoError(t, outMAC.UnmarshalBinary(true, out.MACPayload))
	assert.Equal(t, mac.FHDR, outMAC.FHDR)
	require.NotNil(t, outMAC.FPort)
	assert.Equal(t, fport, *outMAC.FPort)
	assert.Equal(t, mac.FRMPayload, outMAC.FRMPayload)
}

func TestMACPayloadFCtrlBits(t *testing.T) {
	mac := MACPayload{
		FHDR: FHDR{
			DevAddr: DevAddr{0x01, 0x02, 0x03, 0x04},
			FCtrl:   FCtrl{ADR: true, ADRACKReq: true, ACK: true, ClassB: true},
			FCnt:    1,
		},
	}
	b, err := mac.MarshalBinary(true)
	require.NoError(t, err)
	assert.Equal(t, byte(0xf0), b[4])

	// FPending occupies the ClassB bit position on downlinks
	mac.FHDR.FCtrl = FCtrl{ACK: true, FPending: true}
	b, err = mac.MarshalBinary(false)
	require.NoError(t, err)
	assert.Equal(t, byte(0x30), b[4])
}

func TestMACPayloadErrors(t *testing.T) {
	mac := MACPayload{
		FHDR: FHDR{FOpts: make([]byte, 16)},
	}
	_, err := mac.MarshalBinary(true)
	assert.ErrorIs(t, err, ErrFOptsTooLong)

	mac = MACPayload{FRMPayload: []byte{0x01}}
	_, err = mac.MarshalBinary(true)
	assert.ErrorIs(t, err, ErrInvalidValue)

	var out MACPayload
	assert.ErrorIs(t, out.UnmarshalBinary(true, []byte{0x01, 0x02}), ErrTruncatedFrame)

	// FOptsLen claims more bytes than present
	frame := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x00, 0x00}
	assert.ErrorIs(t, out.UnmarshalBinary(true, frame), ErrTruncatedFrame)
}

func TestPHYPayloadTruncated(t *testing.T) {
	var p PHYPayload
	assert.ErrorIs(t, p.UnmarshalBinary([]byte{0x40, 0x01, 0x02}), ErrTruncatedFrame)
	assert.ErrorIs(t, p.UnmarshalBinary([]byte{0x40, 0x01, 0x02, 0x03, 0x04, 0x05}), ErrTruncatedFrame)
}

func TestPHYPayloadJoinAcceptKeepsCiphertext(t *testing.T) {
	// 1 MHDR byte plus 16 encrypted bytes; the MIC is inside the ciphertext
	frame := make([]byte, 17)
	frame[0] = 0x20
	for i := 1; i < len(frame); i++ {
		frame[i] = byte(i)
	}

	var p PHYPayload
	require.NoError(t, p.UnmarshalBinary(frame))
	assert.Equal(t, JoinAccept, p.MHDR.MType)
	assert.Len(t, p.MACPayload, 16)
	assert.Equal(t, frame[1:], p.MACPayload)
}

func TestJoinRequestPayload(t *testing.T) {
	j := JoinRequestPayload{
		JoinEUI:  EUI64{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		DevEUI:   EUI64{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01},
		DevNonce: 0x0102,
	}
	b, err := j.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x02, 0x01,
	}, b)

	var out JoinRequestPayload
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, j, out)
}

func TestJoinAcceptPayload(t *testing.T) {
	j := JoinAcceptPayload{
		JoinNonce:  [3]byte{0x01, 0x02, 0x03},
		NetID:      [3]byte{0x04, 0x05, 0x06},
		DevAddr:    DevAddr{0x07, 0x08, 0x09, 0x0a},
		DLSettings: DLSettings{RX1DROffset: 1, RX2DataRate: 2},
		RxDelay:    1,
	}
	b, err := j.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 12)

	var out JoinAcceptPayload
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, j, out)
	assert.Nil(t, out.CFList)
}

func TestJoinAcceptPayloadWithCFList(t *testing.T) {
	cf := CFList{867100000, 867300000, 867500000, 867700000, 867900000}
	j := JoinAcceptPayload{
		DevAddr:    DevAddr{0x07, 0x08, 0x09, 0x0a},
		DLSettings: DLSettings{RX2DataRate: 0},
		RxDelay:    1,
		CFList:     &cf,
	}
	b, err := j.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 28)
	assert.Equal(t, []byte{
		0x18, 0x4f, 0x84,
		0xe8, 0x56, 0x84,
		0xb8, 0x5e, 0x84,
		0x88, 0x66, 0x84,
		0x58, 0x6e, 0x84,
		0x00,
	}, b[12:])

	var out JoinAcceptPayload
	require.NoError(t, out.UnmarshalBinary(b))
	require.NotNil(t, out.CFList)
	assert.Equal(t, cf, *out.CFList)
}

func TestCFListUnsupportedType(t *testing.T) {
	data := make([]byte, 16)
	data[15] = 1 // channel-mask type is for fixed plans only
	var l CFList
	assert.ErrorIs(t, l.UnmarshalBinary(data), ErrInvalidValue)
}

func TestFullFCnt(t *testing.T) {
	tests := []struct {
		name     string
		last     uint32
		wire     uint16
		expected uint32
	}{
		{"same epoch", 10, 11, 11},
		{"rollover", 0xfff0, 0x0005, 0x10005},
		{"rollover above first epoch", 0x1fff0, 0x0002, 0x20002},
		{"reordered frame stays in epoch", 0x8000, 0x7fff, 0x7fff},
		{"exact boundary", 0xffff, 0x0000, 0x10000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FullFCnt(tc.last, tc.wire))
		})
	}
}

func TestDLSettings(t *testing.T) {
	_, err := DLSettings{RX2DataRate: 16}.MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = DLSettings{RX1DROffset: 8}.MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidValue)

	b, err := DLSettings{RX1DROffset: 5, RX2DataRate: 3}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x53}, b)
}

func TestEUI64FromString(t *testing.T) {
	e, err := EUI64FromString("00 11 22 33 44 55 66 77")
	require.NoError(t, err)
	assert.Equal(t, EUI64{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}, e)

	_, err = EUI64FromString("0011")
	assert.Error(t, err)
}
