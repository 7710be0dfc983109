package lorawan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkADRReqPayload(t *testing.T) {
	p := LinkADRReqPayload{
		DataRate:   5,
		TXPower:    3,
		ChMask:     [2]byte{0xc7, 0x0b},
		Redundancy: Redundancy{ChMaskCntl: 3, NbRep: 7},
	}

	b, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x53, 0xc7, 0x0b, 0x37}, b)

	var out LinkADRReqPayload
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, p, out)
}

func TestLinkADRReqPayloadRangeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload LinkADRReqPayload
	}{
		{"data rate too high", LinkADRReqPayload{DataRate: 16}},
		{"tx power too high", LinkADRReqPayload{TXPower: 16}},
		{"nb rep too high", LinkADRReqPayload{Redundancy: Redundancy{NbRep: 16}}},
		{"ch mask cntl too high", LinkADRReqPayload{Redundancy: Redundancy{ChMaskCntl: 8}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.payload.MarshalBinary()
			assert.ErrorIs(t, err, ErrInvalidValue)
		})
	}
}

func TestDevStatusAnsPayload(t *testing.T) {
	p := DevStatusAnsPayload{Battery: 200, Margin: -20}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xc8, 0x2c}, b)

	var out DevStatusAnsPayload
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, p, out)

	p = DevStatusAnsPayload{Battery: 0, Margin: 10}
	b, err = p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x0a}, b)

	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, p, out)

	_, err = DevStatusAnsPayload{Margin: 32}.MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = DevStatusAnsPayload{Margin: -33}.MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestRXParamSetupReqPayload(t *testing.T) {
	p := RXParamSetupReqPayload{
		DLSettings: DLSettings{RX1DROffset: 1, RX2DataRate: 2},
		Frequency:  868100000,
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x28, 0x76, 0x84}, b)

	var out RXParamSetupReqPayload
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, p, out)
}

func TestNewChannelReqPayload(t *testing.T) {
	p := NewChannelReqPayload{ChIndex: 3, Freq: 867500000, MinDR: 0, MaxDR: 5}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0xb8, 0x5e, 0x84, 0x50}, b)

	var out NewChannelReqPayload
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, p, out)

	_, err = NewChannelReqPayload{Freq: 868100050}.MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = NewChannelReqPayload{Freq: 1<<24*100 + 100}.MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestTXParamSetupReqPayload(t *testing.T) {
	p := TXParamSetupReqPayload{UplinkDwellTime: true, MaxEIRP: 14}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1e}, b)

	var out TXParamSetupReqPayload
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, p, out)
}

func TestDLChannelReqPayload(t *testing.T) {
	p := DLChannelReqPayload{ChIndex: 1, Freq: 869525000}
	b, err := p.MarshalBinary()
	require.NoError(t, err)

	var out DLChannelReqPayload
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, p, out)
}

func TestDeviceTimeAnsPayload(t *testing.T) {
	p := DeviceTimeAnsPayload{Seconds: 0x01020304, Fractions: 0x80}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0x80}, b)

	var out DeviceTimeAnsPayload
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, p, out)
}

func TestEncodeMACCommands(t *testing.T) {
	cmds := []MACCommand{
		{CID: CIDLinkADRAns, Payload: &LinkADRAnsPayload{ChannelMaskACK: true, DataRateACK: true, PowerACK: true}},
		{CID: CIDDevStatusAns, Payload: &DevStatusAnsPayload{Battery: 200, Margin: -20}},
	}

	n, err := MACCommandsLength(true, cmds)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 15)
	n, err = EncodeMACCommands(true, cmds, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x07, 0x06, 0xc8, 0x2c}, buf[:n])
}

func TestEncodeMACCommandsBufferTooShort(t *testing.T) {
	cmds := []MACCommand{
		{CID: CIDLinkADRAns, Payload: &LinkADRAnsPayload{}},
		{CID: CIDDevStatusAns, Payload: &DevStatusAnsPayload{}},
	}

	buf := make([]byte, 4)
	_, err := EncodeMACCommands(true, cmds, buf)
	assert.ErrorIs(t, err, ErrBufferTooShort)
	// the destination stays untouched on failure
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestParseMACCommands(t *testing.T) {
	data := []byte{
		0x03, 0x53, 0xc7, 0x0b, 0x37, // LinkADRReq
		0x06,             // DevStatusReq
		0x08, 0x01,       // RXTimingSetupReq
		0x0d, 0x04, 0x03, 0x02, 0x01, 0x80, // DeviceTimeAns
	}

	cmds, err := ParseMACCommands(false, data)
	require.NoError(t, err)
	require.Len(t, cmds, 4)

	assert.Equal(t, CIDLinkADRReq, cmds[0].CID)
	assert.Equal(t, &LinkADRReqPayload{
		DataRate:   5,
		TXPower:    3,
		ChMask:     [2]byte{0xc7, 0x0b},
		Redundancy: Redundancy{ChMaskCntl: 3, NbRep: 7},
	}, cmds[0].Payload)

	assert.Equal(t, CIDDevStatusReq, cmds[1].CID)
	assert.Nil(t, cmds[1].Payload)

	assert.Equal(t, CIDRXTimingSetupReq, cmds[2].CID)
	assert.Equal(t, &RXTimingSetupReqPayload{Delay: 1}, cmds[2].Payload)

	assert.Equal(t, CIDDeviceTimeAns, cmds[3].CID)
	assert.Equal(t, &DeviceTimeAnsPayload{Seconds: 0x01020304, Fractions: 0x80}, cmds[3].Payload)
}

func TestParseMACCommandsErrors(t *testing.T) {
	_, err := ParseMACCommands(false, []byte{0x80})
	assert.ErrorIs(t, err, ErrInvalidCID)

	// LinkADRReq with a truncated payload
	_, err = ParseMACCommands(false, []byte{0x03, 0x53})
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	// same CID parses as the zero-length LinkCheckReq in the uplink direction
	cmds, err := ParseMACCommands(true, []byte{0x02})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Nil(t, cmds[0].Payload)
}

func TestDutyCycleReqPayload(t *testing.T) {
	b, err := DutyCycleReqPayload{MaxDutyCycle: 4}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04}, b)

	_, err = DutyCycleReqPayload{MaxDutyCycle: 16}.MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = DutyCycleReqPayload{MaxDutyCycle: 255}.MarshalBinary()
	assert.NoError(t, err)
}
