package lorawan

import (
	"encoding/binary"
	"fmt"
)

// CID defines the MAC command identifier. Each *Req / *Ans pair shares the
// same value; the uplink flag decides which payload layout applies.
type CID byte

// MAC commands of LoRaWAN 1.0.x. 0x80 to 0xFF are reserved for proprietary
// network extensions.
const (
	CIDLinkCheckReq     CID = 0x02
	CIDLinkCheckAns     CID = 0x02
	CIDLinkADRReq       CID = 0x03
	CIDLinkADRAns       CID = 0x03
	CIDDutyCycleReq     CID = 0x04
	CIDDutyCycleAns     CID = 0x04
	CIDRXParamSetupReq  CID = 0x05
	CIDRXParamSetupAns  CID = 0x05
	CIDDevStatusReq     CID = 0x06
	CIDDevStatusAns     CID = 0x06
	CIDNewChannelReq    CID = 0x07
	CIDNewChannelAns    CID = 0x07
	CIDRXTimingSetupReq CID = 0x08
	CIDRXTimingSetupAns CID = 0x08
	CIDTXParamSetupReq  CID = 0x09
	CIDTXParamSetupAns  CID = 0x09
	CIDDLChannelReq     CID = 0x0A
	CIDDLChannelAns     CID = 0x0A
	CIDDeviceTimeReq    CID = 0x0D
	CIDDeviceTimeAns    CID = 0x0D
)

// MACCommandPayload is the interface every MAC command payload implements.
type MACCommandPayload interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// macPayloadInfo describes the fixed payload layout of one command in one
// direction.
type macPayloadInfo struct {
	size    int
	payload func() MACCommandPayload
}

// macPayloadRegistry maps direction and CID to payload layout, in the format
// map[uplink]map[CID]. Commands without a payload carry a zero size and no
// factory.
var macPayloadRegistry = map[bool]map[CID]macPayloadInfo{
	// network to device
	false: {
		CIDLinkCheckAns:     {2, func() MACCommandPayload { return &LinkCheckAnsPayload{} }},
		CIDLinkADRReq:       {4, func() MACCommandPayload { return &LinkADRReqPayload{} }},
		CIDDutyCycleReq:     {1, func() MACCommandPayload { return &DutyCycleReqPayload{} }},
		CIDRXParamSetupReq:  {4, func() MACCommandPayload { return &RXParamSetupReqPayload{} }},
		CIDDevStatusReq:     {0, nil},
		CIDNewChannelReq:    {5, func() MACCommandPayload { return &NewChannelReqPayload{} }},
		CIDRXTimingSetupReq: {1, func() MACCommandPayload { return &RXTimingSetupReqPayload{} }},
		CIDTXParamSetupReq:  {1, func() MACCommandPayload { return &TXParamSetupReqPayload{} }},
		CIDDLChannelReq:     {4, func() MACCommandPayload { return &DLChannelReqPayload{} }},
		CIDDeviceTimeAns:    {5, func() MACCommandPayload { return &DeviceTimeAnsPayload{} }},
	},
	// device to network
	true: {
		CIDLinkCheckReq:     {0, nil},
		CIDLinkADRAns:       {1, func() MACCommandPayload { return &LinkADRAnsPayload{} }},
		CIDDutyCycleAns:     {0, nil},
		CIDRXParamSetupAns:  {1, func() MACCommandPayload { return &RXParamSetupAnsPayload{} }},
		CIDDevStatusAns:     {2, func() MACCommandPayload { return &DevStatusAnsPayload{} }},
		CIDNewChannelAns:    {1, func() MACCommandPayload { return &NewChannelAnsPayload{} }},
		CIDRXTimingSetupAns: {0, nil},
		CIDTXParamSetupAns:  {0, nil},
		CIDDLChannelAns:     {1, func() MACCommandPayload { return &DLChannelAnsPayload{} }},
		CIDDeviceTimeReq:    {0, nil},
	},
}

// MACCommand represents a single MAC command with optional payload.
type MACCommand struct {
	CID     CID
	Payload MACCommandPayload
}

// MarshalBinary marshals the command (CID followed by payload) in binary form.
func (m MACCommand) MarshalBinary() ([]byte, error) {
	b := []byte{byte(m.CID)}
	if m.Payload != nil {
		p, err := m.Payload.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = append(b, p...)
	}
	return b, nil
}

// Length returns the serialized length (1 for the CID plus the fixed payload
// size of the command in the given direction).
func (m MACCommand) Length(uplink bool) (int, error) {
	info, ok := macPayloadRegistry[uplink][m.CID]
	if !ok {
		return 0, fmt.Errorf("%w: CID 0x%02x uplink=%v", ErrInvalidCID, byte(m.CID), uplink)
	}
	return 1 + info.size, nil
}

// EncodeMACCommands writes a sequence of commands into buf, CID then payload,
// no delimiter. The total length is computed up front; if buf cannot hold it
// the function fails with ErrBufferTooShort before writing anything. The
// number of bytes written is returned.
func EncodeMACCommands(uplink bool, cmds []MACCommand, buf []byte) (int, error) {
	var total int
	for _, cmd := range cmds {
		n, err := cmd.Length(uplink)
		if err != nil {
			return 0, err
		}
		total += n
	}
	if total > len(buf) {
		return 0, ErrBufferTooShort
	}

	i := 0
	for _, cmd := range cmds {
		b, err := cmd.MarshalBinary()
		if err != nil {
			return 0, err
		}
		copy(buf[i:], b)
		i += len(b)
	}
	return i, nil
}

// MACCommandsLength returns the serialized length of a command sequence.
func MACCommandsLength(uplink bool, cmds []MACCommand) (int, error) {
	var total int
	for _, cmd := range cmds {
		n, err := cmd.Length(uplink)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ParseMACCommands parses a concatenated command sequence, e.g. the FOpts
// field or a port-0 FRMPayload.
func ParseMACCommands(uplink bool, data []byte) ([]MACCommand, error) {
	var cmds []MACCommand

	for i := 0; i < len(data); {
		c := CID(data[i])
		i++

		info, ok := macPayloadRegistry[uplink][c]
		if !ok {
			return nil, fmt.Errorf("%w: CID 0x%02x uplink=%v", ErrInvalidCID, byte(c), uplink)
		}
		if i+info.size > len(data) {
			return nil, fmt.Errorf("%w: CID 0x%02x payload", ErrTruncatedFrame, byte(c))
		}

		cmd := MACCommand{CID: c}
		if info.size > 0 {
			cmd.Payload = info.payload()
			if err := cmd.Payload.UnmarshalBinary(data[i : i+info.size]); err != nil {
				return nil, err
			}
			i += info.size
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// LinkCheckAnsPayload represents the LinkCheckAns payload.
type LinkCheckAnsPayload struct {
	Margin uint8
	GwCnt  uint8
}

// MarshalBinary marshals the object in binary form.
func (p LinkCheckAnsPayload) MarshalBinary() ([]byte, error) {
	return []byte{p.Margin, p.GwCnt}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *LinkCheckAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 2 {
		return ErrInvalidLength
	}
	p.Margin = data[0]
	p.GwCnt = data[1]
	return nil
}

// Redundancy represents the redundancy octet of a LinkADRReq.
type Redundancy struct {
	ChMaskCntl uint8
	NbRep      uint8
}

// MarshalBinary marshals the object in binary form.
func (r Redundancy) MarshalBinary() ([]byte, error) {
	if r.NbRep > 15 {
		return nil, fmt.Errorf("%w: max value of NbRep is 15", ErrInvalidValue)
	}
	if r.ChMaskCntl > 7 {
		return nil, fmt.Errorf("%w: max value of ChMaskCntl is 7", ErrInvalidValue)
	}
	return []byte{r.NbRep | r.ChMaskCntl<<4}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (r *Redundancy) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrInvalidLength
	}
	r.NbRep = data[0] & 0x0f
	r.ChMaskCntl = (data[0] >> 4) & 0x07
	return nil
}

// LinkADRReqPayload represents the LinkADRReq payload. ChMask carries the raw
// two-byte channel-mask bank as it appears on the wire.
type LinkADRReqPayload struct {
	DataRate   uint8
	TXPower    uint8
	ChMask     [2]byte
	Redundancy Redundancy
}

// MarshalBinary marshals the object in binary form.
func (p LinkADRReqPayload) MarshalBinary() ([]byte, error) {
	if p.DataRate > 15 {
		return nil, fmt.Errorf("%w: max value of DataRate is 15", ErrInvalidValue)
	}
	if p.TXPower > 15 {
		return nil, fmt.Errorf("%w: max value of TXPower is 15", ErrInvalidValue)
	}
	r, err := p.Redundancy.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return []byte{p.TXPower | p.DataRate<<4, p.ChMask[0], p.ChMask[1], r[0]}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *LinkADRReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return ErrInvalidLength
	}
	p.DataRate = data[0] >> 4
	p.TXPower = data[0] & 0x0f
	p.ChMask[0] = data[1]
	p.ChMask[1] = data[2]
	return p.Redundancy.UnmarshalBinary(data[3:4])
}

// LinkADRAnsPayload represents the LinkADRAns payload.
type LinkADRAnsPayload struct {
	ChannelMaskACK bool
	DataRateACK    bool
	PowerACK       bool
}

// MarshalBinary marshals the object in binary form.
func (p LinkADRAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelMaskACK {
		b |= 1 << 0
	}
	if p.DataRateACK {
		b |= 1 << 1
	}
	if p.PowerACK {
		b |= 1 << 2
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *LinkADRAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrInvalidLength
	}
	p.ChannelMaskACK = data[0]&(1<<0) != 0
	p.DataRateACK = data[0]&(1<<1) != 0
	p.PowerACK = data[0]&(1<<2) != 0
	return nil
}

// DutyCycleReqPayload represents the DutyCycleReq payload. The aggregated
// duty cycle becomes 1/2^MaxDutyCycle.
type DutyCycleReqPayload struct {
	MaxDutyCycle uint8
}

// MarshalBinary marshals the object in binary form.
func (p DutyCycleReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxDutyCycle > 15 && p.MaxDutyCycle < 255 {
		return nil, fmt.Errorf("%w: MaxDutyCycle must be 0-15 or 255", ErrInvalidValue)
	}
	return []byte{p.MaxDutyCycle}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *DutyCycleReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrInvalidLength
	}
	p.MaxDutyCycle = data[0]
	return nil
}

// RXParamSetupReqPayload represents the RXParamSetupReq payload. Frequency is
// in Hz and must be a multiple of 100.
type RXParamSetupReqPayload struct {
	DLSettings DLSettings
	Frequency  uint32
}

// MarshalBinary marshals the object in binary form.
func (p RXParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	dl, err := p.DLSettings.MarshalBinary()
	if err != nil {
		return nil, err
	}
	f, err := marshalFrequency(p.Frequency)
	if err != nil {
		return nil, err
	}
	return []byte{dl[0], f[0], f[1], f[2]}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *RXParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return ErrInvalidLength
	}
	if err := p.DLSettings.UnmarshalBinary(data[0:1]); err != nil {
		return err
	}
	p.Frequency = unmarshalFrequency(data[1:4])
	return nil
}

// RXParamSetupAnsPayload represents the RXParamSetupAns payload.
type RXParamSetupAnsPayload struct {
	ChannelACK     bool
	RX2DataRateACK bool
	RX1DROffsetACK bool
}

// MarshalBinary marshals the object in binary form.
func (p RXParamSetupAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelACK {
		b |= 1 << 0
	}
	if p.RX2DataRateACK {
		b |= 1 << 1
	}
	if p.RX1DROffsetACK {
		b |= 1 << 2
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *RXParamSetupAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrInvalidLength
	}
	p.ChannelACK = data[0]&(1<<0) != 0
	p.RX2DataRateACK = data[0]&(1<<1) != 0
	p.RX1DROffsetACK = data[0]&(1<<2) != 0
	return nil
}

// DevStatusAnsPayload represents the DevStatusAns payload. Battery 0 means an
// external power source, 255 means the level could not be measured. Margin is
// the demodulation SNR margin of the last DevStatusReq, -32..31 dB.
type DevStatusAnsPayload struct {
	Battery uint8
	Margin  int8
}

// MarshalBinary marshals the object in binary form.
func (p DevStatusAnsPayload) MarshalBinary() ([]byte, error) {
	if p.Margin < -32 {
		return nil, fmt.Errorf("%w: min value of Margin is -32", ErrInvalidValue)
	}
	if p.Margin > 31 {
		return nil, fmt.Errorf("%w: max value of Margin is 31", ErrInvalidValue)
	}
	// 6-bit two's complement
	return []byte{p.Battery, byte(p.Margin) & 0x3f}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *DevStatusAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 2 {
		return ErrInvalidLength
	}
	p.Battery = data[0]
	if data[1] > 31 {
		p.Margin = int8(data[1]) - 64
	} else {
		p.Margin = int8(data[1])
	}
	return nil
}

// NewChannelReqPayload represents the NewChannelReq payload. Freq is in Hz.
type NewChannelReqPayload struct {
	ChIndex uint8
	Freq    uint32
	MaxDR   uint8
	MinDR   uint8
}

// MarshalBinary marshals the object in binary form.
func (p NewChannelReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxDR > 15 {
		return nil, fmt.Errorf("%w: max value of MaxDR is 15", ErrInvalidValue)
	}
	if p.MinDR > 15 {
		return nil, fmt.Errorf("%w: max value of MinDR is 15", ErrInvalidValue)
	}
	f, err := marshalFrequency(p.Freq)
	if err != nil {
		return nil, err
	}
	return []byte{p.ChIndex, f[0], f[1], f[2], p.MinDR | p.MaxDR<<4}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *NewChannelReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 5 {
		return ErrInvalidLength
	}
	p.ChIndex = data[0]
	p.Freq = unmarshalFrequency(data[1:4])
	p.MinDR = data[4] & 0x0f
	p.MaxDR = data[4] >> 4
	return nil
}

// NewChannelAnsPayload represents the NewChannelAns payload.
type NewChannelAnsPayload struct {
	ChannelFrequencyOK bool
	DataRateRangeOK    bool
}

// MarshalBinary marshals the object in binary form.
func (p NewChannelAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelFrequencyOK {
		b |= 1 << 0
	}
	if p.DataRateRangeOK {
		b |= 1 << 1
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *NewChannelAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrInvalidLength
	}
	p.ChannelFrequencyOK = data[0]&(1<<0) != 0
	p.DataRateRangeOK = data[0]&(1<<1) != 0
	return nil
}

// RXTimingSetupReqPayload represents the RXTimingSetupReq payload.
// Delay 0 and 1 both mean one second.
type RXTimingSetupReqPayload struct {
	Delay uint8
}

// MarshalBinary marshals the object in binary form.
func (p RXTimingSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.Delay > 15 {
		return nil, fmt.Errorf("%w: max value of Delay is 15", ErrInvalidValue)
	}
	return []byte{p.Delay}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *RXTimingSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrInvalidLength
	}
	p.Delay = data[0] & 0x0f
	return nil
}

// TXParamSetupReqPayload represents the TXParamSetupReq payload.
type TXParamSetupReqPayload struct {
	DownlinkDwellTime bool
	UplinkDwellTime   bool
	MaxEIRP           uint8
}

// MarshalBinary marshals the object in binary form.
func (p TXParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxEIRP > 15 {
		return nil, fmt.Errorf("%w: max value of MaxEIRP is 15", ErrInvalidValue)
	}
	b := p.MaxEIRP
	if p.UplinkDwellTime {
		b |= 1 << 4
	}
	if p.DownlinkDwellTime {
		b |= 1 << 5
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *TXParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrInvalidLength
	}
	p.MaxEIRP = data[0] & 0x0f
	p.UplinkDwellTime = data[0]&(1<<4) != 0
	p.DownlinkDwellTime = data[0]&(1<<5) != 0
	return nil
}

// DLChannelReqPayload represents the DlChannelReq payload. Freq is in Hz.
type DLChannelReqPayload struct {
	ChIndex uint8
	Freq    uint32
}

// MarshalBinary marshals the object in binary form.
func (p DLChannelReqPayload) MarshalBinary() ([]byte, error) {
	f, err := marshalFrequency(p.Freq)
	if err != nil {
		return nil, err
	}
	return []byte{p.ChIndex, f[0], f[1], f[2]}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *DLChannelReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return ErrInvalidLength
	}
	p.ChIndex = data[0]
	p.Freq = unmarshalFrequency(data[1:4])
	return nil
}

// DLChannelAnsPayload represents the DlChannelAns payload.
type DLChannelAnsPayload struct {
	ChannelFrequencyOK      bool
	UplinkFrequencyExistsOK bool
}

// MarshalBinary marshals the object in binary form.
func (p DLChannelAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelFrequencyOK {
		b |= 1 << 0
	}
	if p.UplinkFrequencyExistsOK {
		b |= 1 << 1
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *DLChannelAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrInvalidLength
	}
	p.ChannelFrequencyOK = data[0]&(1<<0) != 0
	p.UplinkFrequencyExistsOK = data[0]&(1<<1) != 0
	return nil
}

// DeviceTimeAnsPayload represents the DeviceTimeAns payload: GPS epoch
// seconds plus a fractional part in 1/256 second steps.
type DeviceTimeAnsPayload struct {
	Seconds   uint32
	Fractions uint8
}

// MarshalBinary marshals the object in binary form.
func (p DeviceTimeAnsPayload) MarshalBinary() ([]byte, error) {
	b := make([]byte, 5)
	binary.LittleEndian.PutUint32(b[0:4], p.Seconds)
	b[4] = p.Fractions
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *DeviceTimeAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 5 {
		return ErrInvalidLength
	}
	p.Seconds = binary.LittleEndian.Uint32(data[0:4])
	p.Fractions = data[4]
	return nil
}

// marshalFrequency converts a frequency in Hz into the 24-bit little-endian
// 100 Hz wire representation.
func marshalFrequency(freq uint32) ([3]byte, error) {
	var b [3]byte
	if freq%100 != 0 {
		return b, fmt.Errorf("%w: frequency must be a multiple of 100 Hz", ErrInvalidValue)
	}
	f := freq / 100
	if f >= 1<<24 {
		return b, fmt.Errorf("%w: max value of frequency is 2^24-1", ErrInvalidValue)
	}
	b[0] = byte(f)
	b[1] = byte(f >> 8)
	b[2] = byte(f >> 16)
	return b, nil
}

func unmarshalFrequency(data []byte) uint32 {
	return 100 * (uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16)
}
