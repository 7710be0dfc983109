package lorawan

import (
	"fmt"
)

// PHYPayload represents the air-interface frame: MHDR | MACPayload | MIC.
// For a join-accept the MIC travels inside the encrypted MACPayload and the
// MIC field is only populated after decryption.
type PHYPayload struct {
	MHDR       MHDR
	MACPayload []byte
	MIC        [4]byte
}

// MarshalBinary marshals the frame in binary form.
func (p PHYPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 1+len(p.MACPayload)+4)
	data = append(data, p.MHDR.byteValue())
	data = append(data, p.MACPayload...)
	if p.MHDR.MType != JoinAccept {
		data = append(data, p.MIC[:]...)
	}
	return data, nil
}

// UnmarshalBinary decodes the frame from binary form. Join-accept frames keep
// the trailing bytes inside MACPayload since they are still encrypted.
func (p *PHYPayload) UnmarshalBinary(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("%w: %d bytes", ErrTruncatedFrame, len(data))
	}

	p.MHDR.MType = MType(data[0]>>5) & 0x07
	p.MHDR.Major = Major(data[0] & 0x03)

	if p.MHDR.MType == JoinAccept {
		p.MACPayload = data[1:]
		return nil
	}

	if len(data) < 12 {
		return fmt.Errorf("%w: %d bytes", ErrTruncatedFrame, len(data))
	}
	p.MACPayload = data[1 : len(data)-4]
	copy(p.MIC[:], data[len(data)-4:])
	return nil
}

// MHDRByte returns the raw MAC header byte. MIC computation covers it.
func (p PHYPayload) MHDRByte() byte {
	return p.MHDR.byteValue()
}

// IsUplink reports whether the frame travels device to network.
func (p PHYPayload) IsUplink() bool {
	switch p.MHDR.MType {
	case JoinRequest, UnconfirmedDataUp, ConfirmedDataUp:
		return true
	default:
		return false
	}
}

// MACPayload represents the data-frame MAC payload: FHDR | FPort | FRMPayload.
type MACPayload struct {
	FHDR       FHDR
	FPort      *uint8
	FRMPayload []byte
}

// MarshalBinary marshals the payload in binary form. The uplink flag selects
// which FCtrl bits are valid for the direction.
func (m MACPayload) MarshalBinary(uplink bool) ([]byte, error) {
	if len(m.FHDR.FOpts) > 15 {
		return nil, ErrFOptsTooLong
	}
	if m.FPort == nil && len(m.FRMPayload) > 0 {
		return nil, fmt.Errorf("%w: FRMPayload without FPort", ErrInvalidValue)
	}

	data := make([]byte, 0, 7+len(m.FHDR.FOpts)+1+len(m.FRMPayload))
	data = append(data, m.FHDR.DevAddr[:]...)

	var fctrl byte
	if m.FHDR.FCtrl.ADR {
		fctrl |= 0x80
	}
	if uplink {
		if m.FHDR.FCtrl.ADRACKReq {
			fctrl |= 0x40
		}
		if m.FHDR.FCtrl.ACK {
			fctrl |= 0x20
		}
		if m.FHDR.FCtrl.ClassB {
			fctrl |= 0x10
		}
	} else {
		if m.FHDR.FCtrl.ACK {
			fctrl |= 0x20
		}
		if m.FHDR.FCtrl.FPending {
			fctrl |= 0x10
		}
	}
	fctrl |= byte(len(m.FHDR.FOpts)) & 0x0f
	data = append(data, fctrl)

	data = append(data, byte(m.FHDR.FCnt), byte(m.FHDR.FCnt>>8))
	data = append(data, m.FHDR.FOpts...)

	if m.FPort != nil {
		data = append(data, *m.FPort)
		data = append(data, m.FRMPayload...)
	}
	return data, nil
}

// UnmarshalBinary decodes the payload from binary form.
func (m *MACPayload) UnmarshalBinary(uplink bool, data []byte) error {
	if len(data) < 7 {
		return fmt.Errorf("%w: MACPayload of %d bytes", ErrTruncatedFrame, len(data))
	}

	copy(m.FHDR.DevAddr[:], data[0:4])

	fctrl := data[4]
	m.FHDR.FCtrl.ADR = fctrl&0x80 != 0
	if uplink {
		m.FHDR.FCtrl.ADRACKReq = fctrl&0x40 != 0
		m.FHDR.FCtrl.ACK = fctrl&0x20 != 0
		m.FHDR.FCtrl.ClassB = fctrl&0x10 != 0
	} else {
		m.FHDR.FCtrl.ACK = fctrl&0x20 != 0
		m.FHDR.FCtrl.FPending = fctrl&0x10 != 0
	}
	foptsLen := int(fctrl & 0x0f)

	m.FHDR.FCnt = uint16(data[5]) | uint16(data[6])<<8

	pos := 7
	if foptsLen > 0 {
		if pos+foptsLen > len(data) {
			return fmt.Errorf("%w: FOpts", ErrTruncatedFrame)
		}
		m.FHDR.FOpts = data[pos : pos+foptsLen]
		pos += foptsLen
	} else {
		m.FHDR.FOpts = nil
	}

	m.FPort = nil
	m.FRMPayload = nil
	if pos < len(data) {
		fport := data[pos]
		m.FPort = &fport
		pos++
		if pos < len(data) {
			m.FRMPayload = data[pos:]
		}
	}
	return nil
}

// FullFCnt reconstructs the 32-bit counter from the 16 bits carried on the
// wire and the last counter accepted for the same direction, accounting for
// rollover of the low half.
func FullFCnt(lastAccepted uint32, wire uint16) uint32 {
	upper := lastAccepted & 0xffff0000
	if uint16(lastAccepted) > wire && uint16(lastAccepted)-wire > 0x8000 {
		upper += 0x10000
	}
	return upper | uint32(wire)
}
