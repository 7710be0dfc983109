package lorawan

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EUI64 represents an 8-byte Extended Unique Identifier.
type EUI64 [8]byte

// String returns the hex string representation.
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalJSON implements json.Marshaler.
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *EUI64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}

	if len(b) != 8 {
		return fmt.Errorf("invalid EUI64 length")
	}

	copy(e[:], b)
	return nil
}

// EUI64FromString parses a hex string (spaces allowed) into an EUI64.
func EUI64FromString(s string) (EUI64, error) {
	var e EUI64
	b, err := hex.DecodeString(stripSpaces(s))
	if err != nil {
		return e, err
	}
	if len(b) != 8 {
		return e, fmt.Errorf("invalid EUI64 length: %d", len(b))
	}
	copy(e[:], b)
	return e, nil
}

// DevAddr represents a 4-byte device address. It is assigned by the network
// on join and is immutable for the lifetime of the session.
type DevAddr [4]byte

// String returns the hex string representation.
func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

// AES128Key represents a 128-bit AES key.
type AES128Key [16]byte

// String returns the hex string representation.
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// AES128KeyFromString parses a hex string (spaces allowed) into a key.
func AES128KeyFromString(s string) (AES128Key, error) {
	var k AES128Key
	b, err := hex.DecodeString(stripSpaces(s))
	if err != nil {
		return k, err
	}
	if len(b) != 16 {
		return k, fmt.Errorf("invalid AES128Key length: %d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

func stripSpaces(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// DevNonce is the value distinguishing join attempts. It must increase
// monotonically across joins with the same root key; reusing a value makes a
// previously captured join-accept replayable.
type DevNonce uint16

// MarshalBinary returns the little-endian wire form.
func (n DevNonce) MarshalBinary() ([]byte, error) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(n))
	return b, nil
}

// MType represents the message type.
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RFU
	Proprietary
)

// Major represents the LoRaWAN major version.
type Major byte

// LoRaWANR1 is the only major version defined so far.
const LoRaWANR1 Major = 0

// MHDR represents the MAC header.
type MHDR struct {
	MType MType
	Major Major
}

func (h MHDR) byteValue() byte {
	return byte(h.MType)<<5 | byte(h.Major)
}

// FCtrl represents the frame control byte. The ADRACKReq and ClassB bits are
// uplink-only, FPending is downlink-only.
type FCtrl struct {
	ADR       bool
	ADRACKReq bool
	ACK       bool
	ClassB    bool
	FPending  bool
}

// FHDR represents the frame header.
type FHDR struct {
	DevAddr DevAddr
	FCtrl   FCtrl
	FCnt    uint16
	FOpts   []byte
}

// DLSettings represents the downlink settings octet of a join-accept or
// RXParamSetupReq.
type DLSettings struct {
	RX1DROffset uint8
	RX2DataRate uint8
}

// MarshalBinary marshals the object in binary form.
func (s DLSettings) MarshalBinary() ([]byte, error) {
	if s.RX2DataRate > 15 {
		return nil, fmt.Errorf("%w: max value of RX2DataRate is 15", ErrInvalidValue)
	}
	if s.RX1DROffset > 7 {
		return nil, fmt.Errorf("%w: max value of RX1DROffset is 7", ErrInvalidValue)
	}
	return []byte{s.RX2DataRate | s.RX1DROffset<<4}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (s *DLSettings) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return ErrInvalidLength
	}
	s.RX2DataRate = data[0] & 0x0f
	s.RX1DROffset = (data[0] >> 4) & 0x07
	return nil
}

// JoinRequestPayload represents the join-request MAC payload.
type JoinRequestPayload struct {
	JoinEUI  EUI64
	DevEUI   EUI64
	DevNonce DevNonce
}

// MarshalBinary marshals the object in binary form. EUIs and the DevNonce go
// on the wire little-endian.
func (j JoinRequestPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 18)
	for i := 0; i < 8; i++ {
		data[i] = j.JoinEUI[7-i]
		data[8+i] = j.DevEUI[7-i]
	}
	binary.LittleEndian.PutUint16(data[16:18], uint16(j.DevNonce))
	return data, nil
}

// UnmarshalBinary decodes the object from binary form.
func (j *JoinRequestPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 18 {
		return fmt.Errorf("%w: expected 18 bytes, got %d", ErrInvalidLength, len(data))
	}
	for i := 0; i < 8; i++ {
		j.JoinEUI[7-i] = data[i]
		j.DevEUI[7-i] = data[8+i]
	}
	j.DevNonce = DevNonce(binary.LittleEndian.Uint16(data[16:18]))
	return nil
}

// JoinAcceptPayload represents the decrypted join-accept MAC payload.
type JoinAcceptPayload struct {
	JoinNonce  [3]byte
	NetID      [3]byte
	DevAddr    DevAddr
	DLSettings DLSettings
	RxDelay    uint8
	CFList     *CFList
}

// MarshalBinary marshals the object in binary form.
func (j JoinAcceptPayload) MarshalBinary() ([]byte, error) {
	dl, err := j.DLSettings.MarshalBinary()
	if err != nil {
		return nil, err
	}

	data := make([]byte, 12, 28)
	copy(data[0:3], j.JoinNonce[:])
	copy(data[3:6], j.NetID[:])
	copy(data[6:10], j.DevAddr[:])
	data[10] = dl[0]
	data[11] = j.RxDelay

	if j.CFList != nil {
		cf, err := j.CFList.MarshalBinary()
		if err != nil {
			return nil, err
		}
		data = append(data, cf...)
	}
	return data, nil
}

// UnmarshalBinary decodes the object from binary form.
func (j *JoinAcceptPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 12 && len(data) != 28 {
		return fmt.Errorf("%w: expected 12 or 28 bytes, got %d", ErrInvalidLength, len(data))
	}
	copy(j.JoinNonce[:], data[0:3])
	copy(j.NetID[:], data[3:6])
	copy(j.DevAddr[:], data[6:10])
	if err := j.DLSettings.UnmarshalBinary(data[10:11]); err != nil {
		return err
	}
	j.RxDelay = data[11]

	if len(data) == 28 {
		j.CFList = &CFList{}
		if err := j.CFList.UnmarshalBinary(data[12:]); err != nil {
			return err
		}
	}
	return nil
}

// CFList holds the five optional extra channel frequencies of a join-accept,
// in Hz. A zero entry means unused.
type CFList [5]uint32

// MarshalBinary marshals the object in binary form. Each frequency is stored
// as a 24-bit little-endian value in units of 100 Hz.
func (l CFList) MarshalBinary() ([]byte, error) {
	data := make([]byte, 16)
	for i, freq := range l {
		if freq%100 != 0 {
			return nil, fmt.Errorf("%w: frequency must be a multiple of 100 Hz", ErrInvalidValue)
		}
		f := freq / 100
		if f >= 1<<24 {
			return nil, fmt.Errorf("%w: max value of frequency is 2^24-1", ErrInvalidValue)
		}
		data[i*3] = byte(f)
		data[i*3+1] = byte(f >> 8)
		data[i*3+2] = byte(f >> 16)
	}
	// last byte is the CFListType (0 for a list of frequencies)
	return data, nil
}

// UnmarshalBinary decodes the object from binary form.
func (l *CFList) UnmarshalBinary(data []byte) error {
	if len(data) != 16 {
		return fmt.Errorf("%w: expected 16 bytes, got %d", ErrInvalidLength, len(data))
	}
	if data[15] != 0 {
		// only CFListType 0 (frequencies) is defined for dynamic regions
		return fmt.Errorf("%w: unsupported CFList type %d", ErrInvalidValue, data[15])
	}
	for i := range l {
		l[i] = 100 * (uint32(data[i*3]) | uint32(data[i*3+1])<<8 | uint32(data[i*3+2])<<16)
	}
	return nil
}
