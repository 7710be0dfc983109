package lorawan

import "fmt"

// ChannelMask tracks which uplink channels a session may use. It is backed by
// a byte vector, one bit per channel, sized for the channel plan it belongs
// to. A fresh mask has every channel enabled.
type ChannelMask struct {
	bits []byte
}

// NewChannelMask returns a mask covering numChannels channels, all enabled.
// numChannels is rounded up to the next multiple of 8.
func NewChannelMask(numChannels int) ChannelMask {
	n := (numChannels + 7) / 8
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = 0xff
	}
	return ChannelMask{bits: bits}
}

// NumChannels returns the number of channels the mask covers.
func (m ChannelMask) NumChannels() int {
	return len(m.bits) * 8
}

// IsEnabled reports whether channel is enabled. Indexes past the mask size
// are an error.
func (m ChannelMask) IsEnabled(channel int) (bool, error) {
	if channel < 0 || channel >= m.NumChannels() {
		return false, fmt.Errorf("%w: channel %d out of range 0-%d", ErrInvalidIndex, channel, m.NumChannels()-1)
	}
	return m.bits[channel/8]&(1<<(channel%8)) != 0, nil
}

// SetChannel enables or disables a single channel.
func (m *ChannelMask) SetChannel(channel int, enabled bool) error {
	if channel < 0 || channel >= m.NumChannels() {
		return fmt.Errorf("%w: channel %d out of range 0-%d", ErrInvalidIndex, channel, m.NumChannels()-1)
	}
	if enabled {
		m.bits[channel/8] |= 1 << (channel % 8)
	} else {
		m.bits[channel/8] &^= 1 << (channel % 8)
	}
	return nil
}

// SetBank overwrites one 16-channel bank from the two-byte mask field of a
// LinkADRReq. bank 0 covers channels 0-15.
func (m *ChannelMask) SetBank(bank int, chMask [2]byte) error {
	if bank < 0 || bank*2+1 >= len(m.bits) {
		return fmt.Errorf("%w: bank %d out of range", ErrInvalidIndex, bank)
	}
	m.bits[bank*2] = chMask[0]
	m.bits[bank*2+1] = chMask[1]
	return nil
}

// Bank returns one 16-channel bank as the two-byte wire field.
func (m ChannelMask) Bank(bank int) ([2]byte, error) {
	var b [2]byte
	if bank < 0 || bank*2+1 >= len(m.bits) {
		return b, fmt.Errorf("%w: bank %d out of range", ErrInvalidIndex, bank)
	}
	b[0] = m.bits[bank*2]
	b[1] = m.bits[bank*2+1]
	return b, nil
}

// SetAll enables or disables every channel in the mask.
func (m *ChannelMask) SetAll(enabled bool) {
	v := byte(0)
	if enabled {
		v = 0xff
	}
	for i := range m.bits {
		m.bits[i] = v
	}
}

// Clone returns an independent copy of the mask.
func (m ChannelMask) Clone() ChannelMask {
	bits := make([]byte, len(m.bits))
	copy(bits, m.bits)
	return ChannelMask{bits: bits}
}
