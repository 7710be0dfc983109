// Package region provides per-region channel plans for dynamic-channel
// LoRaWAN regions: data-rate tables, join channels, receive-window defaults
// and the channel state mutated by MAC commands.
package region

import (
	"errors"
	"fmt"

	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

var (
	// ErrUnsupportedDataRate is returned for reserved or unimplemented
	// data-rate indices. Callers must not fall back to a default entry.
	ErrUnsupportedDataRate = errors.New("region: unsupported data-rate index")

	// ErrInvalidTXPower is returned for power indices outside the region's
	// defined range.
	ErrInvalidTXPower = errors.New("region: invalid tx-power index")

	// ErrFrequencyOutOfRange is returned when a frequency fails the region's
	// band predicate.
	ErrFrequencyOutOfRange = errors.New("region: frequency out of range")

	// ErrInvalidChannelIndex is returned for channel indices outside the
	// plan's table.
	ErrInvalidChannelIndex = errors.New("region: invalid channel index")

	// ErrNoEnabledChannel is returned when the channel mask leaves nothing
	// to transmit on.
	ErrNoEnabledChannel = errors.New("region: no enabled uplink channel")
)

// NumDatarates is the size of the per-region data-rate table. Indices 0-15
// exist in every region but most are reserved.
const NumDatarates = 16

// Bandwidth in kHz.
type Bandwidth uint32

const (
	Bandwidth125 Bandwidth = 125
	Bandwidth250 Bandwidth = 250
	Bandwidth500 Bandwidth = 500
)

// Datarate describes one entry of a region's data-rate table.
type Datarate struct {
	SpreadingFactor     uint8
	Bandwidth           Bandwidth
	MaxPayloadSize      uint8
	MaxPayloadSizeDwell uint8
}

// Channel is one uplink channel of the plan. DownlinkFrequency is zero until
// a DlChannelReq moves RX1 for the channel elsewhere.
type Channel struct {
	Frequency         uint32
	DownlinkFrequency uint32
	MinDR             uint8
	MaxDR             uint8
}

// parameters holds the constants distinguishing one region (or sub-variant)
// from another. Sub-variants sharing a table shape differ only here.
type parameters struct {
	name          string
	datarates     [NumDatarates]*Datarate
	maxEIRP       uint8
	joinChannels  []uint32
	defaultRX2    uint32
	numChannels   int
	freqValid     func(uint32) bool
	defaultJoinDR uint8
}

// Plan is a dynamic channel plan: it starts with the region's join channels
// and learns additional channels from NewChannelReq commands and the
// join-accept CFList, bounded by the region's frequency predicate.
type Plan struct {
	params   parameters
	channels []Channel
	mask     lorawan.ChannelMask

	rx1DROffset uint8
	rx2Freq     uint32
	rx2DataRate uint8
}

func newPlan(p parameters) *Plan {
	plan := &Plan{
		params:      p,
		channels:    make([]Channel, p.numChannels),
		mask:        lorawan.NewChannelMask(p.numChannels),
		rx2Freq:     p.defaultRX2,
		rx2DataRate: 0,
	}
	for i, f := range p.joinChannels {
		plan.channels[i] = Channel{Frequency: f, MinDR: 0, MaxDR: 5}
	}
	return plan
}

// Name returns the region identifier, e.g. "EU868" or "AS923-2".
func (p *Plan) Name() string {
	return p.params.name
}

// Datarate looks up one entry of the data-rate table. Reserved indices are an
// error, never a default.
func (p *Plan) Datarate(index uint8) (Datarate, error) {
	if index >= NumDatarates || p.params.datarates[index] == nil {
		return Datarate{}, fmt.Errorf("%w: %d for %s", ErrUnsupportedDataRate, index, p.params.name)
	}
	return *p.params.datarates[index], nil
}

// TXPowerAdjust maps a LinkADRReq power index to an EIRP value in dBm.
func (p *Plan) TXPowerAdjust(index uint8) (uint8, error) {
	if index > 7 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTXPower, index)
	}
	return p.params.maxEIRP - 2*index, nil
}

// JoinChannels returns the fixed frequency set used during join.
func (p *Plan) JoinChannels() []uint32 {
	out := make([]uint32, len(p.params.joinChannels))
	copy(out, p.params.joinChannels)
	return out
}

// JoinDataRate returns the data rate used for join requests.
func (p *Plan) JoinDataRate() uint8 {
	return p.params.defaultJoinDR
}

// ValidFrequency reports whether f lies inside the region's band.
func (p *Plan) ValidFrequency(f uint32) bool {
	return p.params.freqValid(f)
}

// RX2 returns the current second-receive-window frequency and data rate,
// reflecting any accepted RXParamSetupReq.
func (p *Plan) RX2() (uint32, uint8) {
	return p.rx2Freq, p.rx2DataRate
}

// SetRX2 records an accepted RXParamSetupReq. The frequency must already
// have passed the band predicate.
func (p *Plan) SetRX2(freq uint32, dataRate uint8) error {
	if !p.params.freqValid(freq) {
		return fmt.Errorf("%w: %d Hz", ErrFrequencyOutOfRange, freq)
	}
	if _, err := p.Datarate(dataRate); err != nil {
		return err
	}
	p.rx2Freq = freq
	p.rx2DataRate = dataRate
	return nil
}

// RX1DROffset returns the current downlink data-rate offset for RX1.
func (p *Plan) RX1DROffset() uint8 {
	return p.rx1DROffset
}

// SetRX1DROffset records an accepted RX1 offset.
func (p *Plan) SetRX1DROffset(offset uint8) error {
	if offset > 7 {
		return fmt.Errorf("%w: RX1 offset %d", ErrUnsupportedDataRate, offset)
	}
	p.rx1DROffset = offset
	return nil
}

// RX1DataRate computes the RX1 downlink data rate for a given uplink data
// rate under the current offset.
func (p *Plan) RX1DataRate(uplinkDR uint8) uint8 {
	if p.rx1DROffset >= uplinkDR {
		return 0
	}
	return uplinkDR - p.rx1DROffset
}

// AddChannel registers a learned channel from a NewChannelReq. A frequency
// of zero disables the channel. Join channels cannot be redefined.
func (p *Plan) AddChannel(index uint8, freq uint32, minDR, maxDR uint8) error {
	if int(index) >= len(p.channels) {
		return fmt.Errorf("%w: %d", ErrInvalidChannelIndex, index)
	}
	if int(index) < len(p.params.joinChannels) {
		return fmt.Errorf("%w: %d is a default channel", ErrInvalidChannelIndex, index)
	}
	if freq == 0 {
		p.channels[index] = Channel{}
		return p.mask.SetChannel(int(index), false)
	}
	if !p.params.freqValid(freq) {
		return fmt.Errorf("%w: %d Hz", ErrFrequencyOutOfRange, freq)
	}
	if _, err := p.Datarate(minDR); err != nil {
		return err
	}
	if _, err := p.Datarate(maxDR); err != nil {
		return err
	}
	if minDR > maxDR {
		return fmt.Errorf("%w: min above max", ErrUnsupportedDataRate)
	}
	p.channels[index] = Channel{Frequency: freq, MinDR: minDR, MaxDR: maxDR}
	return p.mask.SetChannel(int(index), true)
}

// SetDownlinkFrequency records an accepted DlChannelReq for an existing
// uplink channel.
func (p *Plan) SetDownlinkFrequency(index uint8, freq uint32) error {
	if int(index) >= len(p.channels) || p.channels[index].Frequency == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChannelIndex, index)
	}
	if !p.params.freqValid(freq) {
		return fmt.Errorf("%w: %d Hz", ErrFrequencyOutOfRange, freq)
	}
	p.channels[index].DownlinkFrequency = freq
	return nil
}

// ApplyCFList registers the extra channels a join-accept carries, starting
// after the region's join channels. Frequencies outside the band are skipped.
func (p *Plan) ApplyCFList(cf lorawan.CFList) {
	next := len(p.params.joinChannels)
	for _, f := range cf {
		if next >= len(p.channels) {
			return
		}
		if f == 0 || !p.params.freqValid(f) {
			continue
		}
		p.channels[next] = Channel{Frequency: f, MinDR: 0, MaxDR: 5}
		next++
	}
}

// ApplyChannelMask overwrites one 16-channel bank of the mask from a
// LinkADRReq. ChMaskCntl 6 re-enables every defined channel.
func (p *Plan) ApplyChannelMask(chMaskCntl uint8, chMask [2]byte) error {
	if chMaskCntl == 6 {
		p.mask.SetAll(false)
		for i, ch := range p.channels {
			if ch.Frequency != 0 {
				if err := p.mask.SetChannel(i, true); err != nil {
					return err
				}
			}
		}
		return nil
	}
	// apply to a copy first so a rejected mask leaves the plan untouched
	next := p.mask.Clone()
	if err := next.SetBank(int(chMaskCntl), chMask); err != nil {
		return err
	}
	prev := p.mask
	p.mask = next
	if len(p.enabledChannels()) == 0 {
		p.mask = prev
		return ErrNoEnabledChannel
	}
	return nil
}

// Mask returns a copy of the current channel mask.
func (p *Plan) Mask() lorawan.ChannelMask {
	return p.mask.Clone()
}

// Channel returns the channel at index.
func (p *Plan) Channel(index uint8) (Channel, error) {
	if int(index) >= len(p.channels) {
		return Channel{}, fmt.Errorf("%w: %d", ErrInvalidChannelIndex, index)
	}
	return p.channels[index], nil
}

// UplinkChannel picks an enabled channel that supports the data rate. The
// caller supplies the randomness source so tests stay deterministic.
func (p *Plan) UplinkChannel(dataRate uint8, pick func(n int) int) (uint8, Channel, error) {
	var candidates []int
	for _, i := range p.enabledChannels() {
		ch := p.channels[i]
		if dataRate >= ch.MinDR && dataRate <= ch.MaxDR {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0, Channel{}, ErrNoEnabledChannel
	}
	i := candidates[pick(len(candidates))]
	return uint8(i), p.channels[i], nil
}

func (p *Plan) enabledChannels() []int {
	var out []int
	for i, ch := range p.channels {
		if ch.Frequency == 0 {
			continue
		}
		enabled, err := p.mask.IsEnabled(i)
		if err == nil && enabled {
			out = append(out, i)
		}
	}
	return out
}

// Snapshot captures the mutable channel state for persistence.
type Snapshot struct {
	Channels    []Channel `json:"channels"`
	Mask        []bool    `json:"mask"`
	RX1DROffset uint8     `json:"rx1_dr_offset"`
	RX2Freq     uint32    `json:"rx2_freq"`
	RX2DataRate uint8     `json:"rx2_data_rate"`
}

// Snapshot returns the state a restore needs to rebuild the plan.
func (p *Plan) Snapshot() Snapshot {
	s := Snapshot{
		Channels:    make([]Channel, len(p.channels)),
		Mask:        make([]bool, len(p.channels)),
		RX1DROffset: p.rx1DROffset,
		RX2Freq:     p.rx2Freq,
		RX2DataRate: p.rx2DataRate,
	}
	copy(s.Channels, p.channels)
	for i := range p.channels {
		enabled, err := p.mask.IsEnabled(i)
		s.Mask[i] = err == nil && enabled
	}
	return s
}

// Restore replays a snapshot onto a freshly constructed plan of the same
// region.
func (p *Plan) Restore(s Snapshot) error {
	if len(s.Channels) != len(p.channels) || len(s.Mask) != len(p.channels) {
		return fmt.Errorf("%w: snapshot size mismatch", ErrInvalidChannelIndex)
	}
	copy(p.channels, s.Channels)
	for i, enabled := range s.Mask {
		if err := p.mask.SetChannel(i, enabled); err != nil {
			return err
		}
	}
	p.rx1DROffset = s.RX1DROffset
	p.rx2Freq = s.RX2Freq
	p.rx2DataRate = s.RX2DataRate
	return nil
}
