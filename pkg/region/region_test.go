package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

func TestEU868Defaults(t *testing.T) {
	p := NewEU868()
	assert.Equal(t, "EU868", p.Name())
	assert.Equal(t, []uint32{868100000, 868300000, 868500000}, p.JoinChannels())

	freq, dr := p.RX2()
	assert.Equal(t, uint32(869525000), freq)
	assert.Equal(t, uint8(0), dr)

	assert.True(t, p.ValidFrequency(867100000))
	assert.False(t, p.ValidFrequency(862900000))
	assert.False(t, p.ValidFrequency(870000100))
}

func TestEU868Datarates(t *testing.T) {
	p := NewEU868()

	dr0, err := p.Datarate(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(12), dr0.SpreadingFactor)
	assert.Equal(t, Bandwidth125, dr0.Bandwidth)
	assert.Equal(t, uint8(59), dr0.MaxPayloadSize)

	dr5, err := p.Datarate(5)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), dr5.SpreadingFactor)
	assert.Equal(t, uint8(250), dr5.MaxPayloadSize)

	for _, idx := range []uint8{6, 7, 11, 15, 16, 200} {
		_, err := p.Datarate(idx)
		assert.ErrorIs(t, err, ErrUnsupportedDataRate, "index %d", idx)
	}
}

func TestTXPowerAdjust(t *testing.T) {
	p := NewEU868()
	for idx := uint8(0); idx <= 7; idx++ {
		eirp, err := p.TXPowerAdjust(idx)
		require.NoError(t, err)
		assert.Equal(t, uint8(16-2*idx), eirp)
	}
	_, err := p.TXPowerAdjust(8)
	assert.ErrorIs(t, err, ErrInvalidTXPower)
}

func TestAS923Variants(t *testing.T) {
	tests := []struct {
		plan     *Plan
		name     string
		joinCh0  uint32
		rx2      uint32
		inBand   uint32
		outOfBand uint32
	}{
		{NewAS923_1(), "AS923-1", 923200000, 923200000, 923400000, 914900000},
		{NewAS923_2(), "AS923-2", 921400000, 921400000, 921600000, 928100000},
		{NewAS923_3(), "AS923-3", 916600000, 916600000, 916800000, 914000000},
		{NewAS923_4(), "AS923-4", 917300000, 917300000, 917500000, 920100000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.name, tc.plan.Name())
			assert.Equal(t, tc.joinCh0, tc.plan.JoinChannels()[0])
			assert.Equal(t, tc.joinCh0+200000, tc.plan.JoinChannels()[1])

			freq, _ := tc.plan.RX2()
			assert.Equal(t, tc.rx2, freq)

			assert.True(t, tc.plan.ValidFrequency(tc.inBand))
			assert.False(t, tc.plan.ValidFrequency(tc.outOfBand))
		})
	}
}

func TestAS923DwellTimePayloadSizes(t *testing.T) {
	p := NewAS923_1()

	dr2, err := p.Datarate(2)
	require.NoError(t, err)
	assert.Equal(t, uint8(123), dr2.MaxPayloadSize)
	assert.Equal(t, uint8(19), dr2.MaxPayloadSizeDwell)

	dr6, err := p.Datarate(6)
	require.NoError(t, err)
	assert.Equal(t, Bandwidth250, dr6.Bandwidth)

	assert.Equal(t, uint8(2), p.JoinDataRate())
}

func TestAddChannel(t *testing.T) {
	p := NewEU868()

	require.NoError(t, p.AddChannel(3, 867100000, 0, 5))
	ch, err := p.Channel(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(867100000), ch.Frequency)

	// out of band
	err = p.AddChannel(4, 871000000, 0, 5)
	assert.ErrorIs(t, err, ErrFrequencyOutOfRange)

	// default channels cannot be redefined
	err = p.AddChannel(0, 867100000, 0, 5)
	assert.ErrorIs(t, err, ErrInvalidChannelIndex)

	// unsupported data-rate bounds
	err = p.AddChannel(5, 867300000, 0, 7)
	assert.ErrorIs(t, err, ErrUnsupportedDataRate)

	err = p.AddChannel(16, 867300000, 0, 5)
	assert.ErrorIs(t, err, ErrInvalidChannelIndex)

	// zero frequency disables the channel again
	require.NoError(t, p.AddChannel(3, 0, 0, 0))
	ch, err = p.Channel(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), ch.Frequency)
}

func TestSetDownlinkFrequency(t *testing.T) {
	p := NewEU868()

	require.NoError(t, p.SetDownlinkFrequency(0, 867500000))
	ch, err := p.Channel(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(867500000), ch.DownlinkFrequency)

	// no uplink channel defined at the index
	err = p.SetDownlinkFrequency(9, 867500000)
	assert.ErrorIs(t, err, ErrInvalidChannelIndex)

	err = p.SetDownlinkFrequency(0, 871000000)
	assert.ErrorIs(t, err, ErrFrequencyOutOfRange)
}

func TestSetRX2(t *testing.T) {
	p := NewEU868()

	require.NoError(t, p.SetRX2(869525000, 3))
	freq, dr := p.RX2()
	assert.Equal(t, uint32(869525000), freq)
	assert.Equal(t, uint8(3), dr)

	assert.ErrorIs(t, p.SetRX2(871000000, 0), ErrFrequencyOutOfRange)
	assert.ErrorIs(t, p.SetRX2(869525000, 9), ErrUnsupportedDataRate)
}

func TestRX1DataRate(t *testing.T) {
	p := NewEU868()
	assert.Equal(t, uint8(5), p.RX1DataRate(5))

	require.NoError(t, p.SetRX1DROffset(2))
	assert.Equal(t, uint8(3), p.RX1DataRate(5))
	assert.Equal(t, uint8(0), p.RX1DataRate(1))

	assert.Error(t, p.SetRX1DROffset(8))
}

func TestApplyCFList(t *testing.T) {
	p := NewEU868()
	cf := lorawan.CFList{867100000, 867300000, 867500000, 867700000, 867900000}
	p.ApplyCFList(cf)

	for i, want := range []uint32{867100000, 867300000, 867500000, 867700000, 867900000} {
		ch, err := p.Channel(uint8(3 + i))
		require.NoError(t, err)
		assert.Equal(t, want, ch.Frequency)
	}
}

func TestApplyCFListSkipsOutOfBand(t *testing.T) {
	p := NewAS923_4()
	p.ApplyCFList(lorawan.CFList{917500000, 925000000, 0, 917700000, 0})

	ch, err := p.Channel(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(917500000), ch.Frequency)

	ch, err = p.Channel(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(917700000), ch.Frequency)

	ch, err = p.Channel(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), ch.Frequency)
}

func TestApplyChannelMask(t *testing.T) {
	p := NewEU868()
	p.ApplyCFList(lorawan.CFList{867100000, 867300000, 0, 0, 0})

	// keep only channels 1 and 3
	require.NoError(t, p.ApplyChannelMask(0, [2]byte{0x0a, 0x00}))

	_, ch, err := p.UplinkChannel(0, func(n int) int { return 0 })
	require.NoError(t, err)
	assert.Equal(t, uint32(868300000), ch.Frequency)

	// a mask disabling everything is refused
	err = p.ApplyChannelMask(0, [2]byte{0x00, 0x00})
	assert.ErrorIs(t, err, ErrNoEnabledChannel)

	// ChMaskCntl 6 re-enables all defined channels
	require.NoError(t, p.ApplyChannelMask(6, [2]byte{}))
	enabled, err := p.Mask().IsEnabled(0)
	require.NoError(t, err)
	assert.True(t, enabled)
	enabled, err = p.Mask().IsEnabled(7)
	require.NoError(t, err)
	assert.False(t, enabled, "undefined channels stay disabled")
}

func TestUplinkChannelSelection(t *testing.T) {
	p := NewEU868()

	idx, ch, err := p.UplinkChannel(5, func(n int) int { return n - 1 })
	require.NoError(t, err)
	assert.Equal(t, uint8(2), idx)
	assert.Equal(t, uint32(868500000), ch.Frequency)

	// no channel supports an out-of-bounds data rate
	_, _, err = p.UplinkChannel(6, func(n int) int { return 0 })
	assert.ErrorIs(t, err, ErrNoEnabledChannel)
}

func TestSnapshotRestore(t *testing.T) {
	p := NewEU868()
	require.NoError(t, p.AddChannel(3, 867100000, 0, 5))
	require.NoError(t, p.SetRX2(869100000, 2))
	require.NoError(t, p.SetRX1DROffset(1))
	require.NoError(t, p.ApplyChannelMask(0, [2]byte{0x0b, 0x00}))

	snap := p.Snapshot()

	restored := NewEU868()
	require.NoError(t, restored.Restore(snap))

	assert.Equal(t, p.Snapshot(), restored.Snapshot())
	freq, dr := restored.RX2()
	assert.Equal(t, uint32(869100000), freq)
	assert.Equal(t, uint8(2), dr)
	assert.Equal(t, uint8(1), restored.RX1DROffset())

	// a snapshot from a differently sized plan is rejected
	bad := snap
	bad.Channels = bad.Channels[:4]
	assert.Error(t, restored.Restore(bad))
}
