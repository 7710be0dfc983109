package region

// AS923 and its sub-variants. The four variants share one data-rate table
// and differ only by a join-channel offset, RX2 default and band predicate,
// so they are built from one parameterized constructor.

var as923Datarates = [NumDatarates]*Datarate{
	0: {SpreadingFactor: 12, Bandwidth: Bandwidth125, MaxPayloadSize: 59, MaxPayloadSizeDwell: 0},
	1: {SpreadingFactor: 11, Bandwidth: Bandwidth125, MaxPayloadSize: 59, MaxPayloadSizeDwell: 0},
	2: {SpreadingFactor: 10, Bandwidth: Bandwidth125, MaxPayloadSize: 123, MaxPayloadSizeDwell: 19},
	3: {SpreadingFactor: 9, Bandwidth: Bandwidth125, MaxPayloadSize: 123, MaxPayloadSizeDwell: 61},
	4: {SpreadingFactor: 8, Bandwidth: Bandwidth125, MaxPayloadSize: 250, MaxPayloadSizeDwell: 133},
	5: {SpreadingFactor: 7, Bandwidth: Bandwidth125, MaxPayloadSize: 250, MaxPayloadSizeDwell: 250},
	6: {SpreadingFactor: 7, Bandwidth: Bandwidth250, MaxPayloadSize: 250, MaxPayloadSizeDwell: 250},
}

const as923JoinBase = 923_200_000

func newAS923(name string, offset uint32, defaultRX2 uint32, freqValid func(uint32) bool) *Plan {
	return newPlan(parameters{
		name:         name,
		datarates:    as923Datarates,
		maxEIRP:      16,
		joinChannels: []uint32{as923JoinBase - offset, as923JoinBase - offset + 200_000},
		defaultRX2:   defaultRX2,
		numChannels:  16,
		freqValid:    freqValid,
		// DR2 keeps the join request inside the 400 ms dwell limit
		defaultJoinDR: 2,
	})
}

func as923GenericBand(f uint32) bool {
	return f >= 915_000_000 && f <= 928_000_000
}

// NewAS923_1 builds the AS923 group 1 plan (no frequency offset).
func NewAS923_1() *Plan {
	return newAS923("AS923-1", 0, 923_200_000, as923GenericBand)
}

// NewAS923_2 builds the AS923 group 2 plan, the group 1 frequencies shifted
// down by 1.8 MHz.
func NewAS923_2() *Plan {
	return newAS923("AS923-2", 1_800_000, 921_400_000, as923GenericBand)
}

// NewAS923_3 builds the AS923 group 3 plan, shifted down by 6.6 MHz.
func NewAS923_3() *Plan {
	return newAS923("AS923-3", 6_600_000, 916_600_000, as923GenericBand)
}

// NewAS923_4 builds the AS923 group 4 plan (917-920 MHz band).
func NewAS923_4() *Plan {
	return newAS923("AS923-4", 5_900_000, 917_300_000, func(f uint32) bool {
		return f >= 917_000_000 && f <= 920_000_000
	})
}
