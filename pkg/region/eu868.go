package region

// EU863-870. DR0-5 is the minimum set certification requires; the FSK and
// LR-FHSS rates are not implemented.

var eu868Datarates = [NumDatarates]*Datarate{
	0: {SpreadingFactor: 12, Bandwidth: Bandwidth125, MaxPayloadSize: 59, MaxPayloadSizeDwell: 59},
	1: {SpreadingFactor: 11, Bandwidth: Bandwidth125, MaxPayloadSize: 59, MaxPayloadSizeDwell: 59},
	2: {SpreadingFactor: 10, Bandwidth: Bandwidth125, MaxPayloadSize: 59, MaxPayloadSizeDwell: 59},
	3: {SpreadingFactor: 9, Bandwidth: Bandwidth125, MaxPayloadSize: 123, MaxPayloadSizeDwell: 123},
	4: {SpreadingFactor: 8, Bandwidth: Bandwidth125, MaxPayloadSize: 250, MaxPayloadSizeDwell: 250},
	5: {SpreadingFactor: 7, Bandwidth: Bandwidth125, MaxPayloadSize: 250, MaxPayloadSizeDwell: 250},
}

// NewEU868 builds the EU868 channel plan: join channels 868.1, 868.3 and
// 868.5 MHz, RX2 at 869.525 MHz DR0, band 863-870 MHz.
func NewEU868() *Plan {
	return newPlan(parameters{
		name:         "EU868",
		datarates:    eu868Datarates,
		maxEIRP:      16,
		joinChannels: []uint32{868_100_000, 868_300_000, 868_500_000},
		defaultRX2:   869_525_000,
		numChannels:  16,
		freqValid: func(f uint32) bool {
			return f >= 863_000_000 && f <= 870_000_000
		},
		defaultJoinDR: 0,
	})
}
