// Package radio defines the transceiver capability the MAC layer drives and
// a NATS-backed implementation that stands in for real hardware.
package radio

import (
	"context"
	"errors"
	"time"
)

// ErrRxTimeout means a receive window closed without a frame.
var ErrRxTimeout = errors.New("radio: receive timeout")

// Config is the per-operation tuning applied before a transmit or receive.
type Config struct {
	Frequency       uint32 `json:"frequency"`
	SpreadingFactor uint8  `json:"spreading_factor"`
	Bandwidth       uint32 `json:"bandwidth"`
	EIRP            uint8  `json:"eirp"`
}

// Metrics reports signal quality of a received frame.
type Metrics struct {
	RSSI int16   `json:"rssi"`
	SNR  float64 `json:"snr"`
}

// Radio is the capability the MAC engine needs from a transceiver. The
// engine never issues a second operation before the first completes or is
// cancelled; implementations may assume exclusive access per device.
type Radio interface {
	// Configure applies frequency and modulation before the next operation.
	Configure(cfg Config) error

	// Transmit sends one raw frame and returns when it is on the air.
	Transmit(ctx context.Context, frame []byte) error

	// Receive listens until a frame arrives or the timeout elapses, in
	// which case it returns ErrRxTimeout.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, Metrics, error)

	// Sleep powers the transceiver down between operations.
	Sleep() error
}
