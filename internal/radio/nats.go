package radio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// airFrame is the envelope exchanged over NATS. The simulated network peer
// publishes downlinks with the frequency it transmitted on so the radio can
// model window tuning.
type airFrame struct {
	Frequency       uint32  `json:"frequency"`
	SpreadingFactor uint8   `json:"spreading_factor"`
	Bandwidth       uint32  `json:"bandwidth"`
	EIRP            uint8   `json:"eirp,omitempty"`
	Payload         string  `json:"payload"`
	RSSI            int16   `json:"rssi,omitempty"`
	SNR             float64 `json:"snr,omitempty"`
}

// NATSRadio implements Radio over a NATS subject pair, standing in for a
// transceiver when the device runs against a simulated network. Uplinks go
// to radio.<devEUI>.up, downlinks arrive on radio.<devEUI>.down.
type NATSRadio struct {
	nc  *nats.Conn
	sub *nats.Subscription
	rx  chan airFrame
	cfg Config
	up  string
	log zerolog.Logger
}

// NewNATSRadio connects the simulated radio for one device.
func NewNATSRadio(nc *nats.Conn, devEUI string, logger zerolog.Logger) (*NATSRadio, error) {
	r := &NATSRadio{
		nc:  nc,
		rx:  make(chan airFrame, 16),
		up:  fmt.Sprintf("radio.%s.up", devEUI),
		log: logger.With().Str("dev_eui", devEUI).Logger(),
	}

	sub, err := nc.Subscribe(fmt.Sprintf("radio.%s.down", devEUI), r.handleDownlink)
	if err != nil {
		return nil, fmt.Errorf("subscribe downlink: %w", err)
	}
	r.sub = sub
	return r, nil
}

func (r *NATSRadio) handleDownlink(msg *nats.Msg) {
	var frame airFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		r.log.Warn().Err(err).Msg("malformed downlink envelope")
		return
	}
	select {
	case r.rx <- frame:
	default:
		r.log.Warn().Msg("downlink dropped, receive queue full")
	}
}

// Configure applies the tuning for the next operation.
func (r *NATSRadio) Configure(cfg Config) error {
	r.cfg = cfg
	return nil
}

// Transmit publishes the frame on the uplink subject.
func (r *NATSRadio) Transmit(ctx context.Context, frame []byte) error {
	env := airFrame{
		Frequency:       r.cfg.Frequency,
		SpreadingFactor: r.cfg.SpreadingFactor,
		Bandwidth:       r.cfg.Bandwidth,
		EIRP:            r.cfg.EIRP,
		Payload:         base64.StdEncoding.EncodeToString(frame),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := r.nc.Publish(r.up, data); err != nil {
		return fmt.Errorf("publish uplink: %w", err)
	}
	r.log.Debug().Uint32("frequency", r.cfg.Frequency).Int("size", len(frame)).Msg("frame transmitted")
	return nil
}

// Receive waits for a downlink on the configured frequency. Frames on other
// frequencies are outside the window and discarded.
func (r *NATSRadio) Receive(ctx context.Context, timeout time.Duration) ([]byte, Metrics, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, Metrics{}, ctx.Err()
		case <-timer.C:
			return nil, Metrics{}, ErrRxTimeout
		case frame := <-r.rx:
			if frame.Frequency != r.cfg.Frequency {
				r.log.Debug().
					Uint32("got", frame.Frequency).
					Uint32("want", r.cfg.Frequency).
					Msg("frame outside receive window")
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(frame.Payload)
			if err != nil {
				r.log.Warn().Err(err).Msg("malformed downlink payload")
				continue
			}
			return payload, Metrics{RSSI: frame.RSSI, SNR: frame.SNR}, nil
		}
	}
}

// Sleep is a no-op for the simulated transceiver.
func (r *NATSRadio) Sleep() error {
	return nil
}

// Close drops the downlink subscription.
func (r *NATSRadio) Close() error {
	if r.sub != nil {
		return r.sub.Unsubscribe()
	}
	return nil
}
