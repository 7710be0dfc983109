package mac

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lorawan-server/lorawan-device-pro/internal/radio"
	"github.com/lorawan-server/lorawan-device-pro/pkg/crypto"
	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
	"github.com/lorawan-server/lorawan-device-pro/pkg/region"
)

var (
	// ErrNotJoined means the operation needs an established session.
	ErrNotJoined = errors.New("mac: not joined")

	// ErrJoinFailed means every join attempt was exhausted.
	ErrJoinFailed = errors.New("mac: join failed")

	// ErrPayloadTooLarge means the payload exceeds the current data rate's
	// limit.
	ErrPayloadTooLarge = errors.New("mac: payload exceeds data-rate limit")
)

// DeviceState enumerates the engine states.
type DeviceState int

const (
	StateIdle DeviceState = iota
	StateJoining
	StateWaitingForTx
	StateWaitingRx1
	StateWaitingRx2
	StateSessionExpired
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateWaitingForTx:
		return "waiting_for_tx"
	case StateWaitingRx1:
		return "waiting_rx1"
	case StateWaitingRx2:
		return "waiting_rx2"
	case StateSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// Timing groups the receive-window delays. The defaults follow the 1.0.x
// regional parameters; tests and simulations shrink them.
type Timing struct {
	// JoinAcceptDelay1 is the wait between a join-request and RX1.
	JoinAcceptDelay1 time.Duration
	// RXDelay1 overrides the session RxDelay when non-zero.
	RXDelay1 time.Duration
	// RX1ToRX2 is the gap between the two windows.
	RX1ToRX2 time.Duration
	// RXWindow is how long each window listens.
	RXWindow time.Duration
}

func (t *Timing) setDefaults() {
	if t.JoinAcceptDelay1 == 0 {
		t.JoinAcceptDelay1 = 5 * time.Second
	}
	if t.RX1ToRX2 == 0 {
		t.RX1ToRX2 = time.Second
	}
	if t.RXWindow == 0 {
		t.RXWindow = time.Second
	}
}

// DeviceConfig wires a Device.
type DeviceConfig struct {
	Credentials  Credentials
	Plan         *region.Plan
	Radio        radio.Radio
	Crypto       crypto.Crypto
	JoinAttempts int
	JoinBackoff  time.Duration
	Timing       Timing
	// Rand picks an index in [0,n); defaults to math/rand seeded by time.
	Rand   func(n int) int
	Logger zerolog.Logger
}

// DownlinkEvent is an application-visible downlink, delivered through Poll.
type DownlinkEvent struct {
	ID         uuid.UUID     `json:"id"`
	Port       uint8         `json:"port"`
	Payload    []byte        `json:"payload"`
	Ack        bool          `json:"ack"`
	FCnt       uint32        `json:"fcnt"`
	Window     string        `json:"window"`
	Metrics    radio.Metrics `json:"metrics"`
	ReceivedAt time.Time     `json:"received_at"`
}

// maxQueuedEvents bounds the Poll queue; the oldest event is dropped first.
const maxQueuedEvents = 32

// Device is the end-device state machine. It is driven by a single logical
// thread of control: callers must serialize Join, Send and Poll.
type Device struct {
	creds    Credentials
	plan     *region.Plan
	radio    radio.Radio
	crypto   crypto.Crypto
	timing   Timing
	attempts int
	backoff  time.Duration
	rand     func(n int) int
	log      zerolog.Logger

	state    DeviceState
	session  *Session
	settings TxSettings
	handler  *CommandHandler
	devNonce lorawan.DevNonce

	events []DownlinkEvent

	lastLinkCheck  *lorawan.LinkCheckAnsPayload
	lastDeviceTime *lorawan.DeviceTimeAnsPayload
}

// NewDevice builds an engine in the Idle state with no session.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.Plan == nil || cfg.Radio == nil || cfg.Crypto == nil {
		return nil, fmt.Errorf("mac: plan, radio and crypto are required")
	}
	if cfg.JoinAttempts == 0 {
		cfg.JoinAttempts = 3
	}
	if cfg.Rand == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		cfg.Rand = rng.Intn
	}
	cfg.Timing.setDefaults()

	return &Device{
		creds:    cfg.Credentials,
		plan:     cfg.Plan,
		radio:    cfg.Radio,
		crypto:   cfg.Crypto,
		timing:   cfg.Timing,
		attempts: cfg.JoinAttempts,
		backoff:  cfg.JoinBackoff,
		rand:     cfg.Rand,
		log:      cfg.Logger.With().Str("dev_eui", cfg.Credentials.DevEUI.String()).Logger(),
		state:    StateIdle,
		settings: DefaultTxSettings(cfg.Plan),
	}, nil
}

// State returns the engine state.
func (d *Device) State() DeviceState { return d.state }

// Session returns the active session, or nil before a join.
func (d *Device) Session() *Session { return d.session }

// Settings returns the current transmit settings.
func (d *Device) Settings() TxSettings { return d.settings }

// LastLinkCheck returns the most recent LinkCheckAns, if any.
func (d *Device) LastLinkCheck() *lorawan.LinkCheckAnsPayload { return d.lastLinkCheck }

// LastDeviceTime returns the most recent DeviceTimeAns, if any.
func (d *Device) LastDeviceTime() *lorawan.DeviceTimeAnsPayload { return d.lastDeviceTime }

// Join runs the over-the-air activation: a fresh monotonic DevNonce per
// attempt, join-request on a random join channel, then the two accept
// windows. MIC failures and timeouts retry up to the configured limit.
func (d *Device) Join(ctx context.Context) error {
	d.state = StateJoining
	joinDR := d.plan.JoinDataRate()

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 && d.backoff > 0 {
			if err := d.wait(ctx, d.backoff); err != nil {
				d.state = StateIdle
				return err
			}
		}

		nonce := d.devNonce
		d.devNonce++

		frame, err := BuildJoinRequest(d.crypto, d.creds, nonce)
		if err != nil {
			d.state = StateIdle
			return err
		}

		chans := d.plan.JoinChannels()
		freq := chans[d.rand(len(chans))]

		d.log.Info().
			Int("attempt", attempt).
			Uint16("dev_nonce", uint16(nonce)).
			Uint32("frequency", freq).
			Msg("transmitting join request")

		if err := d.transmit(ctx, freq, joinDR, frame); err != nil {
			lastErr = err
			continue
		}

		res, err := d.awaitJoinAccept(ctx, nonce, freq, joinDR)
		if err != nil {
			if ctx.Err() != nil {
				d.state = StateIdle
				return ctx.Err()
			}
			lastErr = err
			d.log.Warn().Err(err).Int("attempt", attempt).Msg("join attempt failed")
			continue
		}

		d.establishSession(res)
		d.log.Info().
			Str("dev_addr", res.Session.DevAddr().String()).
			Msg("joined")
		return nil
	}

	d.state = StateIdle
	return fmt.Errorf("%w after %d attempts: %v", ErrJoinFailed, d.attempts, lastErr)
}

func (d *Device) awaitJoinAccept(ctx context.Context, nonce lorawan.DevNonce, txFreq uint32, joinDR uint8) (*JoinResult, error) {
	// RX1 mirrors the uplink channel and data rate
	if err := d.wait(ctx, d.timing.JoinAcceptDelay1); err != nil {
		return nil, err
	}
	d.state = StateWaitingRx1
	if res, err := d.listenJoin(ctx, nonce, txFreq, joinDR); err == nil {
		return res, nil
	} else if ctx.Err() != nil {
		return nil, err
	}

	// RX2 uses the region default second window
	if err := d.wait(ctx, d.timing.RX1ToRX2); err != nil {
		return nil, err
	}
	d.state = StateWaitingRx2
	rx2Freq, rx2DR := d.plan.RX2()
	res, err := d.listenJoin(ctx, nonce, rx2Freq, rx2DR)
	if err != nil {
		d.state = StateJoining
		return nil, err
	}
	return res, nil
}

func (d *Device) listenJoin(ctx context.Context, nonce lorawan.DevNonce, freq uint32, dataRate uint8) (*JoinResult, error) {
	if err := d.configureRx(freq, dataRate); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(d.timing.RXWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, radio.ErrRxTimeout
		}
		frame, _, err := d.radio.Receive(ctx, remaining)
		if err != nil {
			return nil, err
		}

		res, err := ProcessJoinAccept(d.crypto, d.creds, nonce, frame)
		if err != nil {
			// wrong frame type or a forged accept: keep listening
			d.log.Debug().Err(err).Msg("discarding frame in join window")
			continue
		}
		return res, nil
	}
}

func (d *Device) establishSession(res *JoinResult) {
	d.session = res.Session
	d.settings = DefaultTxSettings(d.plan)
	d.handler = NewCommandHandler(d.plan, &d.settings, d.log)

	accept := res.Accept
	if delay := accept.RxDelay & 0x0f; delay > 0 {
		d.settings.RxDelay = delay
	}
	if err := d.plan.SetRX1DROffset(accept.DLSettings.RX1DROffset); err != nil {
		d.log.Warn().Err(err).Msg("join-accept RX1 offset rejected")
	}
	rx2Freq, _ := d.plan.RX2()
	if err := d.plan.SetRX2(rx2Freq, accept.DLSettings.RX2DataRate); err != nil {
		d.log.Warn().Err(err).Msg("join-accept RX2 data rate rejected")
	}
	if accept.CFList != nil {
		d.plan.ApplyCFList(*accept.CFList)
	}
	d.state = StateIdle
}

// SendResult reports how a send cycle ended.
type SendResult struct {
	Outcome  RxOutcome
	FCnt     uint32
	Downlink *DownlinkEvent
}

// Send transmits an application payload and runs the two receive windows.
// Any valid downlink short-circuits the remaining windows; its MAC commands
// are applied before returning so the next uplink sees the updated plan.
func (d *Device) Send(ctx context.Context, payload []byte, port uint8, confirmed bool) (*SendResult, error) {
	if d.session == nil {
		return nil, ErrNotJoined
	}
	if d.state == StateSessionExpired || d.session.Expired() {
		return nil, ErrSessionExpired
	}

	dr, err := d.plan.Datarate(d.settings.DataRate)
	if err != nil {
		return nil, err
	}
	if err := d.checkPayloadSize(payload, dr); err != nil {
		return nil, err
	}

	frame, fcnt, err := d.session.PrepareBuffer(d.crypto, payload, port, confirmed)
	if err != nil {
		return nil, err
	}

	chIdx, ch, err := d.plan.UplinkChannel(d.settings.DataRate, d.rand)
	if err != nil {
		return nil, err
	}

	d.state = StateWaitingForTx
	d.log.Debug().
		Uint32("fcnt", fcnt).
		Uint8("port", port).
		Bool("confirmed", confirmed).
		Uint8("channel", chIdx).
		Uint32("frequency", ch.Frequency).
		Msg("transmitting uplink")

	if err := d.transmit(ctx, ch.Frequency, d.settings.DataRate, frame); err != nil {
		d.state = StateIdle
		return nil, err
	}

	// RX1 on the uplink channel (or its configured downlink frequency)
	rx1Freq := ch.Frequency
	if ch.DownlinkFrequency != 0 {
		rx1Freq = ch.DownlinkFrequency
	}
	rx1Delay := d.timing.RXDelay1
	if rx1Delay == 0 {
		rx1Delay = time.Duration(d.settings.RxDelay) * time.Second
	}
	if err := d.wait(ctx, rx1Delay); err != nil {
		d.state = StateIdle
		return nil, err
	}
	d.state = StateWaitingRx1
	if dl, metrics, err := d.listenData(ctx, rx1Freq, d.plan.RX1DataRate(d.settings.DataRate)); err == nil {
		return d.finishWithDownlink(fcnt, dl, metrics, "rx1"), nil
	} else if ctx.Err() != nil {
		d.state = StateIdle
		return nil, err
	}

	// RX2 one second after RX1
	if err := d.wait(ctx, d.timing.RX1ToRX2); err != nil {
		d.state = StateIdle
		return nil, err
	}
	d.state = StateWaitingRx2
	rx2Freq, rx2DR := d.plan.RX2()
	if dl, metrics, err := d.listenData(ctx, rx2Freq, rx2DR); err == nil {
		return d.finishWithDownlink(fcnt, dl, metrics, "rx2"), nil
	} else if ctx.Err() != nil {
		d.state = StateIdle
		return nil, err
	}

	outcome := d.session.RX2Complete()
	if outcome == RxOutcomeSessionExpired {
		d.state = StateSessionExpired
	} else {
		d.state = StateIdle
	}
	_ = d.radio.Sleep()
	return &SendResult{Outcome: outcome, FCnt: fcnt}, nil
}

func (d *Device) finishWithDownlink(fcnt uint32, dl *Downlink, metrics radio.Metrics, window string) *SendResult {
	res := &SendResult{Outcome: RxOutcomeComplete, FCnt: fcnt}

	if len(dl.Commands) > 0 {
		applied := d.handler.Apply(dl.Commands)
		if applied.LinkCheck != nil {
			d.lastLinkCheck = applied.LinkCheck
		}
		if applied.DeviceTime != nil {
			d.lastDeviceTime = applied.DeviceTime
		}
		for _, ans := range applied.Answers {
			if err := d.session.EnqueueCommand(ans); err != nil {
				d.log.Error().Err(err).Uint8("cid", uint8(ans.CID)).Msg("dropping MAC answer")
			}
		}
	}

	if dl.FPort != nil && *dl.FPort > 0 {
		ev := DownlinkEvent{
			ID:         uuid.New(),
			Port:       *dl.FPort,
			Payload:    dl.Payload,
			Ack:        dl.Ack,
			FCnt:       dl.FCnt,
			Window:     window,
			Metrics:    metrics,
			ReceivedAt: time.Now(),
		}
		d.pushEvent(ev)
		res.Downlink = &ev
	}

	if d.session.Expired() {
		d.state = StateSessionExpired
		res.Outcome = RxOutcomeSessionExpired
	} else {
		d.state = StateIdle
	}
	_ = d.radio.Sleep()
	return res
}

func (d *Device) listenData(ctx context.Context, freq uint32, dataRate uint8) (*Downlink, radio.Metrics, error) {
	if err := d.configureRx(freq, dataRate); err != nil {
		return nil, radio.Metrics{}, err
	}

	deadline := time.Now().Add(d.timing.RXWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, radio.Metrics{}, radio.ErrRxTimeout
		}
		frame, metrics, err := d.radio.Receive(ctx, remaining)
		if err != nil {
			return nil, radio.Metrics{}, err
		}

		var phy lorawan.PHYPayload
		if err := phy.UnmarshalBinary(frame); err != nil {
			d.log.Debug().Err(err).Msg("discarding malformed frame")
			continue
		}
		dl, err := d.session.ProcessDownlink(d.crypto, &phy)
		if err != nil {
			// MIC mismatch, replay or another device's frame: drop and
			// keep the window open
			d.log.Debug().Err(err).Msg("discarding frame in data window")
			continue
		}
		return dl, metrics, nil
	}
}

// Poll pops the oldest undelivered downlink event, or nil.
func (d *Device) Poll() *DownlinkEvent {
	if len(d.events) == 0 {
		return nil
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return &ev
}

// RequestLinkCheck queues a LinkCheckReq on the next uplink.
func (d *Device) RequestLinkCheck() error {
	if d.session == nil {
		return ErrNotJoined
	}
	return d.session.EnqueueCommand(lorawan.MACCommand{CID: lorawan.CIDLinkCheckReq})
}

// RequestDeviceTime queues a DeviceTimeReq on the next uplink.
func (d *Device) RequestDeviceTime() error {
	if d.session == nil {
		return ErrNotJoined
	}
	return d.session.EnqueueCommand(lorawan.MACCommand{CID: lorawan.CIDDeviceTimeReq})
}

func (d *Device) pushEvent(ev DownlinkEvent) {
	if len(d.events) >= maxQueuedEvents {
		d.events = d.events[1:]
	}
	d.events = append(d.events, ev)
}

func (d *Device) checkPayloadSize(payload []byte, dr region.Datarate) error {
	limit := int(dr.MaxPayloadSize)
	if d.settings.UplinkDwell {
		limit = int(dr.MaxPayloadSizeDwell)
	}
	// the limit covers the whole MACPayload: FHDR(7+FOpts) + FPort + FRM
	foptsLen, err := lorawan.MACCommandsLength(true, d.session.PendingCommands())
	if err != nil {
		return err
	}
	if avail := limit - 8 - foptsLen; len(payload) > avail {
		return fmt.Errorf("%w: %d bytes, %d available at DR%d", ErrPayloadTooLarge, len(payload), avail, d.settings.DataRate)
	}
	return nil
}

func (d *Device) transmit(ctx context.Context, freq uint32, dataRate uint8, frame []byte) error {
	dr, err := d.plan.Datarate(dataRate)
	if err != nil {
		return err
	}
	cfg := radio.Config{
		Frequency:       freq,
		SpreadingFactor: dr.SpreadingFactor,
		Bandwidth:       uint32(dr.Bandwidth),
		EIRP:            d.settings.EIRP,
	}
	if err := d.radio.Configure(cfg); err != nil {
		return fmt.Errorf("configuring radio: %w", err)
	}
	if err := d.radio.Transmit(ctx, frame); err != nil {
		return fmt.Errorf("transmitting: %w", err)
	}
	return nil
}

func (d *Device) configureRx(freq uint32, dataRate uint8) error {
	dr, err := d.plan.Datarate(dataRate)
	if err != nil {
		return err
	}
	return d.radio.Configure(radio.Config{
		Frequency:       freq,
		SpreadingFactor: dr.SpreadingFactor,
		Bandwidth:       uint32(dr.Bandwidth),
	})
}

// wait suspends until the delay elapses or the context is cancelled.
// Cancellation at any suspension point leaves session state consistent:
// counters only advance once an exchange actually completes.
func (d *Device) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PersistentState is everything that must survive a restart: the DevNonce
// sequence, the session and the plan state. Restoring partially would risk
// counter or nonce reuse, so it travels as one value.
type PersistentState struct {
	DevNonce lorawan.DevNonce `json:"dev_nonce"`
	Session  *State           `json:"session,omitempty"`
	Settings TxSettings       `json:"settings"`
	Plan     region.Snapshot  `json:"plan"`
}

// PersistentState captures the device for storage.
func (d *Device) PersistentState() PersistentState {
	st := PersistentState{
		DevNonce: d.devNonce,
		Settings: d.settings,
		Plan:     d.plan.Snapshot(),
	}
	if d.session != nil {
		s := d.session.State()
		st.Session = &s
	}
	return st
}

// RestoreState rebuilds the device from persisted state as one atomic step.
func (d *Device) RestoreState(st PersistentState) error {
	if err := d.plan.Restore(st.Plan); err != nil {
		return err
	}
	d.devNonce = st.DevNonce
	d.settings = st.Settings
	if st.Session != nil {
		d.session = RestoreSession(*st.Session)
		d.handler = NewCommandHandler(d.plan, &d.settings, d.log)
		if d.session.Expired() {
			d.state = StateSessionExpired
		} else {
			d.state = StateIdle
		}
	}
	return nil
}
