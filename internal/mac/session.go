// Package mac implements the device-side MAC layer: session state, the join
// procedure, MAC command handling and the state machine driving a transmit
// and receive-window cycle.
package mac

import (
	"errors"
	"fmt"

	"github.com/lorawan-server/lorawan-device-pro/pkg/crypto"
	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

var (
	// ErrSessionExpired means the uplink counter is exhausted; only a new
	// join can recover the device.
	ErrSessionExpired = errors.New("mac: session expired")

	// ErrCommandQueueFull means the pending uplink MAC commands no longer
	// fit the FOpts field. Enqueueing past the bound is a caller bug.
	ErrCommandQueueFull = errors.New("mac: MAC command queue full")

	// ErrFrameMismatch means a downlink does not belong to this session.
	ErrFrameMismatch = errors.New("mac: frame not for this session")

	// ErrReplayedFrame means the downlink counter did not advance. The
	// frame is dropped before its MIC result is trusted for anything.
	ErrReplayedFrame = errors.New("mac: replayed downlink counter")
)

// FCntUp saturates here; the value itself is never used for a frame.
const maxFCnt = 0xFFFFFFFF

// maxPendingCommands bounds the uplink queue. Together with the 15-byte
// FOpts limit it is checked at enqueue time so PrepareBuffer cannot overflow.
const maxPendingCommands = 8

// RxOutcome reports how a receive-window cycle ended.
type RxOutcome int

const (
	// RxOutcomeSessionExpired: the uplink counter saturated; no further
	// data frames may be prepared.
	RxOutcomeSessionExpired RxOutcome = iota
	// RxOutcomeNoAck: a confirmed uplink got no acknowledgement.
	RxOutcomeNoAck
	// RxOutcomeComplete: an unconfirmed uplink's windows simply closed.
	RxOutcomeComplete
)

func (o RxOutcome) String() string {
	switch o {
	case RxOutcomeSessionExpired:
		return "session_expired"
	case RxOutcomeNoAck:
		return "no_ack"
	case RxOutcomeComplete:
		return "rx_complete"
	default:
		return "unknown"
	}
}

// Session holds the cryptographic context and counters of one joined
// session. It is owned by a single Device and is not safe for concurrent
// use.
type Session struct {
	keys    crypto.SessionKeys
	devAddr lorawan.DevAddr

	fcntUp      uint32
	fcntDown    uint32
	hasDownlink bool

	confirmed  bool
	pendingAck bool
	expired    bool

	pending []lorawan.MACCommand
}

// NewSession creates a session with both counters at zero, as derived from a
// fresh join.
func NewSession(keys crypto.SessionKeys, devAddr lorawan.DevAddr) *Session {
	return &Session{keys: keys, devAddr: devAddr}
}

// DevAddr returns the network-assigned device address.
func (s *Session) DevAddr() lorawan.DevAddr { return s.devAddr }

// FCntUp returns the counter the next uplink will use.
func (s *Session) FCntUp() uint32 { return s.fcntUp }

// FCntDown returns the last accepted downlink counter.
func (s *Session) FCntDown() uint32 { return s.fcntDown }

// Expired reports whether the uplink counter is exhausted.
func (s *Session) Expired() bool { return s.expired }

// EnqueueCommand queues an uplink MAC command for the next PrepareBuffer.
// The bound is enforced here so frame building can never overflow FOpts.
func (s *Session) EnqueueCommand(cmd lorawan.MACCommand) error {
	if len(s.pending) >= maxPendingCommands {
		return fmt.Errorf("%w: %d commands queued", ErrCommandQueueFull, len(s.pending))
	}
	next := append(append([]lorawan.MACCommand{}, s.pending...), cmd)
	n, err := lorawan.MACCommandsLength(true, next)
	if err != nil {
		return err
	}
	if n > 15 {
		return fmt.Errorf("%w: %d bytes of FOpts", ErrCommandQueueFull, n)
	}
	s.pending = next
	return nil
}

// PendingCommands returns the queued uplink commands without draining them.
func (s *Session) PendingCommands() []lorawan.MACCommand {
	out := make([]lorawan.MACCommand, len(s.pending))
	copy(out, s.pending)
	return out
}

// PrepareBuffer builds the encrypted, MIC-protected uplink frame for the
// payload. It reads the uplink counter without incrementing it; the counter
// advances only once the exchange completes (a downlink is accepted or the
// windows close). The pending command queue is drained into FOpts and a
// pending acknowledgement, if any, is consumed into the ACK bit. The counter
// value used is returned for correlation with the eventual downlink.
func (s *Session) PrepareBuffer(c crypto.Crypto, payload []byte, port uint8, confirmed bool) ([]byte, uint32, error) {
	if s.expired {
		return nil, 0, ErrSessionExpired
	}
	if port == 0 {
		return nil, 0, fmt.Errorf("%w: port 0 is reserved for MAC commands", lorawan.ErrInvalidValue)
	}

	fcnt := s.fcntUp

	fopts := make([]byte, 15)
	n, err := lorawan.EncodeMACCommands(true, s.pending, fopts)
	if err != nil {
		// the enqueue bound makes this unreachable; treat it as the
		// contract violation it is
		return nil, 0, fmt.Errorf("draining MAC command queue: %w", err)
	}
	s.pending = nil

	frm, err := c.EncryptFRMPayload(s.keys.AppSKey, true, s.devAddr, fcnt, payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encrypting payload: %w", err)
	}

	mac := lorawan.MACPayload{
		FHDR: lorawan.FHDR{
			DevAddr: s.devAddr,
			FCtrl:   lorawan.FCtrl{ACK: s.pendingAck},
			FCnt:    uint16(fcnt),
			FOpts:   fopts[:n],
		},
		FPort:      &port,
		FRMPayload: frm,
	}
	s.pendingAck = false

	macBytes, err := mac.MarshalBinary(true)
	if err != nil {
		return nil, 0, err
	}

	mtype := lorawan.UnconfirmedDataUp
	if confirmed {
		mtype = lorawan.ConfirmedDataUp
	}
	phy := lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: mtype, Major: lorawan.LoRaWANR1},
		MACPayload: macBytes,
	}

	mic, err := c.DataMIC(s.keys.NwkSKey, true, s.devAddr, fcnt, append([]byte{phy.MHDRByte()}, macBytes...))
	if err != nil {
		return nil, 0, fmt.Errorf("computing MIC: %w", err)
	}
	phy.MIC = mic

	frame, err := phy.MarshalBinary()
	if err != nil {
		return nil, 0, err
	}

	s.confirmed = confirmed
	return frame, fcnt, nil
}

// RX2Complete closes a receive-window cycle that saw no matching downlink.
// The transmission consumed a counter value regardless of acknowledgement,
// so the uplink counter advances here; retries never reuse a counter.
func (s *Session) RX2Complete() RxOutcome {
	if s.fcntUp == maxFCnt {
		s.expired = true
		return RxOutcomeSessionExpired
	}
	s.fcntUp++

	if s.confirmed {
		s.confirmed = false
		return RxOutcomeNoAck
	}
	return RxOutcomeComplete
}

// Downlink is a validated, decrypted downlink frame.
type Downlink struct {
	FPort     *uint8
	Payload   []byte
	Commands  []lorawan.MACCommand
	Ack       bool
	FPending  bool
	FCnt      uint32
	Confirmed bool
}

// ProcessDownlink validates and decrypts a received data frame. The MIC is
// checked before any field is trusted, and a counter that does not advance
// past the last accepted downlink is rejected even when the MIC verifies.
// Acceptance completes the uplink exchange, so the uplink counter advances
// here instead of in RX2Complete.
func (s *Session) ProcessDownlink(c crypto.Crypto, phy *lorawan.PHYPayload) (*Downlink, error) {
	if phy.MHDR.MType != lorawan.UnconfirmedDataDown && phy.MHDR.MType != lorawan.ConfirmedDataDown {
		return nil, fmt.Errorf("%w: mtype %d", ErrFrameMismatch, phy.MHDR.MType)
	}

	var mac lorawan.MACPayload
	if err := mac.UnmarshalBinary(false, phy.MACPayload); err != nil {
		return nil, err
	}
	if mac.FHDR.DevAddr != s.devAddr {
		return nil, fmt.Errorf("%w: DevAddr %s", ErrFrameMismatch, mac.FHDR.DevAddr)
	}

	fullFCnt := lorawan.FullFCnt(s.fcntDown, mac.FHDR.FCnt)

	mic, err := c.DataMIC(s.keys.NwkSKey, false, s.devAddr, fullFCnt, append([]byte{phy.MHDRByte()}, phy.MACPayload...))
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyMIC(mic, phy.MIC) {
		return nil, lorawan.ErrInvalidMIC
	}

	if s.hasDownlink && fullFCnt <= s.fcntDown {
		return nil, fmt.Errorf("%w: FCnt %d, last accepted %d", ErrReplayedFrame, fullFCnt, s.fcntDown)
	}

	dl := &Downlink{
		Ack:       mac.FHDR.FCtrl.ACK,
		FPending:  mac.FHDR.FCtrl.FPending,
		FCnt:      fullFCnt,
		FPort:     mac.FPort,
		Confirmed: phy.MHDR.MType == lorawan.ConfirmedDataDown,
	}

	if mac.FPort != nil && len(mac.FRMPayload) > 0 {
		key := s.keys.AppSKey
		if *mac.FPort == 0 {
			key = s.keys.NwkSKey
		}
		plain, err := c.EncryptFRMPayload(key, false, s.devAddr, fullFCnt, mac.FRMPayload)
		if err != nil {
			return nil, fmt.Errorf("decrypting payload: %w", err)
		}
		if *mac.FPort == 0 {
			// port 0 carries MAC commands instead of application data
			cmds, err := lorawan.ParseMACCommands(false, plain)
			if err != nil {
				return nil, err
			}
			dl.Commands = cmds
		} else {
			dl.Payload = plain
		}
	}

	if len(mac.FHDR.FOpts) > 0 {
		cmds, err := lorawan.ParseMACCommands(false, mac.FHDR.FOpts)
		if err != nil {
			return nil, err
		}
		dl.Commands = append(dl.Commands, cmds...)
	}

	// frame accepted: commit counters and flags
	s.fcntDown = fullFCnt
	s.hasDownlink = true
	if s.fcntUp == maxFCnt {
		s.expired = true
	} else {
		s.fcntUp++
	}
	s.confirmed = false
	if dl.Confirmed {
		s.pendingAck = true
	}
	return dl, nil
}

// State captures everything a restart needs to resume the session without
// reusing a counter. It must be persisted and restored atomically.
type State struct {
	NwkSKey     lorawan.AES128Key `json:"nwk_s_key"`
	AppSKey     lorawan.AES128Key `json:"app_s_key"`
	DevAddr     lorawan.DevAddr   `json:"dev_addr"`
	FCntUp      uint32            `json:"fcnt_up"`
	FCntDown    uint32            `json:"fcnt_down"`
	HasDownlink bool              `json:"has_downlink"`
	PendingAck  bool              `json:"pending_ack"`
	Expired     bool              `json:"expired"`
}

// State returns the persistable session state.
func (s *Session) State() State {
	return State{
		NwkSKey:     s.keys.NwkSKey,
		AppSKey:     s.keys.AppSKey,
		DevAddr:     s.devAddr,
		FCntUp:      s.fcntUp,
		FCntDown:    s.fcntDown,
		HasDownlink: s.hasDownlink,
		PendingAck:  s.pendingAck,
		Expired:     s.expired,
	}
}

// RestoreSession rebuilds a session from persisted state.
func RestoreSession(st State) *Session {
	return &Session{
		keys:        crypto.SessionKeys{NwkSKey: st.NwkSKey, AppSKey: st.AppSKey},
		devAddr:     st.DevAddr,
		fcntUp:      st.FCntUp,
		fcntDown:    st.FCntDown,
		hasDownlink: st.HasDownlink,
		pendingAck:  st.PendingAck,
		expired:     st.Expired,
	}
}
