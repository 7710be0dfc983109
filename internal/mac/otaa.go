package mac

import (
	"errors"
	"fmt"

	"github.com/lorawan-server/lorawan-device-pro/pkg/crypto"
	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

// ErrNotJoinAccept means the received frame is not a join-accept at all;
// the join attempt keeps listening.
var ErrNotJoinAccept = errors.New("mac: not a join-accept frame")

// Credentials identify the device to the join server.
type Credentials struct {
	JoinEUI lorawan.EUI64
	DevEUI  lorawan.EUI64
	AppKey  lorawan.AES128Key
}

// BuildJoinRequest assembles a join-request frame for the given DevNonce.
// The caller owns nonce monotonicity: a nonce must never be reused with the
// same root key, or a captured join-accept becomes replayable.
func BuildJoinRequest(c crypto.Crypto, creds Credentials, devNonce lorawan.DevNonce) ([]byte, error) {
	jr := lorawan.JoinRequestPayload{
		JoinEUI:  creds.JoinEUI,
		DevEUI:   creds.DevEUI,
		DevNonce: devNonce,
	}
	payload, err := jr.MarshalBinary()
	if err != nil {
		return nil, err
	}

	phy := lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: lorawan.JoinRequest, Major: lorawan.LoRaWANR1},
		MACPayload: payload,
	}
	mic, err := c.JoinRequestMIC(creds.AppKey, append([]byte{phy.MHDRByte()}, payload...))
	if err != nil {
		return nil, fmt.Errorf("computing join-request MIC: %w", err)
	}
	phy.MIC = mic

	return phy.MarshalBinary()
}

// JoinResult is the outcome of a verified join-accept.
type JoinResult struct {
	Session *Session
	Accept  lorawan.JoinAcceptPayload
}

// ProcessJoinAccept decrypts and verifies a join-accept frame and derives
// the session keys for it. Key derivation runs exactly once, here, bound to
// the DevNonce of the outstanding join-request.
func ProcessJoinAccept(c crypto.Crypto, creds Credentials, devNonce lorawan.DevNonce, frame []byte) (*JoinResult, error) {
	var phy lorawan.PHYPayload
	if err := phy.UnmarshalBinary(frame); err != nil {
		return nil, err
	}
	if phy.MHDR.MType != lorawan.JoinAccept {
		return nil, fmt.Errorf("%w: mtype %d", ErrNotJoinAccept, phy.MHDR.MType)
	}

	plain, err := c.DecryptJoinAccept(creds.AppKey, phy.MACPayload)
	if err != nil {
		return nil, err
	}
	if len(plain) < 16 {
		return nil, fmt.Errorf("%w: join-accept of %d bytes", lorawan.ErrInvalidLength, len(plain))
	}

	fields, micBytes := plain[:len(plain)-4], plain[len(plain)-4:]
	var gotMIC [4]byte
	copy(gotMIC[:], micBytes)

	mic, err := c.JoinAcceptMIC(creds.AppKey, append([]byte{phy.MHDRByte()}, fields...))
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyMIC(mic, gotMIC) {
		return nil, lorawan.ErrInvalidMIC
	}

	var accept lorawan.JoinAcceptPayload
	if err := accept.UnmarshalBinary(fields); err != nil {
		return nil, err
	}

	keys, err := c.DeriveSessionKeys(creds.AppKey, accept.JoinNonce, accept.NetID, devNonce)
	if err != nil {
		return nil, fmt.Errorf("deriving session keys: %w", err)
	}

	return &JoinResult{
		Session: NewSession(keys, accept.DevAddr),
		Accept:  accept,
	}, nil
}
