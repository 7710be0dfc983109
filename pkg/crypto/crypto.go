// Package crypto implements the cryptographic operations of a LoRaWAN 1.0.x
// end device: session key derivation, frame and join MICs, and payload
// encryption. All primitives reduce to AES-128 and AES-CMAC (RFC 4493).
package crypto

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

// SessionKeys holds the keys derived from a join exchange.
type SessionKeys struct {
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key
}

// Crypto is the capability the MAC layer needs from the crypto provider.
// Implementations backed by a secure element can satisfy it without ever
// exposing the root key.
type Crypto interface {
	// DeriveSessionKeys computes NwkSKey and AppSKey from the join-accept
	// parameters and the device root key.
	DeriveSessionKeys(appKey lorawan.AES128Key, appNonce, netID [3]byte, devNonce lorawan.DevNonce) (SessionKeys, error)

	// JoinRequestMIC computes the MIC over MHDR | JoinRequest payload using
	// the root key.
	JoinRequestMIC(appKey lorawan.AES128Key, data []byte) ([4]byte, error)

	// JoinAcceptMIC computes the MIC over MHDR | decrypted join-accept
	// fields using the root key.
	JoinAcceptMIC(appKey lorawan.AES128Key, data []byte) ([4]byte, error)

	// DecryptJoinAccept recovers the plaintext join-accept fields including
	// the trailing MIC. The network encrypts with an AES decrypt operation
	// so the device decrypts by encrypting.
	DecryptJoinAccept(appKey lorawan.AES128Key, ciphertext []byte) ([]byte, error)

	// DataMIC computes the MIC of a data frame. The direction and the full
	// 32-bit counter are bound into the B0 block, so a frame replayed in the
	// other direction or under another counter fails verification.
	DataMIC(key lorawan.AES128Key, uplink bool, devAddr lorawan.DevAddr, fCnt uint32, data []byte) ([4]byte, error)

	// EncryptFRMPayload applies the counter-mode keystream to the payload.
	// Encryption and decryption are the same operation.
	EncryptFRMPayload(key lorawan.AES128Key, uplink bool, devAddr lorawan.DevAddr, fCnt uint32, payload []byte) ([]byte, error)
}

// AESCrypto implements Crypto with the software AES from the standard
// library.
type AESCrypto struct{}

// NewAESCrypto returns the software crypto provider.
func NewAESCrypto() *AESCrypto {
	return &AESCrypto{}
}

// DeriveSessionKeys derives the 1.0.x session keys:
// SKey = aes128_encrypt(AppKey, prefix | AppNonce | NetID | DevNonce | pad16)
// with prefix 0x01 for NwkSKey and 0x02 for AppSKey.
func (c *AESCrypto) DeriveSessionKeys(appKey lorawan.AES128Key, appNonce, netID [3]byte, devNonce lorawan.DevNonce) (SessionKeys, error) {
	var keys SessionKeys

	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return keys, fmt.Errorf("new cipher: %w", err)
	}

	msg := make([]byte, 16)
	copy(msg[1:4], appNonce[:])
	copy(msg[4:7], netID[:])
	binary.LittleEndian.PutUint16(msg[7:9], uint16(devNonce))

	msg[0] = 0x01
	block.Encrypt(keys.NwkSKey[:], msg)
	msg[0] = 0x02
	block.Encrypt(keys.AppSKey[:], msg)

	return keys, nil
}

// JoinRequestMIC computes cmac(AppKey, MHDR | JoinEUI | DevEUI | DevNonce)
// truncated to 4 bytes.
func (c *AESCrypto) JoinRequestMIC(appKey lorawan.AES128Key, data []byte) ([4]byte, error) {
	return cmacMIC(appKey, data)
}

// JoinAcceptMIC computes cmac(AppKey, MHDR | JoinNonce | NetID | DevAddr |
// DLSettings | RxDelay | CFList) truncated to 4 bytes.
func (c *AESCrypto) JoinAcceptMIC(appKey lorawan.AES128Key, data []byte) ([4]byte, error) {
	return cmacMIC(appKey, data)
}

// DecryptJoinAccept runs AES encrypt over the ciphertext blocks, undoing the
// decrypt operation the network used.
func (c *AESCrypto) DecryptJoinAccept(appKey lorawan.AES128Key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: join-accept ciphertext of %d bytes", lorawan.ErrInvalidLength, len(ciphertext))
	}

	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		block.Encrypt(plaintext[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}
	return plaintext, nil
}

// DataMIC computes cmac(key, B0 | MHDR | MACPayload) truncated to 4 bytes,
// where B0 binds direction, DevAddr and the 32-bit frame counter.
func (c *AESCrypto) DataMIC(key lorawan.AES128Key, uplink bool, devAddr lorawan.DevAddr, fCnt uint32, data []byte) ([4]byte, error) {
	b0 := make([]byte, 16, 16+len(data))
	b0[0] = 0x49
	if !uplink {
		b0[5] = 0x01
	}
	copy(b0[6:10], devAddr[:])
	binary.LittleEndian.PutUint32(b0[10:14], fCnt)
	b0[15] = byte(len(data))

	return cmacMIC(key, append(b0, data...))
}

// EncryptFRMPayload xors the payload with the keystream built from the Ai
// counter blocks.
func (c *AESCrypto) EncryptFRMPayload(key lorawan.AES128Key, uplink bool, devAddr lorawan.DevAddr, fCnt uint32, payload []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	out := make([]byte, len(payload))
	var a, s [16]byte
	a[0] = 0x01
	if !uplink {
		a[5] = 0x01
	}
	copy(a[6:10], devAddr[:])
	binary.LittleEndian.PutUint32(a[10:14], fCnt)

	for i := 0; i < len(payload); i += aes.BlockSize {
		a[15] = byte(i/aes.BlockSize + 1)
		block.Encrypt(s[:], a[:])
		for j := i; j < i+aes.BlockSize && j < len(payload); j++ {
			out[j] = payload[j] ^ s[j-i]
		}
	}
	return out, nil
}

// VerifyMIC compares an expected against a received MIC in constant time.
func VerifyMIC(expected, got [4]byte) bool {
	return subtle.ConstantTimeCompare(expected[:], got[:]) == 1
}

func cmacMIC(key lorawan.AES128Key, data []byte) ([4]byte, error) {
	var mic [4]byte
	mac, err := aesCMAC(key[:], data)
	if err != nil {
		return mic, err
	}
	copy(mic[:], mac[:4])
	return mic, nil
}
