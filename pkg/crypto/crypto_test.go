package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

// RFC 4493 test vectors.
func TestAESCMAC(t *testing.T) {
	key, err := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	require.NoError(t, err)

	tests := []struct {
		name     string
		msg      string
		expected string
	}{
		{"empty", "", "bb1d6929e95937287fa37d129b756746"},
		{"one block", "6bc1bee22e409f96e93d7e117393172a", "070a16b46b4d4144f79bdd9dd04a287c"},
		{"40 bytes", "6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e5130c81c46a35ce411", "dfa66747de9ae63030ca32611497c827"},
		{"four blocks", "6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e5130c81c46a35ce411e5fbc1191a0a52eff69f2445df4f9b17ad2b417be66c3710", "51f0bebf7e3b9d92fc49741779363cfe"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := hex.DecodeString(tc.msg)
			require.NoError(t, err)

			mac, err := aesCMAC(key, msg)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, hex.EncodeToString(mac[:]))
		})
	}
}

var testAppKey = lorawan.AES128Key{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}

func TestDeriveSessionKeys(t *testing.T) {
	c := NewAESCrypto()
	keys, err := c.DeriveSessionKeys(testAppKey, [3]byte{0x01, 0x02, 0x03}, [3]byte{0x04, 0x05, 0x06}, 0x0708)
	require.NoError(t, err)

	assert.Equal(t, "cd568c6dd7c21f70b062e1c541f99dea", keys.NwkSKey.String())
	assert.Equal(t, "72e6eacbcd650de2393b5ce1456b4e28", keys.AppSKey.String())
}

func TestJoinRequestMIC(t *testing.T) {
	c := NewAESCrypto()

	jr := lorawan.JoinRequestPayload{
		JoinEUI:  lorawan.EUI64{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		DevEUI:   lorawan.EUI64{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01},
		DevNonce: 0x0708,
	}
	payload, err := jr.MarshalBinary()
	require.NoError(t, err)

	mic, err := c.JoinRequestMIC(testAppKey, append([]byte{0x00}, payload...))
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0x36, 0x3c, 0x64, 0x6a}, mic)
}

func TestDecryptJoinAccept(t *testing.T) {
	c := NewAESCrypto()

	ciphertext := []byte{
		0x25, 0x68, 0x1b, 0xaa, 0x29, 0xb2, 0x10, 0x75,
		0xe1, 0xc2, 0xc0, 0x12, 0x37, 0xb9, 0x70, 0xf4,
	}
	plain, err := c.DecryptJoinAccept(testAppKey, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x12, 0x01, 0xac, 0x4c, 0xf7, 0x3a,
	}, plain)

	// the last four plaintext bytes are the MIC over MHDR | fields
	mic, err := c.JoinAcceptMIC(testAppKey, append([]byte{0x20}, plain[:12]...))
	require.NoError(t, err)
	assert.True(t, VerifyMIC(mic, [4]byte{0xac, 0x4c, 0xf7, 0x3a}))

	_, err = c.DecryptJoinAccept(testAppKey, ciphertext[:10])
	assert.ErrorIs(t, err, lorawan.ErrInvalidLength)
	_, err = c.DecryptJoinAccept(testAppKey, nil)
	assert.ErrorIs(t, err, lorawan.ErrInvalidLength)
}

func TestEncryptFRMPayload(t *testing.T) {
	c := NewAESCrypto()
	appSKey, err := lorawan.AES128KeyFromString("72e6eacbcd650de2393b5ce1456b4e28")
	require.NoError(t, err)
	devAddr := lorawan.DevAddr{0x01, 0x02, 0x03, 0x04}

	enc, err := c.EncryptFRMPayload(appSKey, true, devAddr, 1, []byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xb3, 0xba, 0x0e, 0xf5}, enc)

	// decryption is the same operation
	dec, err := c.EncryptFRMPayload(appSKey, true, devAddr, 1, enc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, dec)
}

func TestEncryptFRMPayloadMultiBlock(t *testing.T) {
	c := NewAESCrypto()
	appSKey, err := lorawan.AES128KeyFromString("72e6eacbcd650de2393b5ce1456b4e28")
	require.NoError(t, err)

	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}
	enc, err := c.EncryptFRMPayload(appSKey, true, lorawan.DevAddr{0x01, 0x02, 0x03, 0x04}, 1, payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x6d, 0x16, 0xb2, 0x19, 0xfb, 0x6c, 0x8c, 0xe1,
		0x54, 0x94, 0xc4, 0x34, 0x36, 0x2a, 0x01, 0xc5,
		0xb2, 0xf0, 0x84, 0xf0,
	}, enc)
}

func TestDataMIC(t *testing.T) {
	c := NewAESCrypto()
	nwkSKey, err := lorawan.AES128KeyFromString("cd568c6dd7c21f70b062e1c541f99dea")
	require.NoError(t, err)
	devAddr := lorawan.DevAddr{0x01, 0x02, 0x03, 0x04}

	frame := []byte{0x40, 0x01, 0x02, 0x03, 0x04, 0x00, 0x01, 0x00, 0x0a, 0xb3, 0xba, 0x0e, 0xf5}
	mic, err := c.DataMIC(nwkSKey, true, devAddr, 1, frame)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0x53, 0x60, 0x92, 0x36}, mic)

	// the direction byte is bound into the MIC
	down, err := c.DataMIC(nwkSKey, false, devAddr, 1, frame)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0x90, 0xfd, 0x6f, 0x10}, down)
	assert.NotEqual(t, mic, down)

	// so is the counter
	other, err := c.DataMIC(nwkSKey, true, devAddr, 2, frame)
	require.NoError(t, err)
	assert.NotEqual(t, mic, other)
}

func TestVerifyMIC(t *testing.T) {
	assert.True(t, VerifyMIC([4]byte{1, 2, 3, 4}, [4]byte{1, 2, 3, 4}))
	assert.False(t, VerifyMIC([4]byte{1, 2, 3, 4}, [4]byte{1, 2, 3, 5}))
}
