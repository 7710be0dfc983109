package mac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-device-pro/pkg/crypto"
	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

func testCredentials(t *testing.T) Credentials {
	t.Helper()
	joinEUI, err := lorawan.EUI64FromString("0102030405060708")
	require.NoError(t, err)
	devEUI, err := lorawan.EUI64FromString("0807060504030201")
	require.NoError(t, err)
	appKey, err := lorawan.AES128KeyFromString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	return Credentials{JoinEUI: joinEUI, DevEUI: devEUI, AppKey: appKey}
}

// Encrypted join-accept for the credentials above with DevNonce 0x0708.
// Decrypts to JoinNonce 010203, NetID 040506, DevAddr 0708090a,
// DLSettings 0x12, RxDelay 1, followed by the MIC ac4cf73a.
var testJoinAcceptCiphertext = []byte{
	0x25, 0x68, 0x1b, 0xaa, 0x29, 0xb2, 0x10, 0x75,
	0xe1, 0xc2, 0xc0, 0x12, 0x37, 0xb9, 0x70, 0xf4,
}

func TestBuildJoinRequest(t *testing.T) {
	creds := testCredentials(t)

	frame, err := BuildJoinRequest(crypto.NewAESCrypto(), creds, 0x0708)
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0x00,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x08, 0x07,
		0x36, 0x3c, 0x64, 0x6a,
	}, frame)
}

func TestProcessJoinAccept(t *testing.T) {
	creds := testCredentials(t)
	frame := append([]byte{0x20}, testJoinAcceptCiphertext...)

	res, err := ProcessJoinAccept(crypto.NewAESCrypto(), creds, 0x0708, frame)
	require.NoError(t, err)

	assert.Equal(t, [3]byte{0x01, 0x02, 0x03}, res.Accept.JoinNonce)
	assert.Equal(t, [3]byte{0x04, 0x05, 0x06}, res.Accept.NetID)
	assert.Equal(t, lorawan.DevAddr{0x07, 0x08, 0x09, 0x0a}, res.Accept.DevAddr)
	assert.Equal(t, uint8(2), res.Accept.DLSettings.RX2DataRate)
	assert.Equal(t, uint8(1), res.Accept.DLSettings.RX1DROffset)
	assert.Equal(t, uint8(1), res.Accept.RxDelay)
	assert.Nil(t, res.Accept.CFList)

	require.NotNil(t, res.Session)
	assert.Equal(t, lorawan.DevAddr{0x07, 0x08, 0x09, 0x0a}, res.Session.DevAddr())
	assert.Equal(t, uint32(0), res.Session.FCntUp())

	// the derived keys are the session-key derivation known answers
	st := res.Session.State()
	assert.Equal(t, "cd568c6dd7c21f70b062e1c541f99dea", st.NwkSKey.String())
	assert.Equal(t, "72e6eacbcd650de2393b5ce1456b4e28", st.AppSKey.String())
}

func TestProcessJoinAcceptRejectsBadMIC(t *testing.T) {
	creds := testCredentials(t)
	frame := append([]byte{0x20}, testJoinAcceptCiphertext...)
	frame[5] ^= 0x01

	_, err := ProcessJoinAccept(crypto.NewAESCrypto(), creds, 0x0708, frame)
	assert.ErrorIs(t, err, lorawan.ErrInvalidMIC)
}

func TestProcessJoinAcceptRejectsWrongNonce(t *testing.T) {
	creds := testCredentials(t)
	frame := append([]byte{0x20}, testJoinAcceptCiphertext...)

	// the accept itself verifies, but key derivation binds the nonce:
	// a different nonce yields different session keys
	res, err := ProcessJoinAccept(crypto.NewAESCrypto(), creds, 0x0709, frame)
	require.NoError(t, err)
	st := res.Session.State()
	assert.NotEqual(t, "cd568c6dd7c21f70b062e1c541f99dea", st.NwkSKey.String())
}

func TestProcessJoinAcceptRejectsOtherMType(t *testing.T) {
	creds := testCredentials(t)

	frame := buildDownlink(t, 0, nil, nil, nil, false, false)
	_, err := ProcessJoinAccept(crypto.NewAESCrypto(), creds, 0x0708, frame)
	assert.ErrorIs(t, err, ErrNotJoinAccept)
}
