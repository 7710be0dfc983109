package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	v := NewValidator()

	type req struct {
		DevEUI  string `validate:"required,hex=16"`
		Port    uint8  `validate:"min=1,max=223"`
		Payload []byte `validate:"max=4"`
	}

	require.NoError(t, v.Validate(req{DevEUI: "0807060504030201", Port: 10, Payload: []byte{1, 2}}))

	assert.Error(t, v.Validate(req{Port: 10}), "missing required field")
	assert.Error(t, v.Validate(req{DevEUI: "zz07060504030201", Port: 10}), "non-hex characters")
	assert.Error(t, v.Validate(req{DevEUI: "0807", Port: 10}), "wrong length")
	assert.Error(t, v.Validate(req{DevEUI: "0807060504030201", Port: 0}), "port below minimum")
	assert.Error(t, v.Validate(req{DevEUI: "0807060504030201", Port: 224}), "port above maximum")
	assert.Error(t, v.Validate(req{DevEUI: "0807060504030201", Port: 1, Payload: make([]byte, 5)}), "payload too long")
}

func TestValidateRejectsNonStruct(t *testing.T) {
	assert.Error(t, NewValidator().Validate(42))
}
