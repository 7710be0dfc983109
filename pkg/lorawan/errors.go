package lorawan

import "errors"

// Codec errors. Decode errors mean a malformed or truncated frame and are
// recoverable; range errors mean the caller tried to encode a value outside
// its protocol-defined bounds.
var (
	ErrBufferTooShort  = errors.New("lorawan: buffer too short")
	ErrInvalidLength   = errors.New("lorawan: invalid payload length")
	ErrInvalidIndex    = errors.New("lorawan: index out of range")
	ErrInvalidCID      = errors.New("lorawan: unknown MAC command")
	ErrInvalidValue    = errors.New("lorawan: field value out of range")
	ErrTruncatedFrame  = errors.New("lorawan: truncated frame")
	ErrFOptsTooLong    = errors.New("lorawan: FOpts exceeds 15 bytes")
	ErrInvalidMIC      = errors.New("lorawan: invalid MIC")
	ErrInvalidDevNonce = errors.New("lorawan: invalid DevNonce")
)
