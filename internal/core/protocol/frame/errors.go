package frame

import "errors"

var (
	// ErrNeedMore means the input holds an incomplete packet. Feed more bytes
	// and retry; it is not a protocol error.

	ErrNeedMore = errors.New("need more data")

	// Encoding errors

	ErrVarIntOutOfRange    = errors.New("varint out of range")
	ErrOptionalMapTooLarge = errors.New("optional map too large")
	ErrPacketTooLarge      = errors.New("packet too large")

	// Decoding errors

	ErrOptionalMapExhausted = errors.New("optional map exhausted")
	ErrMalformedPacket      = errors.New("malformed packet")
)
