package message

import "errors"

var (
	// ErrUnknownPayloadType is returned when an envelope carries a
	// payload-type tag with no registered decoder. Decoding fails closed
	// rather than guessing at the payload shape.
	ErrUnknownPayloadType = errors.New("unknown payload type")

	// ErrDuplicatePayloadType is returned when registering a decoder for a
	// tag that already has one.
	ErrDuplicatePayloadType = errors.New("payload type already registered")

	// ErrEmptyPayloadType is returned when registering a decoder under an
	// empty tag.
	ErrEmptyPayloadType = errors.New("payload type must not be empty")

	// ErrInvalidEnvelope is returned when the wire form cannot be parsed.
	ErrInvalidEnvelope = errors.New("invalid message envelope")
)
