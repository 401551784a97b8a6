// Package message defines the event value exchanged between cooperating
// nodes and its wire envelope. Payloads are typed: the envelope carries an
// explicit payload-type discriminator and receivers decode through a registry
// of known types, failing closed for unregistered tags.
package message

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Origin identifies the process that raised an event.
type Origin struct {
	ServerName      string
	ApplicationName string
}

// Message is a single application event propagated between nodes.
// Immutable once constructed; it round-trips through the wire envelope by
// field value, not by reference.
type Message struct {
	// EventID uniquely identifies this event across the whole network.
	EventID uuid.UUID

	// RaiserID identifies the component that raised the event.
	RaiserID string

	// Sequence is a monotonically assigned number scoped to the raising
	// process. Receivers may use it to detect gaps from a single origin.
	Sequence int64

	// ServerName and ApplicationName describe the raising process.
	ServerName      string
	ApplicationName string

	// SentAt is the time the event was handed to the pipeline, in UTC.
	SentAt time.Time

	// PayloadType is the discriminator tag under which Payload was
	// registered; Payload holds the decoded application data.
	PayloadType string
	Payload     any
}

// Sequencer issues per-process monotonic sequence numbers, starting at 1.
// The zero value is ready to use and safe for concurrent callers.
type Sequencer struct {
	n atomic.Int64
}

// Next returns the next sequence number.
func (s *Sequencer) Next() int64 {
	return s.n.Add(1)
}

// New assembles a message with a fresh event id, the next sequence number
// from seq, and the current UTC time.
func New(raiserID, payloadType string, payload any, origin Origin, seq *Sequencer) Message {
	return Message{
		EventID:         uuid.New(),
		RaiserID:        raiserID,
		Sequence:        seq.Next(),
		ServerName:      origin.ServerName,
		ApplicationName: origin.ApplicationName,
		SentAt:          time.Now().UTC(),
		PayloadType:     payloadType,
		Payload:         payload,
	}
}
