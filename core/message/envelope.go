package message

import (
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// envelope is the wire form of a Message. The payload travels as raw JSON
// next to its discriminator tag so receivers can pick a decoder before
// touching the payload bytes.
type envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	RaiserID        string          `json:"raiser_id"`
	Sequence        int64           `json:"sequence"`
	ServerName      string          `json:"server"`
	ApplicationName string          `json:"application"`
	SentAt          time.Time       `json:"sent_at"`
	PayloadType     string          `json:"payload_type,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Marshal serializes a message into its wire envelope.
func Marshal(msg Message) ([]byte, error) {
	env := envelope{
		EventID:         msg.EventID,
		RaiserID:        msg.RaiserID,
		Sequence:        msg.Sequence,
		ServerName:      msg.ServerName,
		ApplicationName: msg.ApplicationName,
		SentAt:          msg.SentAt,
		PayloadType:     msg.PayloadType,
	}

	if msg.Payload != nil {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload %q: %w", msg.PayloadType, err)
		}
		env.Payload = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeFunc turns raw payload bytes into a typed value.
type DecodeFunc func([]byte) (any, error)

// Registry maps payload-type tags to decoders. Unregistered tags fail closed
// with ErrUnknownPayloadType. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewRegistry creates an empty payload decoder registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// RegisterFunc registers a decoder for tag.
func (r *Registry) RegisterFunc(tag string, fn DecodeFunc) error {
	if tag == "" {
		return ErrEmptyPayloadType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decoders[tag]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePayloadType, tag)
	}
	r.decoders[tag] = fn
	return nil
}

// Register registers a JSON decoder for tag that unmarshals payloads into T.
func Register[T any](r *Registry, tag string) error {
	return r.RegisterFunc(tag, func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode payload %q: %w", tag, err)
		}
		return v, nil
	})
}

// Unmarshal parses a wire envelope and decodes its payload through the
// registered decoder for the envelope's payload-type tag. Envelopes without
// a payload yield a message with a nil payload.
func (r *Registry) Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	msg := Message{
		EventID:         env.EventID,
		RaiserID:        env.RaiserID,
		Sequence:        env.Sequence,
		ServerName:      env.ServerName,
		ApplicationName: env.ApplicationName,
		SentAt:          env.SentAt,
		PayloadType:     env.PayloadType,
	}

	if env.PayloadType == "" && len(env.Payload) == 0 {
		return msg, nil
	}

	r.mu.RLock()
	decode, ok := r.decoders[env.PayloadType]
	r.mu.RUnlock()

	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownPayloadType, env.PayloadType)
	}

	payload, err := decode(env.Payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = payload

	return msg, nil
}
