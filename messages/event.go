package messages

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrInvalidEnvelope is returned when a message is not a JSON object with a string type
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Event is one relayed message. Raw holds the original JSON so it can be
// forwarded without re-encoding.
type Event struct {
	Type string
	Raw  []byte
}

type envelope struct {
	Type *string `json:"type"`
}

// Parse decodes the envelope of a relayed message, keeping the payload opaque
func Parse(data []byte) (Event, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type == nil || *env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return Event{Type: *env.Type, Raw: data}, nil
}

// New builds an Event by serializing v, which must carry a type field
func New(v any) (Event, error) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event: %w", err)
	}
	return Parse(raw)
}

// IsError reports whether the event is an error notification
func (e Event) IsError() bool {
	return e.Type == TypeError
}
