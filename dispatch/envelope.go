package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/lorekeep/spindle/eventlog"
)

// EnvelopeName is the name field of every event envelope on the wire.
const EnvelopeName = "api/event.logged"

// Envelope is the wire shape an event travels in outside the process:
// broadcast messages and any external consumer feed.
type Envelope struct {
	Name string          `json:"name"`
	Data *eventlog.Event `json:"data"`
}

// NewEnvelope wraps an event in its envelope.
func NewEnvelope(evt *eventlog.Event) Envelope {
	return Envelope{Name: EnvelopeName, Data: evt}
}

// Encode serializes the envelope.
func (e Envelope) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode envelope: %w", err)
	}

	return raw, nil
}

// DecodeEnvelope parses an envelope and checks its name.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("dispatch: decode envelope: %w", err)
	}

	if e.Name != EnvelopeName {
		return Envelope{}, fmt.Errorf("dispatch: unexpected envelope name %q", e.Name)
	}

	return e, nil
}
