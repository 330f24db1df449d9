package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	evt := &eventlog.Event{
		ID:            id.NewEventID(),
		AggregateID:   "note-1",
		AggregateType: eventlog.AggregateEntity,
		Type:          "note.create.completed",
		UserID:        "user-1",
		Data:          json.RawMessage(`{"title":"hi"}`),
		Version:       1,
		Source:        eventlog.SourceAPI,
	}

	raw, err := NewEnvelope(evt).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}

	if decoded.Name != EnvelopeName {
		t.Errorf("name = %q", decoded.Name)
	}
	if decoded.Data.ID != evt.ID || decoded.Data.Type != evt.Type || decoded.Data.Version != 1 {
		t.Errorf("decoded event = %+v", decoded.Data)
	}
}

func TestDecodeEnvelopeRejectsWrongName(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"name":"api/other.thing","data":null}`)); err == nil {
		t.Error("expected name mismatch error")
	}
}
