package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Envelope is one entry of the circle event feed as delivered by the transport.
//
//	{"id":"120-3","circle_id":"7","kind":"RoscaCreated","payload":[...],"timestamp":"2025-01-01T00:00:00Z"}
type Envelope struct {
	ID          string          `json:"id"`
	CircleID    string          `json:"circle_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
	BlockHeight uint64          `json:"block_height,omitempty"`
	EventIndex  uint32          `json:"event_index,omitempty"`
}

// UnmarshalJSON accepts circle_id as a JSON string or number.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	aux := struct {
		*alias
		CircleID json.RawMessage `json:"circle_id"`
	}{alias: (*alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	e.CircleID = ""
	raw := bytes.TrimSpace(aux.CircleID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		return json.Unmarshal(raw, &e.CircleID)
	}
	n, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return fmt.Errorf("circle_id: %w", err)
	}
	e.CircleID = strconv.FormatUint(n, 10)
	return nil
}

// ParseEnvelope decodes a raw feed entry. Failures are DecodeErrors so the entry is skipped, not retried.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &DecodeError{Kind: "envelope", Reason: err.Error()}
	}
	return env, nil
}

// Header is the metadata every decoded event carries.
type Header struct {
	EventID     string
	CircleID    string
	ChainID     uint32
	Kind        Kind
	Timestamp   time.Time
	BlockHeight uint64
	EventIndex  uint32
}

// EventHeader returns the header. It is promoted to every event type.
func (h Header) EventHeader() Header {
	return h
}
