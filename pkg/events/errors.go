package events

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned for kinds outside the supported set. The feed keeps flowing.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrMalformed is matched by every DecodeError.
	ErrMalformed = errors.New("malformed event")
)

// DecodeError describes a payload that does not match its kind's schema.
type DecodeError struct {
	Kind     string
	EventID  string
	CircleID string
	Schema   string
	Reason   string
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("malformed %s event", e.Kind)
	if e.EventID != "" {
		msg += " " + e.EventID
	}
	if e.CircleID != "" {
		msg += " for circle " + e.CircleID
	}
	msg += ": " + e.Reason
	if e.Schema != "" {
		msg += " (expected " + e.Schema + ")"
	}
	return msg
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}
