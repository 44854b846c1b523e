package projection

import (
	"errors"
	"fmt"

	"github.com/canopy-network/roscax/pkg/db/entities"
	"github.com/canopy-network/roscax/pkg/events"
)

var (
	// ErrCircleCompleted is returned for lifecycle events that arrive after RoscaComplete.
	ErrCircleCompleted = errors.New("circle is completed")

	// ErrCircleNotStarted is returned for round rotation on a circle that never started.
	ErrCircleNotStarted = errors.New("circle has not started")

	// ErrAmbiguousRound means more than one round of a circle names the same recipient.
	ErrAmbiguousRound = errors.New("ambiguous round lookup")
)

// OrphanError is an event that references an entity the projection does not hold.
type OrphanError struct {
	Kind     events.Kind
	CircleID string
	Entity   entities.Entity
	Key      string
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("orphaned %s event for circle %s: %s %s not found", e.Kind, e.CircleID, e.Entity.Singular(), e.Key)
}

func orphan(h events.Header, entity entities.Entity, key string) error {
	return &OrphanError{Kind: h.Kind, CircleID: h.CircleID, Entity: entity, Key: key}
}

// IntegrityError is an event that contradicts a tracked balance. The event is rejected and state is left unchanged.
type IntegrityError struct {
	Kind     events.Kind
	CircleID string
	Account  string
	Amount   int64
	Balance  int64
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation in %s for circle %s (account %s, amount %d, balance %d): %s",
		e.Kind, e.CircleID, e.Account, e.Amount, e.Balance, e.Reason)
}

// Outcome is how a feed entry ended up. Everything except OutcomeFailed is final and the
// entry can be acknowledged.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

func (o Outcome) String() string {
	return string(o)
}

// Final reports whether the entry should be acknowledged.
func (o Outcome) Final() bool {
	return o != OutcomeFailed
}

// Classify maps an error from decoding or applying an event to its outcome.
func Classify(err error) Outcome {
	var (
		orphanErr    *OrphanError
		integrityErr *IntegrityError
	)
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, events.ErrMalformed),
		errors.Is(err, events.ErrUnknownKind),
		errors.As(err, &orphanErr),
		errors.Is(err, ErrCircleCompleted),
		errors.Is(err, ErrCircleNotStarted):
		return OutcomeSkipped
	case errors.As(err, &integrityErr), errors.Is(err, ErrAmbiguousRound):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
