package projection

import (
	"context"
	"time"
)

// Update describes a committed change to one circle.
type Update struct {
	CircleID  string    `json:"circleId"`
	Kind      string    `json:"kind"`
	EventID   string    `json:"eventId"`
	AppliedAt time.Time `json:"appliedAt"`
}

// Notifier is told about every applied event after its transaction commits.
// Delivery is best effort; errors are logged and never undo the projection.
type Notifier interface {
	CircleUpdated(ctx context.Context, u Update) error
}

// NopNotifier drops every update.
type NopNotifier struct{}

func (NopNotifier) CircleUpdated(context.Context, Update) error { return nil }
