package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canopy-network/roscax/pkg/projection"
)

// CircleUpdatesPattern matches the update channel of every circle.
const CircleUpdatesPattern = "rosca:*:circle.updated"

// CircleChannel is the Pub/Sub channel carrying updates of one circle.
func CircleChannel(circleID string) string {
	return "rosca:" + circleID + ":circle.updated"
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Notifier publishes projection updates on Redis Pub/Sub.
type Notifier struct {
	pub publisher
}

var _ projection.Notifier = (*Notifier)(nil)

func NewNotifier(c *Client) *Notifier {
	return &Notifier{pub: c}
}

func (n *Notifier) CircleUpdated(ctx context.Context, u projection.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal circle update: %w", err)
	}
	return n.pub.Publish(ctx, CircleChannel(u.CircleID), payload)
}
