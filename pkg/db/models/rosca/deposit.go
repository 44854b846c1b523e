package rosca

import "time"

// SecurityDeposit is the collateral a depositor holds in a circle. The row is
// removed when the balance is claimed in full.
type SecurityDeposit struct {
	ID          string `json:"id"` // <circle id>-<depositor>
	CircleID    string `json:"circle_id"`
	DepositorID string `json:"depositor_id"`
	Amount      int64  `json:"amount"`
}

func SecurityDepositID(circleID, depositor string) string {
	return circleID + "-" + depositor
}

// ProcessedEvent is the inbox record written in the same transaction as an event's effects.
type ProcessedEvent struct {
	EventID   string    `json:"event_id"`
	CircleID  string    `json:"circle_id"`
	Kind      string    `json:"kind"`
	AppliedAt time.Time `json:"applied_at"`
}
