package rosca

import (
	"strconv"
	"time"
)

// Status is the lifecycle stage derived from a circle's fields. It is never stored.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Circle is the aggregate root of a rotating savings circle.
//
// Lifecycle fields (CurrentRecipient, CurrentRoundNumber, CurrentRoundPaymentCutoff, StartedBy)
// are nil/zero until the circle starts. Once Completed is set it is never cleared.
type Circle struct {
	// Identity
	ID      string `json:"id"`       // decimal form of ChainID, the projection key
	ChainID uint32 `json:"chain_id"` // circle id as assigned on chain

	// Configuration, fixed at creation
	Name                  string   `json:"name"`
	Creator               string   `json:"creator"`
	PaymentAsset          string   `json:"payment_asset,omitempty"`
	RandomOrder           bool     `json:"random_order"`
	TotalParticipants     uint32   `json:"total_participants"`
	MinParticipants       uint32   `json:"min_participants"`
	ContributionAmount    int64    `json:"contribution_amount"`    // smallest asset unit
	ContributionFrequency int64    `json:"contribution_frequency"` // seconds between pay-by deadlines
	StartTimestamp        int64    `json:"start_timestamp"`        // start-by deadline, chain time
	EligibleParticipants  []string `json:"eligible_participants"`  // invitation order

	// Lifecycle
	Completed                 bool    `json:"completed"`
	StartedBy                 *string `json:"started_by,omitempty"`
	CurrentRecipient          *string `json:"current_recipient,omitempty"`
	CurrentRoundNumber        uint32  `json:"current_round_number"`
	CurrentRoundPaymentCutoff *int64  `json:"current_round_payment_cutoff,omitempty"`

	// Aggregate of the circle's SecurityDeposit rows
	TotalSecurityDeposits int64 `json:"total_security_deposits"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CircleKey is the projection key for an on-chain circle id.
func CircleKey(chainID uint32) string {
	return strconv.FormatUint(uint64(chainID), 10)
}

// Started reports whether CircleStarted has been applied.
func (c *Circle) Started() bool {
	return c.CurrentRoundNumber > 0
}

// Status derives pending/active/completed.
func (c *Circle) Status() Status {
	switch {
	case c.Completed:
		return StatusCompleted
	case c.Started():
		return StatusActive
	default:
		return StatusPending
	}
}

// Clone returns a deep copy.
func (c *Circle) Clone() *Circle {
	if c == nil {
		return nil
	}
	out := *c
	out.EligibleParticipants = cloneStrings(c.EligibleParticipants)
	out.StartedBy = cloneString(c.StartedBy)
	out.CurrentRecipient = cloneString(c.CurrentRecipient)
	if c.CurrentRoundPaymentCutoff != nil {
		v := *c.CurrentRoundPaymentCutoff
		out.CurrentRoundPaymentCutoff = &v
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
