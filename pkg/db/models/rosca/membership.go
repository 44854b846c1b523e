package rosca

import "time"

// Account is an address seen in any circle event. Accounts are created lazily and never deleted.
type Account struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Eligibility links an invited account to a circle. JoinedAt is set by JoinedRosca
// and cleared by LeftRosca; the row itself is never deleted.
type Eligibility struct {
	ID        string     `json:"id"` // <circle id>-<account>
	CircleID  string     `json:"circle_id"`
	AccountID string     `json:"account_id"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
}

func EligibilityID(circleID, account string) string {
	return circleID + "-" + account
}

// Joined reports whether the participant is currently in the circle.
func (e *Eligibility) Joined() bool {
	return e.JoinedAt != nil
}

// Clone returns a deep copy.
func (e *Eligibility) Clone() *Eligibility {
	if e == nil {
		return nil
	}
	out := *e
	if e.JoinedAt != nil {
		t := *e.JoinedAt
		out.JoinedAt = &t
	}
	return &out
}
