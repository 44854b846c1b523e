package rosca

import (
	"fmt"
	"slices"
)

// Round is one rotation of a circle. Rounds are created all at once when the circle starts.
//
// Defaulters and Contributors behave as sets: adding an address that is already present is a no-op,
// which is what makes replayed ContributionMade/ParticipantDefaulted events harmless.
type Round struct {
	ID                   string   `json:"id"` // <circle id>-<round number>
	CircleID             string   `json:"circle_id"`
	RoundNumber          uint32   `json:"round_number"` // 1-based, contiguous
	PaymentCutoff        int64    `json:"payment_cutoff"`
	ExpectedContributors []string `json:"expected_contributors"`
	Recipient            string   `json:"recipient"`
	Defaulters           []string `json:"defaulters"`
	Contributors         []string `json:"contributors"`
}

// RoundID builds the natural key of a round.
func RoundID(circleID string, roundNumber uint32) string {
	return fmt.Sprintf("%s-%d", circleID, roundNumber)
}

// AddDefaulter records account as a defaulter. Returns false when already recorded.
func (r *Round) AddDefaulter(account string) bool {
	if slices.Contains(r.Defaulters, account) {
		return false
	}
	r.Defaulters = append(r.Defaulters, account)
	return true
}

// AddContributor records account as having paid. Returns false when already recorded.
func (r *Round) AddContributor(account string) bool {
	if slices.Contains(r.Contributors, account) {
		return false
	}
	r.Contributors = append(r.Contributors, account)
	return true
}

// Clone returns a deep copy.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	out := *r
	out.ExpectedContributors = cloneStrings(r.ExpectedContributors)
	out.Defaulters = cloneStrings(r.Defaulters)
	out.Contributors = cloneStrings(r.Contributors)
	return &out
}
