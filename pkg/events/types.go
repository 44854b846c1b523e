package events

// Event is a decoded, validated circle event.
type Event interface {
	EventHeader() Header
}

// CircleCreated announces a new circle and its invitation list.
type CircleCreated struct {
	Header
	ContributionAmount    int64
	ContributionFrequency int64
	RandomOrder           bool
	Name                  string
	TotalParticipants     uint32
	MinParticipants       uint32
	StartTimestamp        int64
	EligibleParticipants  []string
	Creator               string
	PaymentAsset          string
}

// RoundInfo is one entry of the rotation schedule published when a circle starts.
type RoundInfo struct {
	RoundNumber          uint32
	PaymentCutoff        int64
	ExpectedContributors []string
	Recipient            string
}

type CircleStarted struct {
	Header
	StartedBy     string
	FirstClaimant string
	PaymentCutoff int64
	Rounds        []RoundInfo
}

type ParticipantDefaulted struct {
	Header
	Recipient string
	Defaulter string
}

type ContributionMade struct {
	Header
	Contributor string
	Recipient   string
	Amount      int64
}

// DepositDeducted is a contribution covered from the contributor's security deposit.
// Sufficient is false when the deposit did not cover the full contribution.
type DepositDeducted struct {
	Header
	Contributor string
	Recipient   string
	Amount      int64
	Sufficient  bool
}

type ParticipantJoined struct {
	Header
	Account string
}

type ParticipantLeft struct {
	Header
	Account string
}

type CircleCompleted struct {
	Header
}

type SecurityDepositContribution struct {
	Header
	Depositor string
	Amount    int64
}

type SecurityDepositClaimed struct {
	Header
	Depositor string
	Amount    int64
}

// NewRoundStarted rotates the payout to NewRecipient and pushes the cutoff forward by Interval.
type NewRoundStarted struct {
	Header
	NewRecipient string
	Interval     int64
}
