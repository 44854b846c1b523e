package events

import (
	"fmt"
	"strings"
)

// Kind is the chain method name of a circle event.
type Kind string

const (
	KindCircleCreated               Kind = "RoscaCreated"
	KindCircleStarted               Kind = "RoscaStarted"
	KindParticipantDefaulted        Kind = "ParticipantDefaulted"
	KindContributionMade            Kind = "ContributionMade"
	KindDepositDeducted             Kind = "DepositDeducted"
	KindParticipantJoined           Kind = "JoinedRosca"
	KindParticipantLeft             Kind = "LeftRosca"
	KindCircleCompleted             Kind = "RoscaComplete"
	KindSecurityDepositContribution Kind = "SecurityDepositContribution"
	KindSecurityDepositClaimed      Kind = "SecurityDepositClaimed"
	KindNewRoundStarted             Kind = "NewRoundStarted"
)

// Module is the pallet prefix accepted in "module.method" kinds.
const Module = "rosca"

var allKinds = []Kind{
	KindCircleCreated,
	KindCircleStarted,
	KindParticipantDefaulted,
	KindContributionMade,
	KindDepositDeducted,
	KindParticipantJoined,
	KindParticipantLeft,
	KindCircleCompleted,
	KindSecurityDepositContribution,
	KindSecurityDepositClaimed,
	KindNewRoundStarted,
}

// AllKinds returns every kind the decoder understands.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts "RoscaCreated" or "rosca.RoscaCreated". Unknown kinds match ErrUnknownKind.
func ParseKind(s string) (Kind, error) {
	name := strings.TrimPrefix(strings.TrimSpace(s), Module+".")
	for _, k := range allKinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}
