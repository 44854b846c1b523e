package events

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// schema describes one kind's positional payload. Element 0 is always the circle id.
type schema struct {
	layout   string
	minArity int
	maxArity int
	decode   func(h Header, f *fields) Event
}

var schemas = map[Kind]schema{
	KindCircleCreated: {
		layout:   "[circle_id, contribution_amount, contribution_frequency, random_order, name, number_of_participants, minimum_participant_threshold, start_by_timestamp, eligible_participants, creator, payment_asset?]",
		minArity: 10,
		maxArity: 11,
		decode: func(h Header, f *fields) Event {
			return &CircleCreated{
				Header:                h,
				ContributionAmount:    f.positive(1, "contribution_amount"),
				ContributionFrequency: f.amount(2, "contribution_frequency"),
				RandomOrder:           f.boolean(3, "random_order"),
				Name:                  f.text(4, "name"),
				TotalParticipants:     f.u32(5, "number_of_participants"),
				MinParticipants:       f.u32(6, "minimum_participant_threshold"),
				StartTimestamp:        f.amount(7, "start_by_timestamp"),
				EligibleParticipants:  f.addresses(8, "eligible_participants"),
				Creator:               f.address(9, "creator"),
				PaymentAsset:          f.optionalString(10, "payment_asset"),
			}
		},
	},
	KindCircleStarted: {
		layout:   "[circle_id, started_by, first_claimant, payment_cutoff, rounds]",
		minArity: 5,
		maxArity: 5,
		decode: func(h Header, f *fields) Event {
			return &CircleStarted{
				Header:        h,
				StartedBy:     f.address(1, "started_by"),
				FirstClaimant: f.address(2, "first_claimant"),
				PaymentCutoff: f.amount(3, "payment_cutoff"),
				Rounds:        f.rounds(4, "rounds"),
			}
		},
	},
	KindParticipantDefaulted: {
		layout:   "[circle_id, recipient, defaulter]",
		minArity: 3,
		maxArity: 3,
		decode: func(h Header, f *fields) Event {
			return &ParticipantDefaulted{
				Header:    h,
				Recipient: f.address(1, "recipient"),
				Defaulter: f.address(2, "defaulter"),
			}
		},
	},
	KindContributionMade: {
		layout:   "[circle_id, contributor, recipient, amount]",
		minArity: 4,
		maxArity: 4,
		decode: func(h Header, f *fields) Event {
			return &ContributionMade{
				Header:      h,
				Contributor: f.address(1, "contributor"),
				Recipient:   f.address(2, "recipient"),
				Amount:      f.positive(3, "amount"),
			}
		},
	},
	KindDepositDeducted: {
		layout:   "[circle_id, contributor, recipient, amount, sufficient?]",
		minArity: 4,
		maxArity: 5,
		decode: func(h Header, f *fields) Event {
			return &DepositDeducted{
				Header:      h,
				Contributor: f.address(1, "contributor"),
				Recipient:   f.address(2, "recipient"),
				Amount:      f.amount(3, "amount"),
				Sufficient:  f.optionalBool(4, "sufficient", true),
			}
		},
	},
	KindParticipantJoined: {
		layout:   "[circle_id, account]",
		minArity: 2,
		maxArity: 2,
		decode: func(h Header, f *fields) Event {
			return &ParticipantJoined{Header: h, Account: f.address(1, "account")}
		},
	},
	KindParticipantLeft: {
		layout:   "[circle_id, account]",
		minArity: 2,
		maxArity: 2,
		decode: func(h Header, f *fields) Event {
			return &ParticipantLeft{Header: h, Account: f.address(1, "account")}
		},
	},
	KindCircleCompleted: {
		layout:   "[circle_id]",
		minArity: 1,
		maxArity: 1,
		decode: func(h Header, f *fields) Event {
			return &CircleCompleted{Header: h}
		},
	},
	KindSecurityDepositContribution: {
		layout:   "[circle_id, depositor, amount]",
		minArity: 3,
		maxArity: 3,
		decode: func(h Header, f *fields) Event {
			return &SecurityDepositContribution{
				Header:    h,
				Depositor: f.address(1, "depositor"),
				Amount:    f.positive(2, "amount"),
			}
		},
	},
	KindSecurityDepositClaimed: {
		layout:   "[circle_id, depositor, amount]",
		minArity: 3,
		maxArity: 3,
		decode: func(h Header, f *fields) Event {
			return &SecurityDepositClaimed{
				Header:    h,
				Depositor: f.address(1, "depositor"),
				Amount:    f.positive(2, "amount"),
			}
		},
	},
	KindNewRoundStarted: {
		layout:   "[circle_id, new_recipient, interval]",
		minArity: 3,
		maxArity: 3,
		decode: func(h Header, f *fields) Event {
			return &NewRoundStarted{
				Header:       h,
				NewRecipient: f.address(1, "new_recipient"),
				Interval:     f.amount(2, "interval"),
			}
		},
	},
}

// Schema returns the positional layout expected for kind.
func Schema(kind Kind) string {
	return schemas[kind].layout
}

// Decode validates env against its kind's schema and returns the typed event.
// It returns an error matching ErrUnknownKind for unsupported kinds and a *DecodeError otherwise.
func Decode(env Envelope) (Event, error) {
	kind, err := ParseKind(env.Kind)
	if err != nil {
		return nil, err
	}
	sc := schemas[kind]

	malformed := func(reason string) error {
		return &DecodeError{Kind: string(kind), EventID: env.ID, CircleID: env.CircleID, Schema: sc.layout, Reason: reason}
	}

	if strings.TrimSpace(env.ID) == "" {
		return nil, malformed("missing event id")
	}
	circleID, err := strconv.ParseUint(env.CircleID, 10, 32)
	if err != nil {
		return nil, malformed("envelope circle_id must be an unsigned 32-bit integer")
	}

	raw := bytes.TrimSpace(env.Payload)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, malformed("payload must be a JSON array")
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, malformed("payload: " + err.Error())
	}
	if len(elems) < sc.minArity || len(elems) > sc.maxArity {
		return nil, malformed("expected " + arity(sc) + " elements, got " + strconv.Itoa(len(elems)))
	}

	f := &fields{raw: elems}
	payloadCircle := f.u32(0, "circle_id")
	if f.err != nil {
		return nil, malformed(f.err.Error())
	}
	if uint64(payloadCircle) != circleID {
		return nil, malformed("payload circle_id " + strconv.FormatUint(uint64(payloadCircle), 10) + " does not match envelope circle_id " + env.CircleID)
	}

	h := Header{
		EventID:     env.ID,
		CircleID:    strconv.FormatUint(circleID, 10),
		ChainID:     payloadCircle,
		Kind:        kind,
		Timestamp:   env.Timestamp,
		BlockHeight: env.BlockHeight,
		EventIndex:  env.EventIndex,
	}
	evt := sc.decode(h, f)
	if f.err != nil {
		return nil, malformed(f.err.Error())
	}
	return evt, nil
}

func arity(sc schema) string {
	if sc.minArity == sc.maxArity {
		return strconv.Itoa(sc.minArity)
	}
	return strconv.Itoa(sc.minArity) + "-" + strconv.Itoa(sc.maxArity)
}
