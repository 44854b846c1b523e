package projection

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/entities"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
	"github.com/canopy-network/roscax/pkg/events"
)

// step is the state a transition works against. circle is loaded when the transition needs it.
type step struct {
	tx     db.Tx
	header events.Header
	event  events.Event
	circle *rosca.Circle
	at     time.Time
	logger *zap.Logger
}

// applyFunc mutates the store through s.tx and reports whether anything changed.
type applyFunc func(ctx context.Context, s *step) (bool, error)

type transition struct {
	needsCircle    bool
	allowCompleted bool
	apply          applyFunc
}

var transitions = map[events.Kind]transition{
	events.KindCircleCreated:               {apply: on(createCircle)},
	events.KindCircleStarted:               {needsCircle: true, apply: on(startCircle)},
	events.KindParticipantDefaulted:        {apply: on(recordDefault)},
	events.KindContributionMade:            {apply: on(recordContribution)},
	events.KindDepositDeducted:             {apply: on(recordDeduction)},
	events.KindParticipantJoined:           {needsCircle: true, apply: on(joinCircle)},
	events.KindParticipantLeft:             {needsCircle: true, apply: on(leaveCircle)},
	events.KindCircleCompleted:             {needsCircle: true, allowCompleted: true, apply: on(completeCircle)},
	events.KindSecurityDepositContribution: {needsCircle: true, apply: on(contributeDeposit)},
	events.KindSecurityDepositClaimed:      {needsCircle: true, allowCompleted: true, apply: on(claimDeposit)},
	events.KindNewRoundStarted:             {needsCircle: true, apply: on(startNextRound)},
}

// on adapts a handler for one concrete event type to the table.
func on[E events.Event](fn func(ctx context.Context, s *step, evt E) (bool, error)) applyFunc {
	return func(ctx context.Context, s *step) (bool, error) {
		evt, ok := s.event.(E)
		if !ok {
			return false, fmt.Errorf("%s: unexpected event type %T", s.header.Kind, s.event)
		}
		return fn(ctx, s, evt)
	}
}

func createCircle(ctx context.Context, s *step, evt *events.CircleCreated) (bool, error) {
	if _, err := s.tx.GetCircle(ctx, s.header.CircleID); err == nil {
		s.logger.Warn("Circle already exists, ignoring duplicate creation")
		return false, nil
	} else if !db.IsNotFound(err) {
		return false, err
	}

	c := &rosca.Circle{
		ID:                    s.header.CircleID,
		ChainID:               s.header.ChainID,
		Name:                  evt.Name,
		Creator:               evt.Creator,
		PaymentAsset:          evt.PaymentAsset,
		RandomOrder:           evt.RandomOrder,
		TotalParticipants:     evt.TotalParticipants,
		MinParticipants:       evt.MinParticipants,
		ContributionAmount:    evt.ContributionAmount,
		ContributionFrequency: evt.ContributionFrequency,
		StartTimestamp:        evt.StartTimestamp,
		EligibleParticipants:  append([]string(nil), evt.EligibleParticipants...),
		CreatedAt:             s.at,
		UpdatedAt:             s.at,
	}
	if err := s.tx.SaveCircle(ctx, c); err != nil {
		return false, err
	}

	if _, err := ensureAccount(ctx, s, evt.Creator); err != nil {
		return false, err
	}
	for _, participant := range evt.EligibleParticipants {
		if _, err := ensureAccount(ctx, s, participant); err != nil {
			return false, err
		}
		if err := ensureEligibility(ctx, s, participant); err != nil {
			return false, err
		}
	}
	return true, nil
}

func startCircle(ctx context.Context, s *step, evt *events.CircleStarted) (bool, error) {
	c := s.circle
	if c.Started() {
		s.logger.Warn("Circle already started, ignoring",
			zap.Uint32("current_round", c.CurrentRoundNumber))
		return false, nil
	}

	startedBy, recipient, cutoff := evt.StartedBy, evt.FirstClaimant, evt.PaymentCutoff
	c.StartedBy = &startedBy
	c.CurrentRecipient = &recipient
	c.CurrentRoundNumber = 1
	c.CurrentRoundPaymentCutoff = &cutoff
	c.UpdatedAt = s.at

	rounds := make([]*rosca.Round, 0, len(evt.Rounds))
	addresses := []string{startedBy, recipient}
	for _, ri := range evt.Rounds {
		expected := ri.ExpectedContributors
		if len(expected) == 0 {
			expected = expectedContributors(c.EligibleParticipants, ri.Recipient)
		}
		rounds = append(rounds, &rosca.Round{
			ID:                   rosca.RoundID(c.ID, ri.RoundNumber),
			CircleID:             c.ID,
			RoundNumber:          ri.RoundNumber,
			PaymentCutoff:        ri.PaymentCutoff,
			ExpectedContributors: append([]string(nil), expected...),
			Recipient:            ri.Recipient,
			Defaulters:           []string{},
			Contributors:         []string{},
		})
		addresses = append(addresses, ri.Recipient)
	}

	for _, addr := range addresses {
		if _, err := ensureAccount(ctx, s, addr); err != nil {
			return false, err
		}
	}
	if err := s.tx.SaveRounds(ctx, rounds); err != nil {
		return false, err
	}
	return true, s.tx.SaveCircle(ctx, c)
}

// expectedContributors is every eligible participant except the round's recipient.
func expectedContributors(eligible []string, recipient string) []string {
	out := make([]string, 0, len(eligible))
	for _, p := range eligible {
		if p != recipient {
			out = append(out, p)
		}
	}
	return out
}

func recordDefault(ctx context.Context, s *step, evt *events.ParticipantDefaulted) (bool, error) {
	round, err := roundFor(ctx, s, evt.Recipient)
	if err != nil {
		return false, err
	}
	created, err := ensureAccount(ctx, s, evt.Defaulter)
	if err != nil {
		return false, err
	}
	if !round.AddDefaulter(evt.Defaulter) {
		return created, nil
	}
	return true, s.tx.SaveRound(ctx, round)
}

func recordContribution(ctx context.Context, s *step, evt *events.ContributionMade) (bool, error) {
	return addContributor(ctx, s, evt.Recipient, evt.Contributor)
}

// recordDeduction counts a contribution paid out of the security deposit as an in-kind contribution.
// The deposit balance is settled on chain and reconciled by the claim.
func recordDeduction(ctx context.Context, s *step, evt *events.DepositDeducted) (bool, error) {
	if !evt.Sufficient {
		s.logger.Warn("Security deposit did not cover the contribution",
			zap.String("contributor", evt.Contributor),
			zap.Int64("amount", evt.Amount))
	}
	return addContributor(ctx, s, evt.Recipient, evt.Contributor)
}

func addContributor(ctx context.Context, s *step, recipient, contributor string) (bool, error) {
	round, err := roundFor(ctx, s, recipient)
	if err != nil {
		return false, err
	}
	created, err := ensureAccount(ctx, s, contributor)
	if err != nil {
		return false, err
	}
	if !round.AddContributor(contributor) {
		return created, nil
	}
	return true, s.tx.SaveRound(ctx, round)
}

func joinCircle(ctx context.Context, s *step, evt *events.ParticipantJoined) (bool, error) {
	e, err := eligibilityFor(ctx, s, evt.Account)
	if err != nil {
		return false, err
	}
	if e.Joined() {
		return false, nil
	}
	at := s.at
	e.JoinedAt = &at
	return true, s.tx.SaveEligibility(ctx, e)
}

// leaveCircle clears the join time. The eligibility stays so the account can join again.
func leaveCircle(ctx context.Context, s *step, evt *events.ParticipantLeft) (bool, error) {
	e, err := eligibilityFor(ctx, s, evt.Account)
	if err != nil {
		return false, err
	}
	if !e.Joined() {
		return false, nil
	}
	e.JoinedAt = nil
	return true, s.tx.SaveEligibility(ctx, e)
}

func completeCircle(ctx context.Context, s *step, _ *events.CircleCompleted) (bool, error) {
	c := s.circle
	if c.Completed {
		return false, nil
	}
	c.Completed = true
	c.UpdatedAt = s.at
	return true, s.tx.SaveCircle(ctx, c)
}

func contributeDeposit(ctx context.Context, s *step, evt *events.SecurityDepositContribution) (bool, error) {
	if _, err := s.tx.GetAccount(ctx, evt.Depositor); db.IsNotFound(err) {
		return false, orphan(s.header, entities.Accounts, evt.Depositor)
	} else if err != nil {
		return false, err
	}

	c := s.circle
	d, err := s.tx.GetSecurityDeposit(ctx, c.ID, evt.Depositor)
	if db.IsNotFound(err) {
		d = &rosca.SecurityDeposit{
			ID:          rosca.SecurityDepositID(c.ID, evt.Depositor),
			CircleID:    c.ID,
			DepositorID: evt.Depositor,
		}
	} else if err != nil {
		return false, err
	}

	balance, ok := addAmount(d.Amount, evt.Amount)
	if !ok {
		return false, &IntegrityError{Kind: s.header.Kind, CircleID: c.ID, Account: evt.Depositor,
			Amount: evt.Amount, Balance: d.Amount, Reason: "deposit balance overflows"}
	}
	total, ok := addAmount(c.TotalSecurityDeposits, evt.Amount)
	if !ok {
		return false, &IntegrityError{Kind: s.header.Kind, CircleID: c.ID, Account: evt.Depositor,
			Amount: evt.Amount, Balance: c.TotalSecurityDeposits, Reason: "circle deposit total overflows"}
	}

	d.Amount = balance
	c.TotalSecurityDeposits = total
	c.UpdatedAt = s.at
	if err := s.tx.SaveSecurityDeposit(ctx, d); err != nil {
		return false, err
	}
	return true, s.tx.SaveCircle(ctx, c)
}

// claimDeposit only accepts a claim of the full tracked balance.
func claimDeposit(ctx context.Context, s *step, evt *events.SecurityDepositClaimed) (bool, error) {
	c := s.circle
	d, err := s.tx.GetSecurityDeposit(ctx, c.ID, evt.Depositor)
	if db.IsNotFound(err) {
		return false, orphan(s.header, entities.SecurityDeposits, rosca.SecurityDepositID(c.ID, evt.Depositor))
	}
	if err != nil {
		return false, err
	}

	if evt.Amount != d.Amount {
		return false, &IntegrityError{Kind: s.header.Kind, CircleID: c.ID, Account: evt.Depositor,
			Amount: evt.Amount, Balance: d.Amount, Reason: "claimed amount does not match deposit balance"}
	}
	if c.TotalSecurityDeposits < evt.Amount {
		return false, &IntegrityError{Kind: s.header.Kind, CircleID: c.ID, Account: evt.Depositor,
			Amount: evt.Amount, Balance: c.TotalSecurityDeposits, Reason: "claim exceeds circle deposit total"}
	}

	c.TotalSecurityDeposits -= evt.Amount
	c.UpdatedAt = s.at
	if err := s.tx.DeleteSecurityDeposit(ctx, c.ID, evt.Depositor); err != nil {
		return false, err
	}
	return true, s.tx.SaveCircle(ctx, c)
}

// startNextRound advances exactly one round. The cutoff is accumulated by the interval, not replaced.
func startNextRound(ctx context.Context, s *step, evt *events.NewRoundStarted) (bool, error) {
	c := s.circle
	if !c.Started() {
		return false, fmt.Errorf("%s for circle %s: %w", s.header.Kind, c.ID, ErrCircleNotStarted)
	}

	next := c.CurrentRoundNumber + 1
	round, err := s.tx.GetRound(ctx, c.ID, next)
	switch {
	case db.IsNotFound(err):
		s.logger.Warn("Advancing past the published round schedule",
			zap.Uint32("round", next),
			zap.String("new_recipient", evt.NewRecipient))
	case err != nil:
		return false, err
	case round.Recipient != evt.NewRecipient:
		s.logger.Warn("New recipient differs from the round schedule",
			zap.Uint32("round", next),
			zap.String("scheduled_recipient", round.Recipient),
			zap.String("new_recipient", evt.NewRecipient))
	}

	var previous int64
	if c.CurrentRoundPaymentCutoff != nil {
		previous = *c.CurrentRoundPaymentCutoff
	}
	cutoff, ok := addAmount(previous, evt.Interval)
	if !ok {
		return false, &IntegrityError{Kind: s.header.Kind, CircleID: c.ID, Account: evt.NewRecipient,
			Amount: evt.Interval, Balance: previous, Reason: "payment cutoff overflows"}
	}

	if _, err := ensureAccount(ctx, s, evt.NewRecipient); err != nil {
		return false, err
	}
	recipient := evt.NewRecipient
	c.CurrentRecipient = &recipient
	c.CurrentRoundNumber = next
	c.CurrentRoundPaymentCutoff = &cutoff
	c.UpdatedAt = s.at
	return true, s.tx.SaveCircle(ctx, c)
}

// roundFor finds the single round of the event's circle paying recipient.
func roundFor(ctx context.Context, s *step, recipient string) (*rosca.Round, error) {
	rounds, err := s.tx.FindRoundsByRecipient(ctx, s.header.CircleID, recipient)
	if err != nil {
		return nil, err
	}
	switch len(rounds) {
	case 0:
		return nil, orphan(s.header, entities.Rounds, s.header.CircleID+"/"+recipient)
	case 1:
		return rounds[0], nil
	default:
		return nil, fmt.Errorf("%w: circle %s has %d rounds for recipient %s",
			ErrAmbiguousRound, s.header.CircleID, len(rounds), recipient)
	}
}

func eligibilityFor(ctx context.Context, s *step, account string) (*rosca.Eligibility, error) {
	e, err := s.tx.GetEligibility(ctx, s.header.CircleID, account)
	if db.IsNotFound(err) {
		return nil, orphan(s.header, entities.Eligibilities, rosca.EligibilityID(s.header.CircleID, account))
	}
	return e, err
}

// ensureAccount creates the account on first reference and reports whether it did.
func ensureAccount(ctx context.Context, s *step, address string) (bool, error) {
	if address == "" {
		return false, nil
	}
	_, err := s.tx.GetAccount(ctx, address)
	if err == nil {
		return false, nil
	}
	if !db.IsNotFound(err) {
		return false, err
	}
	return true, s.tx.SaveAccount(ctx, &rosca.Account{ID: address, CreatedAt: s.at})
}

func ensureEligibility(ctx context.Context, s *step, account string) error {
	_, err := s.tx.GetEligibility(ctx, s.header.CircleID, account)
	if err == nil || !db.IsNotFound(err) {
		return err
	}
	return s.tx.SaveEligibility(ctx, &rosca.Eligibility{
		ID:        rosca.EligibilityID(s.header.CircleID, account),
		CircleID:  s.header.CircleID,
		AccountID: account,
	})
}

// addAmount adds two non-negative amounts, reporting false on overflow.
func addAmount(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
