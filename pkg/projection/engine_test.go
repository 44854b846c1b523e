package projection

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/entities"
	"github.com/canopy-network/roscax/pkg/db/memory"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
	"github.com/canopy-network/roscax/pkg/events"
	"github.com/canopy-network/roscax/pkg/retry"
)

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"
	week  = int64(604800)
	t0    = int64(1_700_000_000)
)

var eventTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{
		WithRetry(retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}),
		WithClock(func() time.Time { return eventTime }),
	}, opts...)
	return New(store, zaptest.NewLogger(t), opts...), store
}

var seq atomic.Int64

func header(circle uint32, kind events.Kind) events.Header {
	return events.Header{
		EventID:   "evt-" + strconv.FormatInt(seq.Add(1), 10),
		CircleID:  rosca.CircleKey(circle),
		ChainID:   circle,
		Kind:      kind,
		Timestamp: eventTime,
	}
}

func created(circle uint32, participants ...string) *events.CircleCreated {
	return &events.CircleCreated{
		Header:                header(circle, events.KindCircleCreated),
		ContributionAmount:    1000,
		ContributionFrequency: week,
		Name:                  "circle " + rosca.CircleKey(circle),
		TotalParticipants:     uint32(len(participants)),
		MinParticipants:       2,
		StartTimestamp:        t0,
		EligibleParticipants:  participants,
		Creator:               alice,
	}
}

func started(circle uint32, recipients ...string) *events.CircleStarted {
	rounds := make([]events.RoundInfo, 0, len(recipients))
	for i, r := range recipients {
		rounds = append(rounds, events.RoundInfo{
			RoundNumber:   uint32(i + 1),
			PaymentCutoff: t0 + int64(i)*week,
			Recipient:     r,
		})
	}
	return &events.CircleStarted{
		Header:        header(circle, events.KindCircleStarted),
		StartedBy:     alice,
		FirstClaimant: recipients[0],
		PaymentCutoff: t0,
		Rounds:        rounds,
	}
}

func contribution(circle uint32, contributor, recipient string) *events.ContributionMade {
	return &events.ContributionMade{Header: header(circle, events.KindContributionMade), Contributor: contributor, Recipient: recipient, Amount: 1000}
}

func deposit(circle uint32, depositor string, amount int64) *events.SecurityDepositContribution {
	return &events.SecurityDepositContribution{Header: header(circle, events.KindSecurityDepositContribution), Depositor: depositor, Amount: amount}
}

func claim(circle uint32, depositor string, amount int64) *events.SecurityDepositClaimed {
	return &events.SecurityDepositClaimed{Header: header(circle, events.KindSecurityDepositClaimed), Depositor: depositor, Amount: amount}
}

func newRound(circle uint32, recipient string) *events.NewRoundStarted {
	return &events.NewRoundStarted{Header: header(circle, events.KindNewRoundStarted), NewRecipient: recipient, Interval: week}
}

func apply(t *testing.T, e *Engine, evt events.Event) Outcome {
	t.Helper()
	outcome, err := e.Apply(context.Background(), evt)
	if outcome == OutcomeApplied || outcome == OutcomeIgnored || outcome == OutcomeDuplicate {
		require.NoError(t, err)
	}
	return outcome
}

func mustApply(t *testing.T, e *Engine, evts ...events.Event) {
	t.Helper()
	for _, evt := range evts {
		require.Equal(t, OutcomeApplied, apply(t, e, evt), "%s", evt.EventHeader().Kind)
	}
}

func circleOf(t *testing.T, s db.Reader, circle uint32) *rosca.Circle {
	t.Helper()
	c, err := s.GetCircle(context.Background(), rosca.CircleKey(circle))
	require.NoError(t, err)
	return c
}

func roundsOf(t *testing.T, s db.Reader, circle uint32) []rosca.Round {
	t.Helper()
	rounds, err := s.ListRounds(context.Background(), rosca.CircleKey(circle))
	require.NoError(t, err)
	return rounds
}

func TestCreateCircle(t *testing.T) {
	e, store := newEngine(t)
	mustApply(t, e, created(1, alice, bob, carol))

	c := circleOf(t, store, 1)
	assert.Equal(t, "1", c.ID)
	assert.False(t, c.Completed)
	assert.Zero(t, c.CurrentRoundNumber)
	assert.Nil(t, c.CurrentRecipient)
	assert.Equal(t, []string{alice, bob, carol}, c.EligibleParticipants)
	assert.Equal(t, rosca.StatusPending, c.Status())

	eligible, err := store.ListEligibilities(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, eligible, 3)
	for _, el := range eligible {
		assert.False(t, el.Joined())
		_, err := store.GetAccount(context.Background(), el.AccountID)
		assert.NoError(t, err)
	}
}

func TestCreateCircleDuplicateIsIgnored(t *testing.T) {
	e, store := newEngine(t)
	mustApply(t, e, created(1, alice, bob))

	again := created(1, carol)
	again.Name = "renamed"
	assert.Equal(t, OutcomeIgnored, apply(t, e, again))

	c := circleOf(t, store, 1)
	assert.Equal(t, "circle 1", c.Name)
	assert.Equal(t, []string{alice, bob}, c.EligibleParticipants)
	_, err := store.GetAccount(context.Background(), carol)
	assert.True(t, db.IsNotFound(err))
}

func TestStartWithoutCreateIsOrphan(t *testing.T) {
	e, store := newEngine(t)

	outcome, err := e.Apply(context.Background(), started(9, alice, bob))
	assert.Equal(t, OutcomeSkipped, outcome)
	var orphanErr *OrphanError
	require.ErrorAs(t, err, &orphanErr)
	assert.Equal(t, entities.Circles, orphanErr.Entity)

	_, err = store.GetCircle(context.Background(), "9")
	assert.True(t, db.IsNotFound(err))
	assert.Empty(t, roundsOf(t, store, 9))
}

// Create C1 [A,B,C]; start with rounds A,B; B pays A; rotate to B.
func TestCircleScenario(t *testing.T) {
	e, store := newEngine(t)
	mustApply(t, e,
		created(1, alice, bob, carol),
		started(1, alice, bob),
		contribution(1, bob, alice),
	)

	rounds := roundsOf(t, store, 1)
	require.Len(t, rounds, 2)
	assert.Equal(t, []string{bob}, rounds[0].Contributors)
	assert.Equal(t, []string{bob, carol}, rounds[0].ExpectedContributors)
	assert.Equal(t, []string{alice, carol}, rounds[1].ExpectedContributors)

	c := circleOf(t, store, 1)
	assert.Equal(t, rosca.StatusActive, c.Status())
	assert.Equal(t, alice, *c.CurrentRecipient)
	assert.Equal(t, alice, *c.StartedBy)

	mustApply(t, e, newRound(1, bob))
	c = circleOf(t, store, 1)
	assert.Equal(t, bob, *c.CurrentRecipient)
	assert.Equal(t, uint32(2), c.CurrentRoundNumber)
	assert.Equal(t, t0+week, *c.CurrentRoundPaymentCutoff)
}

func TestRoundSequencing(t *testing.T) {
	e, store := newEngine(t)
	recipients := []string{alice, bob, carol, "dave", "erin"}
	mustApply(t, e, created(2, recipients...), started(2, recipients...))

	for _, r := range recipients[1:] {
		mustApply(t, e, newRound(2, r))
	}

	c := circleOf(t, store, 2)
	assert.Equal(t, uint32(len(recipients)), c.CurrentRoundNumber)
	assert.Equal(t, t0+int64(len(recipients)-1)*week, *c.CurrentRoundPaymentCutoff)
	for i, r := range roundsOf(t, store, 2) {
		assert.Equal(t, uint32(i+1), r.RoundNumber)
	}
}

func TestNewRoundBeforeStartIsSkipped(t *testing.T) {
	e, store := newEngine(t)
	mustApply(t, e, created(1, alice, bob))

	outcome, err := e.Apply(context.Background(), newRound(1, bob))
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.ErrorIs(t, err, ErrCircleNotStarted)
	assert.Zero(t, circleOf(t, store, 1).CurrentRoundNumber)
}

func TestNewRoundOffScheduleStillAdvances(t *testing.T) {
	e, store := newEngine(t)
	mustApply(t, e, created(1, alice, bob, carol), started(1, alice, bob))

	// round 2 is scheduled for bob
	mustApply(t, e, newRound(1, carol))
	c := circleOf(t, store, 1)
	assert.Equal(t, uint32(2), c.CurrentRoundNumber)
	require.NotNil(t, c.CurrentRecipient)
	assert.Equal(t, carol, *c.CurrentRecipient)

	// no round 3 was published
	mustApply(t, e, newRound(1, alice))
	c = circleOf(t, store, 1)
	assert.Equal(t, uint32(3), c.CurrentRoundNumber)
	assert.Equal(t, alice, *c.CurrentRecipient)
	assert.Equal(t, t0+2*week, *c.CurrentRoundPaymentCutoff)
}

func TestSetsNeverDuplicate(t *testing.T) {
	e, store := newEngine(t)
	mustApply(t, e, created(1, alice, bob, carol), started(1, alice, bob))

	for i := 0; i < 3; i++ {
		apply(t, e, contribution(1, bob, alice))
		apply(t, e, &events.DepositDeducted{Header: header(1, events.KindDepositDeducted), Contributor: bob, Recipient: alice, Amount: 1000, Sufficient: true})
		apply(t, e, &events.ParticipantDefaulted{Header: header(1, events.KindParticipantDefaulted), Recipient: alice, Defaulter: carol})
	}

	r := roundsOf(t, store, 1)[0]
	assert.Equal(t, []string{bob}, r.Contributors)
	assert.Equal(t, []string{carol}, r.Defaulters)
}

func TestRoundLookupOrphan(t *testing.T) {
	e, _ := newEngine(t)
	mustApply(t, e, created(1, alice, bob), started(1, alice, bob))

	outcome, err := e.Apply(context.Background(), contribution(1, alice, "zed"))
	assert.Equal(t, OutcomeSkipped, outcome)
	var orphanErr *OrphanError
	require.ErrorAs(t, err, &orphanErr)
	assert.Equal(t, entities.Rounds, orphanErr.Entity)
}

func TestAmbiguousRoundIsRejected(t *testing.T) {
	e, _ := newEngine(t)
	mustApply(t, e, created(1, alice, bob), started(1, alice, alice))

	outcome, err := e.Apply(context.Background(), contribution(1, bob, alice))
	assert.Equal(t, OutcomeRejected, outcome)
	assert.ErrorIs(t, err, ErrAmbiguousRound)
}

func TestJoinAndLeave(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	mustApply(t, e, created(1, alice, bob))

	mustApply(t, e, &events.ParticipantJoined{Header: header(1, events.KindParticipantJoined), Account: bob})
	el, err := store.ListEligibilitiesByAccount(ctx, bob)
	require.NoError(t, err)
	require.Len(t, el, 1)
	require.NotNil(t, el[0].JoinedAt)
	assert.True(t, el[0].JoinedAt.Equal(eventTime))

	mustApply(t, e, &events.ParticipantLeft{Header: header(1, events.KindParticipantLeft), Account: bob})
	el, err = store.ListEligibilitiesByAccount(ctx, bob)
	require.NoError(t, err)
	require.Len(t, el, 1, "leaving keeps the eligibility")
	assert.Nil(t, el[0].JoinedAt)

	// rejoin
	mustApply(t, e, &events.ParticipantJoined{Header: header(1, events.KindParticipantJoined), Account: bob})

	outcome, err := e.Apply(ctx, &events.ParticipantJoined{Header: header(1, events.KindParticipantJoined), Account: "stranger"})
	assert.Equal(t, OutcomeSkipped, outcome)
	var orphanErr *OrphanError
	require.ErrorAs(t, err, &orphanErr)
	assert.Equal(t, entities.Eligibilities, orphanErr.Entity)

	outcome, _ = e.Apply(ctx, &events.ParticipantLeft{Header: header(1, events.KindParticipantLeft), Account: "stranger"})
	assert.Equal(t, OutcomeSkipped, outcome)
}

// Deposit 500 then 300, claim 800, then a stray claim of 100.
func TestDepositScenario(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	mustApply(t, e, created(1, alice, bob), deposit(1, alice, 500), deposit(1, alice, 300))

	deposits, err := store.ListSecurityDeposits(ctx, "1")
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, int64(800), deposits[0].Amount)
	assert.Equal(t, int64(800), circleOf(t, store, 1).TotalSecurityDeposits)

	mustApply(t, e, claim(1, alice, 800))
	deposits, err = store.ListSecurityDeposits(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, deposits)
	assert.Zero(t, circleOf(t, store, 1).TotalSecurityDeposits)

	outcome, err := e.Apply(ctx, claim(1, alice, 100))
	assert.Equal(t, OutcomeSkipped, outcome)
	var orphanErr *OrphanError
	require.ErrorAs(t, err, &orphanErr)
	assert.Equal(t, entities.SecurityDeposits, orphanErr.Entity)
}

func TestClaimMismatchIsRejected(t *testing.T) {
	e, store := newEngine(t)
	mustApply(t, e, created(1, alice, bob), deposit(1, alice, 500), deposit(1, bob, 200))

	outcome, err := e.Apply(context.Background(), claim(1, alice, 400))
	assert.Equal(t, OutcomeRejected, outcome)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, int64(400), integrity.Amount)
	assert.Equal(t, int64(500), integrity.Balance)

	assert.Equal(t, int64(700), circleOf(t, store, 1).TotalSecurityDeposits)
	deposits, err := store.ListSecurityDeposits(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, deposits, 2)
}

func TestDepositConservation(t *testing.T) {
	e, store := newEngine(t)
	mustApply(t, e, created(1, alice, bob))

	steps := []struct {
		contribute int64
		claim      int64
	}{
		{contribute: 100},
		{contribute: 250},
		{claim: 350},
		{contribute: 40},
		{claim: 39},
		{contribute: 1},
	}
	var want int64
	for _, st := range steps {
		if st.contribute > 0 {
			mustApply(t, e, deposit(1, bob, st.contribute))
			want += st.contribute
			continue
		}
		outcome := apply(t, e, claim(1, bob, st.claim))
		if st.claim == want {
			require.Equal(t, OutcomeApplied, outcome)
			want = 0
		} else {
			require.Equal(t, OutcomeRejected, outcome)
		}
	}

	d, err := store.ListSecurityDeposits(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, d, 1)
	assert.Equal(t, want, d[0].Amount)
	assert.Equal(t, want, circleOf(t, store, 1).TotalSecurityDeposits)
}

func TestDepositRequiresAccount(t *testing.T) {
	e, store := newEngine(t)
	mustApply(t, e, created(1, alice, bob))

	outcome, err := e.Apply(context.Background(), deposit(1, "nobody", 10))
	assert.Equal(t, OutcomeSkipped, outcome)
	var orphanErr *OrphanError
	require.ErrorAs(t, err, &orphanErr)
	assert.Equal(t, entities.Accounts, orphanErr.Entity)
	assert.Zero(t, circleOf(t, store, 1).TotalSecurityDeposits)
}

func TestCompletedCircleIsTerminal(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	mustApply(t, e,
		created(1, alice, bob),
		started(1, alice, bob),
		deposit(1, bob, 50),
		&events.CircleCompleted{Header: header(1, events.KindCircleCompleted)},
	)
	assert.Equal(t, rosca.StatusCompleted, circleOf(t, store, 1).Status())

	assert.Equal(t, OutcomeIgnored, apply(t, e, &events.CircleCompleted{Header: header(1, events.KindCircleCompleted)}))

	for _, evt := range []events.Event{
		newRound(1, bob),
		deposit(1, bob, 10),
		&events.ParticipantJoined{Header: header(1, events.KindParticipantJoined), Account: bob},
	} {
		outcome, err := e.Apply(ctx, evt)
		assert.Equal(t, OutcomeSkipped, outcome)
		assert.ErrorIs(t, err, ErrCircleCompleted)
	}
	c := circleOf(t, store, 1)
	assert.Equal(t, uint32(1), c.CurrentRoundNumber)
	assert.Equal(t, int64(50), c.TotalSecurityDeposits)

	// deposits are returned after completion
	mustApply(t, e, claim(1, bob, 50))
	assert.Zero(t, circleOf(t, store, 1).TotalSecurityDeposits)
}

func TestIdempotencyForEveryKind(t *testing.T) {
	setup := func(t *testing.T) (*Engine, *memory.Store) {
		e, store := newEngine(t)
		mustApply(t, e,
			created(1, alice, bob, carol),
			started(1, alice, bob, carol),
			&events.ParticipantJoined{Header: header(1, events.KindParticipantJoined), Account: bob},
			deposit(1, bob, 300),
		)
		return e, store
	}
	cases := map[events.Kind]events.Event{
		events.KindCircleCreated:               created(1, alice),
		events.KindCircleStarted:               started(1, bob, alice),
		events.KindParticipantDefaulted:        &events.ParticipantDefaulted{Header: header(1, events.KindParticipantDefaulted), Recipient: alice, Defaulter: carol},
		events.KindContributionMade:            contribution(1, bob, alice),
		events.KindDepositDeducted:             &events.DepositDeducted{Header: header(1, events.KindDepositDeducted), Contributor: carol, Recipient: alice, Amount: 1000, Sufficient: true},
		events.KindParticipantJoined:           &events.ParticipantJoined{Header: header(1, events.KindParticipantJoined), Account: carol},
		events.KindParticipantLeft:             &events.ParticipantLeft{Header: header(1, events.KindParticipantLeft), Account: bob},
		events.KindCircleCompleted:             &events.CircleCompleted{Header: header(1, events.KindCircleCompleted)},
		events.KindSecurityDepositContribution: deposit(1, bob, 200),
		events.KindSecurityDepositClaimed:      claim(1, bob, 300),
		events.KindNewRoundStarted:             newRound(1, bob),
	}
	require.Len(t, cases, len(events.AllKinds()))

	for kind, evt := range cases {
		t.Run(string(kind), func(t *testing.T) {
			once, onceStore := setup(t)
			twice, twiceStore := setup(t)

			first := apply(t, once, evt)
			if kind == events.KindParticipantLeft {
				require.Equal(t, OutcomeApplied, first, "bob joined during setup, so leaving changes state")
			}
			apply(t, twice, evt)
			assert.Equal(t, OutcomeDuplicate, apply(t, twice, evt))

			assert.Equal(t, snapshot(t, onceStore), snapshot(t, twiceStore))
		})
	}
}

type storeSnapshot struct {
	Circle        *rosca.Circle
	Rounds        []rosca.Round
	Deposits      []rosca.SecurityDeposit
	Eligibilities []rosca.Eligibility
}

func snapshot(t *testing.T, s db.Reader) storeSnapshot {
	t.Helper()
	ctx := context.Background()
	c, err := s.GetCircle(ctx, "1")
	require.NoError(t, err)
	rounds, err := s.ListRounds(ctx, "1")
	require.NoError(t, err)
	deposits, err := s.ListSecurityDeposits(ctx, "1")
	require.NoError(t, err)
	eligibilities, err := s.ListEligibilities(ctx, "1")
	require.NoError(t, err)
	return storeSnapshot{Circle: c, Rounds: rounds, Deposits: deposits, Eligibilities: eligibilities}
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) CircleUpdated(ctx context.Context, u Update) error {
	return m.Called(ctx, u).Error(0)
}

func TestNotifierOnlySeesAppliedEvents(t *testing.T) {
	n := &mockNotifier{}
	n.On("CircleUpdated", mock.Anything, mock.MatchedBy(func(u Update) bool { return u.CircleID == "1" })).
		Return(errors.New("redis down")).Twice()

	e, _ := newEngine(t, WithNotifier(n))
	evt := created(1, alice, bob)
	mustApply(t, e, evt)
	assert.Equal(t, OutcomeDuplicate, apply(t, e, evt))
	assert.Equal(t, OutcomeIgnored, apply(t, e, created(1, alice)))
	mustApply(t, e, deposit(1, alice, 10))

	n.AssertExpectations(t)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeApplied},
		{&events.DecodeError{Kind: "RoscaCreated", Reason: "bad"}, OutcomeSkipped},
		{events.ErrUnknownKind, OutcomeSkipped},
		{&OrphanError{Entity: entities.Circles}, OutcomeSkipped},
		{ErrCircleCompleted, OutcomeSkipped},
		{&IntegrityError{}, OutcomeRejected},
		{ErrAmbiguousRound, OutcomeRejected},
		{errors.New("connection reset"), OutcomeFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}
