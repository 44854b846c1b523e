package memory

import (
	"context"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/entities"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
)

// transaction operates on a private clone of the store state.
// Values are copied in and out so callers never alias transaction state.
// committed is the store's ledger, read only while the store lock is held.
type transaction struct {
	state     state
	committed map[string]*rosca.ProcessedEvent
	marked    map[string]*rosca.ProcessedEvent
}

var _ db.Tx = (*transaction)(nil)

// LockCircle is a no-op: RunInTx already holds the store lock.
func (t *transaction) LockCircle(ctx context.Context, circleID string) error {
	return nil
}

func (t *transaction) GetCircle(ctx context.Context, id string) (*rosca.Circle, error) {
	c, ok := t.state.circles[id]
	if !ok {
		return nil, db.NotFound(entities.Circles, id)
	}
	return c.Clone(), nil
}

func (t *transaction) SaveCircle(ctx context.Context, c *rosca.Circle) error {
	t.state.circles[c.ID] = c.Clone()
	return nil
}

func (t *transaction) GetAccount(ctx context.Context, id string) (*rosca.Account, error) {
	a, ok := t.state.accounts[id]
	if !ok {
		return nil, db.NotFound(entities.Accounts, id)
	}
	out := *a
	return &out, nil
}

func (t *transaction) SaveAccount(ctx context.Context, a *rosca.Account) error {
	cp := *a
	t.state.accounts[a.ID] = &cp
	return nil
}

func (t *transaction) GetEligibility(ctx context.Context, circleID, account string) (*rosca.Eligibility, error) {
	id := rosca.EligibilityID(circleID, account)
	e, ok := t.state.eligibilities[id]
	if !ok {
		return nil, db.NotFound(entities.Eligibilities, id)
	}
	return e.Clone(), nil
}

func (t *transaction) SaveEligibility(ctx context.Context, e *rosca.Eligibility) error {
	t.state.eligibilities[e.ID] = e.Clone()
	return nil
}

func (t *transaction) GetRound(ctx context.Context, circleID string, roundNumber uint32) (*rosca.Round, error) {
	id := rosca.RoundID(circleID, roundNumber)
	r, ok := t.state.rounds[id]
	if !ok {
		return nil, db.NotFound(entities.Rounds, id)
	}
	return r.Clone(), nil
}

func (t *transaction) FindRoundsByRecipient(ctx context.Context, circleID, recipient string) ([]*rosca.Round, error) {
	var out []*rosca.Round
	for _, r := range t.state.rounds {
		if r.CircleID == circleID && r.Recipient == recipient {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (t *transaction) SaveRound(ctx context.Context, r *rosca.Round) error {
	t.state.rounds[r.ID] = r.Clone()
	return nil
}

func (t *transaction) SaveRounds(ctx context.Context, rounds []*rosca.Round) error {
	for _, r := range rounds {
		t.state.rounds[r.ID] = r.Clone()
	}
	return nil
}

func (t *transaction) GetSecurityDeposit(ctx context.Context, circleID, depositor string) (*rosca.SecurityDeposit, error) {
	id := rosca.SecurityDepositID(circleID, depositor)
	d, ok := t.state.deposits[id]
	if !ok {
		return nil, db.NotFound(entities.SecurityDeposits, id)
	}
	out := *d
	return &out, nil
}

func (t *transaction) SaveSecurityDeposit(ctx context.Context, d *rosca.SecurityDeposit) error {
	cp := *d
	t.state.deposits[d.ID] = &cp
	return nil
}

func (t *transaction) DeleteSecurityDeposit(ctx context.Context, circleID, depositor string) error {
	id := rosca.SecurityDepositID(circleID, depositor)
	if _, ok := t.state.deposits[id]; !ok {
		return db.NotFound(entities.SecurityDeposits, id)
	}
	delete(t.state.deposits, id)
	return nil
}

func (t *transaction) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if _, ok := t.marked[eventID]; ok {
		return true, nil
	}
	_, ok := t.committed[eventID]
	return ok, nil
}

func (t *transaction) MarkProcessed(ctx context.Context, p *rosca.ProcessedEvent) error {
	cp := *p
	if t.marked == nil {
		t.marked = map[string]*rosca.ProcessedEvent{}
	}
	t.marked[p.EventID] = &cp
	return nil
}
