// Package memory is an in-process entity store. Each transaction works on a private copy of
// the state which replaces the committed state only when the transaction function succeeds.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/entities"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
)

type state struct {
	circles       map[string]*rosca.Circle
	rounds        map[string]*rosca.Round
	accounts      map[string]*rosca.Account
	eligibilities map[string]*rosca.Eligibility
	deposits      map[string]*rosca.SecurityDeposit
}

func newState() state {
	return state{
		circles:       map[string]*rosca.Circle{},
		rounds:        map[string]*rosca.Round{},
		accounts:      map[string]*rosca.Account{},
		eligibilities: map[string]*rosca.Eligibility{},
		deposits:      map[string]*rosca.SecurityDeposit{},
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.circles {
		out.circles[k] = v.Clone()
	}
	for k, v := range s.rounds {
		out.rounds[k] = v.Clone()
	}
	for k, v := range s.accounts {
		a := *v
		out.accounts[k] = &a
	}
	for k, v := range s.eligibilities {
		out.eligibilities[k] = v.Clone()
	}
	for k, v := range s.deposits {
		d := *v
		out.deposits[k] = &d
	}
	return out
}

// Store implements db.Store in memory.
// The processed-event ledger only grows, so it lives outside the cloned state and
// transactions record their marks separately until commit.
type Store struct {
	mu        sync.RWMutex
	state     state
	processed map[string]*rosca.ProcessedEvent
}

var _ db.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), processed: map[string]*rosca.ProcessedEvent{}}
}

// RunInTx serializes all transactions. The committed state is swapped only when fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx db.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone(), committed: s.processed}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	for id, p := range tx.marked {
		s.processed[id] = p
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) GetCircle(ctx context.Context, id string) (*rosca.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.circles[id]
	if !ok {
		return nil, db.NotFound(entities.Circles, id)
	}
	return c.Clone(), nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*rosca.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.accounts[id]
	if !ok {
		return nil, db.NotFound(entities.Accounts, id)
	}
	out := *a
	return &out, nil
}

func (s *Store) ListCircles(ctx context.Context, cursor uint64, limit int, sortDesc bool) ([]rosca.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rosca.Circle, 0, len(s.state.circles))
	for _, c := range s.state.circles {
		id := uint64(c.ChainID)
		if cursor > 0 {
			if sortDesc && id >= cursor {
				continue
			}
			if !sortDesc && id <= cursor {
				continue
			}
		}
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if sortDesc {
			return out[i].ChainID > out[j].ChainID
		}
		return out[i].ChainID < out[j].ChainID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListCirclesByAccount(ctx context.Context, account string) ([]rosca.Circle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []rosca.Circle{}
	for _, e := range s.state.eligibilities {
		if e.AccountID != account {
			continue
		}
		if c, ok := s.state.circles[e.CircleID]; ok {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out, nil
}

func (s *Store) ListRounds(ctx context.Context, circleID string) ([]rosca.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []rosca.Round{}
	for _, r := range s.state.rounds {
		if r.CircleID == circleID {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
	return out, nil
}

func (s *Store) ListSecurityDeposits(ctx context.Context, circleID string) ([]rosca.SecurityDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []rosca.SecurityDeposit{}
	for _, d := range s.state.deposits {
		if d.CircleID == circleID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepositorID < out[j].DepositorID })
	return out, nil
}

func (s *Store) ListEligibilities(ctx context.Context, circleID string) ([]rosca.Eligibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []rosca.Eligibility{}
	for _, e := range s.state.eligibilities {
		if e.CircleID == circleID {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (s *Store) ListEligibilitiesByAccount(ctx context.Context, account string) ([]rosca.Eligibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []rosca.Eligibility{}
	for _, e := range s.state.eligibilities {
		if e.AccountID == account {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CircleID < out[j].CircleID })
	return out, nil
}
