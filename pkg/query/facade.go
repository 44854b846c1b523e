// Package query is the read side of the projection. Nothing here writes to the store.
package query

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/entities"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// CircleView is a circle with its derived status.
type CircleView struct {
	rosca.Circle
	Status rosca.Status `json:"status"`
}

func viewOf(c rosca.Circle) CircleView {
	return CircleView{Circle: c, Status: c.Status()}
}

// Participant is one invited account of a circle.
type Participant struct {
	Account          string     `json:"account"`
	Joined           bool       `json:"joined"`
	JoinedAt         *time.Time `json:"joined_at,omitempty"`
	Creator          bool       `json:"creator"`
	CurrentRecipient bool       `json:"current_recipient"`
}

// AccountCircle is a circle seen from one invited account.
type AccountCircle struct {
	CircleView
	Joined   bool       `json:"joined"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
}

type Facade struct {
	store db.Reader
}

func New(store db.Reader) *Facade {
	return &Facade{store: store}
}

// GetCircle returns an error matching db.ErrNotFound when the id is unknown or not a circle id.
func (f *Facade) GetCircle(ctx context.Context, id string) (*CircleView, error) {
	if _, err := strconv.ParseUint(id, 10, 32); err != nil {
		return nil, db.NotFound(entities.Circles, id)
	}
	c, err := f.store.GetCircle(ctx, id)
	if err != nil {
		return nil, err
	}
	v := viewOf(*c)
	return &v, nil
}

// ListCircles pages circles by chain id. cursor is exclusive; 0 starts from the beginning.
func (f *Facade) ListCircles(ctx context.Context, cursor uint64, limit int, sortDesc bool) ([]CircleView, error) {
	circles, err := f.store.ListCircles(ctx, cursor, clampLimit(limit), sortDesc)
	if err != nil {
		return nil, fmt.Errorf("list circles: %w", err)
	}
	return views(circles), nil
}

// ListRounds returns the rotation schedule ordered by round number.
func (f *Facade) ListRounds(ctx context.Context, circleID string) ([]rosca.Round, error) {
	if _, err := f.GetCircle(ctx, circleID); err != nil {
		return nil, err
	}
	return f.store.ListRounds(ctx, circleID)
}

func (f *Facade) ListSecurityDeposits(ctx context.Context, circleID string) ([]rosca.SecurityDeposit, error) {
	if _, err := f.GetCircle(ctx, circleID); err != nil {
		return nil, err
	}
	return f.store.ListSecurityDeposits(ctx, circleID)
}

// ListParticipants returns the invited accounts in invitation order with their join status.
func (f *Facade) ListParticipants(ctx context.Context, circleID string) ([]Participant, error) {
	c, err := f.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	eligibilities, err := f.store.ListEligibilities(ctx, circleID)
	if err != nil {
		return nil, fmt.Errorf("list eligibilities of circle %s: %w", circleID, err)
	}
	joined := make(map[string]*time.Time, len(eligibilities))
	for _, e := range eligibilities {
		joined[e.AccountID] = e.JoinedAt
	}

	out := make([]Participant, 0, len(c.EligibleParticipants))
	for _, account := range c.EligibleParticipants {
		at := joined[account]
		out = append(out, Participant{
			Account:          account,
			Joined:           at != nil,
			JoinedAt:         at,
			Creator:          account == c.Creator,
			CurrentRecipient: c.CurrentRecipient != nil && *c.CurrentRecipient == account,
		})
	}
	return out, nil
}

// ListCirclesForAccount returns every circle the account is invited to, by chain id.
func (f *Facade) ListCirclesForAccount(ctx context.Context, account string) ([]AccountCircle, error) {
	circles, err := f.store.ListCirclesByAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("list circles of %s: %w", account, err)
	}
	eligibilities, err := f.store.ListEligibilitiesByAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("list eligibilities of %s: %w", account, err)
	}
	joined := make(map[string]*time.Time, len(eligibilities))
	for _, e := range eligibilities {
		joined[e.CircleID] = e.JoinedAt
	}

	out := make([]AccountCircle, 0, len(circles))
	for _, c := range circles {
		at := joined[c.ID]
		out = append(out, AccountCircle{CircleView: viewOf(c), Joined: at != nil, JoinedAt: at})
	}
	return out, nil
}

func views(circles []rosca.Circle) []CircleView {
	out := make([]CircleView, 0, len(circles))
	for _, c := range circles {
		out = append(out, viewOf(c))
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
