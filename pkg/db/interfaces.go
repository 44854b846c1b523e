package db

import (
	"context"

	"github.com/canopy-network/roscax/pkg/db/models/rosca"
)

// Reader is the read side used by the query facade and the deposit audit.
// Implementations return errors matching ErrNotFound for missing rows.
type Reader interface {
	GetCircle(ctx context.Context, id string) (*rosca.Circle, error)
	// ListCircles pages by chain id. cursor 0 starts at the first (asc) or last (desc) circle.
	ListCircles(ctx context.Context, cursor uint64, limit int, sortDesc bool) ([]rosca.Circle, error)
	ListCirclesByAccount(ctx context.Context, account string) ([]rosca.Circle, error)
	ListRounds(ctx context.Context, circleID string) ([]rosca.Round, error)
	ListSecurityDeposits(ctx context.Context, circleID string) ([]rosca.SecurityDeposit, error)
	ListEligibilities(ctx context.Context, circleID string) ([]rosca.Eligibility, error)
	ListEligibilitiesByAccount(ctx context.Context, account string) ([]rosca.Eligibility, error)
	GetAccount(ctx context.Context, id string) (*rosca.Account, error)
}

// Tx is the write surface available inside Store.RunInTx. Reads observe the transaction's own writes.
type Tx interface {
	// LockCircle serializes writers of one circle for the rest of the transaction.
	LockCircle(ctx context.Context, circleID string) error

	GetCircle(ctx context.Context, id string) (*rosca.Circle, error)
	SaveCircle(ctx context.Context, c *rosca.Circle) error

	GetAccount(ctx context.Context, id string) (*rosca.Account, error)
	SaveAccount(ctx context.Context, a *rosca.Account) error

	GetEligibility(ctx context.Context, circleID, account string) (*rosca.Eligibility, error)
	SaveEligibility(ctx context.Context, e *rosca.Eligibility) error

	GetRound(ctx context.Context, circleID string, roundNumber uint32) (*rosca.Round, error)
	FindRoundsByRecipient(ctx context.Context, circleID, recipient string) ([]*rosca.Round, error)
	SaveRound(ctx context.Context, r *rosca.Round) error
	SaveRounds(ctx context.Context, rounds []*rosca.Round) error

	GetSecurityDeposit(ctx context.Context, circleID, depositor string) (*rosca.SecurityDeposit, error)
	SaveSecurityDeposit(ctx context.Context, d *rosca.SecurityDeposit) error
	DeleteSecurityDeposit(ctx context.Context, circleID, depositor string) error

	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, p *rosca.ProcessedEvent) error
}

// Store is the entity store the projection engine writes through.
type Store interface {
	Reader
	// RunInTx runs fn in a single transaction. A non-nil return rolls back every write made through tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
