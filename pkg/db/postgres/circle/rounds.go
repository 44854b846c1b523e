package circle

import (
	"context"
	"fmt"

	store "github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/entities"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
	"github.com/canopy-network/roscax/pkg/db/postgres"
	"github.com/jackc/pgx/v5"
)

const roundColumns = `id, circle_id, round_number, payment_cutoff, expected_contributors, recipient, defaulters, contributors`

const upsertRound = `
	INSERT INTO rounds (` + roundColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		payment_cutoff = EXCLUDED.payment_cutoff,
		expected_contributors = EXCLUDED.expected_contributors,
		recipient = EXCLUDED.recipient,
		defaulters = EXCLUDED.defaulters,
		contributors = EXCLUDED.contributors
`

func scanRound(row pgx.Row) (*rosca.Round, error) {
	var (
		r      rosca.Round
		number int64
	)
	if err := row.Scan(&r.ID, &r.CircleID, &number, &r.PaymentCutoff, &r.ExpectedContributors, &r.Recipient, &r.Defaulters, &r.Contributors); err != nil {
		return nil, err
	}
	r.RoundNumber = uint32(number)
	return &r, nil
}

func roundArgs(r *rosca.Round) []any {
	return []any{
		r.ID, r.CircleID, int64(r.RoundNumber), r.PaymentCutoff,
		nonNil(r.ExpectedContributors), r.Recipient, nonNil(r.Defaulters), nonNil(r.Contributors),
	}
}

// GetRound retrieves a round by circle and number
func (db *DB) GetRound(ctx context.Context, circleID string, roundNumber uint32) (*rosca.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE circle_id = $1 AND round_number = $2`

	r, err := scanRound(db.GetExecutor(ctx).QueryRow(ctx, query, circleID, int64(roundNumber)))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, store.NotFound(entities.Rounds, rosca.RoundID(circleID, roundNumber))
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return r, nil
}

// FindRoundsByRecipient returns every round of the circle paying out to recipient
func (db *DB) FindRoundsByRecipient(ctx context.Context, circleID, recipient string) ([]*rosca.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE circle_id = $1 AND recipient = $2 ORDER BY round_number`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, circleID, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds by recipient: %w", err)
	}
	defer rows.Close()

	var out []*rosca.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRounds returns the circle's rounds ordered by round number
func (db *DB) ListRounds(ctx context.Context, circleID string) ([]rosca.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE circle_id = $1 ORDER BY round_number ASC`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, circleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	out := []rosca.Round{}
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SaveRound upserts a single round
func (db *DB) SaveRound(ctx context.Context, r *rosca.Round) error {
	if err := db.Exec(ctx, upsertRound, roundArgs(r)...); err != nil {
		return fmt.Errorf("failed to save round %s: %w", r.ID, err)
	}
	return nil
}

// SaveRounds upserts rounds in one batch round trip
func (db *DB) SaveRounds(ctx context.Context, rounds []*rosca.Round) error {
	if len(rounds) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rounds {
		batch.Queue(upsertRound, roundArgs(r)...)
	}

	br := db.GetExecutor(ctx).SendBatch(ctx, batch)
	for _, r := range rounds {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to save round %s: %w", r.ID, err)
		}
	}
	return br.Close()
}
