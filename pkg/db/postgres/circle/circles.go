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

const circleColumns = `
	id, chain_id, name, creator, payment_asset, random_order, total_participants, min_participants,
	contribution_amount, contribution_frequency, start_timestamp, eligible_participants, completed,
	started_by, current_recipient, current_round_number, current_round_payment_cutoff,
	total_security_deposits, created_at, updated_at`

func scanCircle(row pgx.Row) (*rosca.Circle, error) {
	var (
		c                                     rosca.Circle
		chainID, total, minimum, currentRound int64
	)
	err := row.Scan(
		&c.ID, &chainID, &c.Name, &c.Creator, &c.PaymentAsset, &c.RandomOrder, &total, &minimum,
		&c.ContributionAmount, &c.ContributionFrequency, &c.StartTimestamp, &c.EligibleParticipants, &c.Completed,
		&c.StartedBy, &c.CurrentRecipient, &currentRound, &c.CurrentRoundPaymentCutoff,
		&c.TotalSecurityDeposits, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ChainID = uint32(chainID)
	c.TotalParticipants = uint32(total)
	c.MinParticipants = uint32(minimum)
	c.CurrentRoundNumber = uint32(currentRound)
	return &c, nil
}

func collectCircles(rows pgx.Rows) ([]rosca.Circle, error) {
	defer rows.Close()
	out := []rosca.Circle{}
	for rows.Next() {
		c, err := scanCircle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan circle: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCircle retrieves a circle by id
func (db *DB) GetCircle(ctx context.Context, id string) (*rosca.Circle, error) {
	query := `SELECT ` + circleColumns + ` FROM circles WHERE id = $1`

	c, err := scanCircle(db.GetExecutor(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, store.NotFound(entities.Circles, id)
		}
		return nil, fmt.Errorf("failed to get circle: %w", err)
	}
	return c, nil
}

// SaveCircle inserts or fully replaces a circle row
func (db *DB) SaveCircle(ctx context.Context, c *rosca.Circle) error {
	query := `
		INSERT INTO circles (` + circleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			creator = EXCLUDED.creator,
			payment_asset = EXCLUDED.payment_asset,
			random_order = EXCLUDED.random_order,
			total_participants = EXCLUDED.total_participants,
			min_participants = EXCLUDED.min_participants,
			contribution_amount = EXCLUDED.contribution_amount,
			contribution_frequency = EXCLUDED.contribution_frequency,
			start_timestamp = EXCLUDED.start_timestamp,
			eligible_participants = EXCLUDED.eligible_participants,
			completed = EXCLUDED.completed,
			started_by = EXCLUDED.started_by,
			current_recipient = EXCLUDED.current_recipient,
			current_round_number = EXCLUDED.current_round_number,
			current_round_payment_cutoff = EXCLUDED.current_round_payment_cutoff,
			total_security_deposits = EXCLUDED.total_security_deposits,
			updated_at = EXCLUDED.updated_at
	`
	err := db.Exec(ctx, query,
		c.ID, int64(c.ChainID), c.Name, c.Creator, c.PaymentAsset, c.RandomOrder,
		int64(c.TotalParticipants), int64(c.MinParticipants),
		c.ContributionAmount, c.ContributionFrequency, c.StartTimestamp, nonNil(c.EligibleParticipants), c.Completed,
		c.StartedBy, c.CurrentRecipient, int64(c.CurrentRoundNumber), c.CurrentRoundPaymentCutoff,
		c.TotalSecurityDeposits, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save circle %s: %w", c.ID, err)
	}
	return nil
}

// ListCircles pages circles by chain id
func (db *DB) ListCircles(ctx context.Context, cursor uint64, limit int, sortDesc bool) ([]rosca.Circle, error) {
	var query string
	args := []any{}

	switch {
	case sortDesc && cursor > 0:
		query = `SELECT ` + circleColumns + ` FROM circles WHERE chain_id < $1 ORDER BY chain_id DESC LIMIT $2`
		args = append(args, int64(cursor), limit)
	case sortDesc:
		query = `SELECT ` + circleColumns + ` FROM circles ORDER BY chain_id DESC LIMIT $1`
		args = append(args, limit)
	case cursor > 0:
		query = `SELECT ` + circleColumns + ` FROM circles WHERE chain_id > $1 ORDER BY chain_id ASC LIMIT $2`
		args = append(args, int64(cursor), limit)
	default:
		query = `SELECT ` + circleColumns + ` FROM circles ORDER BY chain_id ASC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := db.GetExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query circles: %w", err)
	}
	return collectCircles(rows)
}

// ListCirclesByAccount returns every circle the account was invited to
func (db *DB) ListCirclesByAccount(ctx context.Context, account string) ([]rosca.Circle, error) {
	query := `
		SELECT ` + prefixed("c", circleColumns) + `
		FROM circles c
		JOIN eligibilities e ON e.circle_id = c.id
		WHERE e.account_id = $1
		ORDER BY c.chain_id ASC
	`
	rows, err := db.GetExecutor(ctx).Query(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query circles for account: %w", err)
	}
	return collectCircles(rows)
}
