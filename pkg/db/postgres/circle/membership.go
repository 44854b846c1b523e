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

// GetAccount retrieves an account by address
func (db *DB) GetAccount(ctx context.Context, id string) (*rosca.Account, error) {
	var a rosca.Account
	err := db.GetExecutor(ctx).QueryRow(ctx, `SELECT id, created_at FROM accounts WHERE id = $1`, id).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, store.NotFound(entities.Accounts, id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// SaveAccount inserts the account, keeping the original creation time if it already exists
func (db *DB) SaveAccount(ctx context.Context, a *rosca.Account) error {
	query := `INSERT INTO accounts (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
	if err := db.Exec(ctx, query, a.ID, a.CreatedAt); err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.ID, err)
	}
	return nil
}

const eligibilityColumns = `id, circle_id, account_id, joined_at`

func scanEligibilities(rows pgx.Rows) ([]rosca.Eligibility, error) {
	defer rows.Close()
	out := []rosca.Eligibility{}
	for rows.Next() {
		var e rosca.Eligibility
		if err := rows.Scan(&e.ID, &e.CircleID, &e.AccountID, &e.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan eligibility: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEligibility retrieves the invitation of account to circleID
func (db *DB) GetEligibility(ctx context.Context, circleID, account string) (*rosca.Eligibility, error) {
	query := `SELECT ` + eligibilityColumns + ` FROM eligibilities WHERE circle_id = $1 AND account_id = $2`

	var e rosca.Eligibility
	err := db.GetExecutor(ctx).QueryRow(ctx, query, circleID, account).Scan(&e.ID, &e.CircleID, &e.AccountID, &e.JoinedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, store.NotFound(entities.Eligibilities, rosca.EligibilityID(circleID, account))
		}
		return nil, fmt.Errorf("failed to get eligibility: %w", err)
	}
	return &e, nil
}

// SaveEligibility upserts an eligibility row
func (db *DB) SaveEligibility(ctx context.Context, e *rosca.Eligibility) error {
	query := `
		INSERT INTO eligibilities (` + eligibilityColumns + `)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET joined_at = EXCLUDED.joined_at
	`
	if err := db.Exec(ctx, query, e.ID, e.CircleID, e.AccountID, e.JoinedAt); err != nil {
		return fmt.Errorf("failed to save eligibility %s: %w", e.ID, err)
	}
	return nil
}

// ListEligibilities returns the circle's invitations ordered by account
func (db *DB) ListEligibilities(ctx context.Context, circleID string) ([]rosca.Eligibility, error) {
	query := `SELECT ` + eligibilityColumns + ` FROM eligibilities WHERE circle_id = $1 ORDER BY account_id`
	rows, err := db.GetExecutor(ctx).Query(ctx, query, circleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligibilities: %w", err)
	}
	return scanEligibilities(rows)
}

// ListEligibilitiesByAccount returns every invitation held by account
func (db *DB) ListEligibilitiesByAccount(ctx context.Context, account string) ([]rosca.Eligibility, error) {
	query := `SELECT ` + eligibilityColumns + ` FROM eligibilities WHERE account_id = $1 ORDER BY circle_id`
	rows, err := db.GetExecutor(ctx).Query(ctx, query, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligibilities for account: %w", err)
	}
	return scanEligibilities(rows)
}
