package circle

import (
	"context"
	"fmt"

	store "github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/entities"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
	"github.com/canopy-network/roscax/pkg/db/postgres"
)

// GetSecurityDeposit retrieves the deposit held by depositor in circleID
func (db *DB) GetSecurityDeposit(ctx context.Context, circleID, depositor string) (*rosca.SecurityDeposit, error) {
	query := `SELECT id, circle_id, depositor_id, amount FROM security_deposits WHERE circle_id = $1 AND depositor_id = $2`

	var d rosca.SecurityDeposit
	err := db.GetExecutor(ctx).QueryRow(ctx, query, circleID, depositor).Scan(&d.ID, &d.CircleID, &d.DepositorID, &d.Amount)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, store.NotFound(entities.SecurityDeposits, rosca.SecurityDepositID(circleID, depositor))
		}
		return nil, fmt.Errorf("failed to get security deposit: %w", err)
	}
	return &d, nil
}

// SaveSecurityDeposit upserts a deposit balance
func (db *DB) SaveSecurityDeposit(ctx context.Context, d *rosca.SecurityDeposit) error {
	query := `
		INSERT INTO security_deposits (id, circle_id, depositor_id, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET amount = EXCLUDED.amount
	`
	if err := db.Exec(ctx, query, d.ID, d.CircleID, d.DepositorID, d.Amount); err != nil {
		return fmt.Errorf("failed to save security deposit %s: %w", d.ID, err)
	}
	return nil
}

// DeleteSecurityDeposit removes a fully claimed deposit
func (db *DB) DeleteSecurityDeposit(ctx context.Context, circleID, depositor string) error {
	tag, err := db.GetExecutor(ctx).Exec(ctx,
		`DELETE FROM security_deposits WHERE circle_id = $1 AND depositor_id = $2`, circleID, depositor)
	if err != nil {
		return fmt.Errorf("failed to delete security deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound(entities.SecurityDeposits, rosca.SecurityDepositID(circleID, depositor))
	}
	return nil
}

// ListSecurityDeposits returns the circle's deposits ordered by depositor
func (db *DB) ListSecurityDeposits(ctx context.Context, circleID string) ([]rosca.SecurityDeposit, error) {
	query := `SELECT id, circle_id, depositor_id, amount FROM security_deposits WHERE circle_id = $1 ORDER BY depositor_id`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, circleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query security deposits: %w", err)
	}
	defer rows.Close()

	out := []rosca.SecurityDeposit{}
	for rows.Next() {
		var d rosca.SecurityDeposit
		if err := rows.Scan(&d.ID, &d.CircleID, &d.DepositorID, &d.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan security deposit: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// IsProcessed reports whether the feed entry was already applied
func (db *DB) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := db.GetExecutor(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// MarkProcessed records the feed entry in the inbox ledger
func (db *DB) MarkProcessed(ctx context.Context, p *rosca.ProcessedEvent) error {
	query := `
		INSERT INTO processed_events (event_id, circle_id, kind, applied_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`
	if err := db.Exec(ctx, query, p.EventID, p.CircleID, p.Kind, p.AppliedAt); err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", p.EventID, err)
	}
	return nil
}
