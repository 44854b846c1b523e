package circle

import "context"

func (db *DB) initCircles(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS circles (
			id TEXT PRIMARY KEY,
			chain_id BIGINT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			creator TEXT NOT NULL,
			payment_asset TEXT NOT NULL DEFAULT '',
			random_order BOOLEAN NOT NULL DEFAULT FALSE,
			total_participants BIGINT NOT NULL,
			min_participants BIGINT NOT NULL,
			contribution_amount BIGINT NOT NULL,
			contribution_frequency BIGINT NOT NULL,
			start_timestamp BIGINT NOT NULL,
			eligible_participants TEXT[] NOT NULL DEFAULT '{}',
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			started_by TEXT,
			current_recipient TEXT,
			current_round_number BIGINT NOT NULL DEFAULT 0,
			current_round_payment_cutoff BIGINT,
			total_security_deposits BIGINT NOT NULL DEFAULT 0 CHECK (total_security_deposits >= 0),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_circles_creator ON circles(creator);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initRounds(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS rounds (
			id TEXT PRIMARY KEY,
			circle_id TEXT NOT NULL,
			round_number BIGINT NOT NULL CHECK (round_number > 0),
			payment_cutoff BIGINT NOT NULL,
			expected_contributors TEXT[] NOT NULL DEFAULT '{}',
			recipient TEXT NOT NULL,
			defaulters TEXT[] NOT NULL DEFAULT '{}',
			contributors TEXT[] NOT NULL DEFAULT '{}',
			UNIQUE (circle_id, round_number)
		);

		CREATE INDEX IF NOT EXISTS idx_rounds_circle_recipient ON rounds(circle_id, recipient);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initAccounts(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initEligibilities(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS eligibilities (
			id TEXT PRIMARY KEY,
			circle_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			joined_at TIMESTAMP WITH TIME ZONE,
			UNIQUE (circle_id, account_id)
		);

		CREATE INDEX IF NOT EXISTS idx_eligibilities_account ON eligibilities(account_id);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initSecurityDeposits(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS security_deposits (
			id TEXT PRIMARY KEY,
			circle_id TEXT NOT NULL,
			depositor_id TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount >= 0),
			UNIQUE (circle_id, depositor_id)
		);
	`
	return db.Exec(ctx, query)
}

func (db *DB) initProcessedEvents(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS processed_events (
			event_id TEXT PRIMARY KEY,
			circle_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_processed_events_circle ON processed_events(circle_id);
	`
	return db.Exec(ctx, query)
}
