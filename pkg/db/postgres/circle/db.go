package circle

import (
	"context"
	"fmt"
	"sync"
	"time"

	store "github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/postgres"
	"github.com/canopy-network/roscax/pkg/utils"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DB is the Postgres entity store for circle projections.
//
// Every query goes through GetExecutor, so the same methods serve both the read side and
// the transaction started by RunInTx.
type DB struct {
	postgres.Client
	Name string
}

var (
	_ store.Store = (*DB)(nil)
	_ store.Tx    = (*DB)(nil)
)

// New connects to POSTGRES_DB (default "roscax") and creates the projection tables.
func New(ctx context.Context, logger *zap.Logger, component string) (*DB, error) {
	name := utils.Env("POSTGRES_DB", "roscax")

	client, err := postgres.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", component),
	), name, postgres.GetPoolConfigForComponent(component))
	if err != nil {
		return nil, err
	}

	circleDB := &DB{Client: client, Name: name}
	if err := circleDB.InitializeDB(ctx); err != nil {
		circleDB.Pool.Close()
		return nil, err
	}

	return circleDB, nil
}

// InitializeDB creates all tables in parallel.
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"circles", db.initCircles},
		{"rounds", db.initRounds},
		{"accounts", db.initAccounts},
		{"eligibilities", db.initEligibilities},
		{"security_deposits", db.initSecurityDeposits},
		{"processed_events", db.initProcessedEvents},
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(initOps))

	for _, op := range initOps {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			db.Logger.Debug("Initializing table", zap.String("table", name))
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		return err
	}

	db.Logger.Info("Circle database initialized successfully",
		zap.String("database", db.Name),
		zap.Duration("duration", time.Since(initStart)))

	return nil
}

// RunInTx runs fn inside one Postgres transaction carried in the context.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return db.BeginFunc(ctx, func(tx pgx.Tx) error {
		return fn(db.WithTx(ctx, tx), db)
	})
}

// LockCircle takes a transaction-scoped advisory lock so two indexer replicas never
// interleave writes to the same circle.
func (db *DB) LockCircle(ctx context.Context, circleID string) error {
	return db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, circleID)
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}
