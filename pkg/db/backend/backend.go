// Package backend opens the entity store selected by STORE_DRIVER.
package backend

import (
	"context"
	"fmt"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/memory"
	"github.com/canopy-network/roscax/pkg/db/postgres/circle"
	"github.com/canopy-network/roscax/pkg/utils"
	"go.uber.org/zap"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Open returns the configured store. component sizes the Postgres pool ("indexer", "query").
func Open(ctx context.Context, logger *zap.Logger, component string) (db.Store, error) {
	driver := utils.Env("STORE_DRIVER", DriverPostgres)

	switch driver {
	case DriverMemory:
		logger.Warn("Using in-memory store, projections are lost on restart")
		return memory.New(), nil
	case DriverPostgres:
		return circle.New(ctx, logger, component)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q, expected %q or %q", driver, DriverMemory, DriverPostgres)
	}
}
