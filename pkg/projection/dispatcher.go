package projection

import (
	"context"
	"errors"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/events"
)

// Delivery is one raw feed entry as handed over by a transport. ID is the transport's handle for acknowledging it.
type Delivery struct {
	ID   string
	Data []byte
}

// Dispatcher fans a batch out over lanes keyed by circle id. Entries of one circle always land on
// the same lane and run in delivery order; lanes run concurrently on a shared pool.
type Dispatcher struct {
	engine *Engine
	logger *zap.Logger
	pool   pond.Pool
	lanes  int
}

func NewDispatcher(engine *Engine, logger *zap.Logger, lanes int) *Dispatcher {
	if lanes < 1 {
		lanes = 1
	}
	return &Dispatcher{
		engine: engine,
		logger: logger,
		pool:   pond.NewPool(lanes, pond.WithQueueSize(lanes*4)),
		lanes:  lanes,
	}
}

// Lane returns the lane a circle is pinned to.
func (d *Dispatcher) Lane(circleID string) int {
	return int(xxhash.Sum64String(circleID) % uint64(d.lanes))
}

// ProcessBatch runs every delivery and returns the IDs that reached a final outcome and can be
// acknowledged. When an entry fails, later entries of the same circle in this batch are held back
// so the circle is redelivered in order.
func (d *Dispatcher) ProcessBatch(ctx context.Context, batch []Delivery) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	d.engine.metrics.ObserveBatch(len(batch))

	type entry struct {
		delivery Delivery
		env      events.Envelope
		parseErr error
	}
	lanes := make([][]entry, d.lanes)
	for _, del := range batch {
		env, err := events.ParseEnvelope(del.Data)
		if err == nil {
			env.ID = firstNonEmpty(env.ID, del.ID)
		}
		lane := d.Lane(env.CircleID)
		lanes[lane] = append(lanes[lane], entry{delivery: del, env: env, parseErr: err})
	}

	var (
		mu    sync.Mutex
		acked = make([]string, 0, len(batch))
	)
	ack := func(id string) {
		mu.Lock()
		acked = append(acked, id)
		mu.Unlock()
	}

	group := d.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, entries := range lanes {
		if len(entries) == 0 {
			continue
		}
		group.Submit(func() {
			held := make(map[string]struct{})
			for _, en := range entries {
				if en.parseErr != nil {
					d.engine.report(Result{EventID: en.delivery.ID, Outcome: OutcomeSkipped, Err: en.parseErr}, nil, 0)
					ack(en.delivery.ID)
					continue
				}
				if _, ok := held[en.env.CircleID]; ok {
					continue
				}
				if groupCtx.Err() != nil {
					return
				}
				if _, err := d.engine.Process(groupCtx, en.env); err != nil {
					held[en.env.CircleID] = struct{}{}
					continue
				}
				ack(en.delivery.ID)
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		d.logger.Warn("Batch lane group encountered error", zap.Error(err))
	}
	return acked, ctx.Err()
}

// Close waits for running lanes and stops the pool.
func (d *Dispatcher) Close() {
	d.pool.StopAndWait()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
