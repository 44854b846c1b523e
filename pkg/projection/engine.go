// Package projection applies decoded circle events to the entity store.
//
// Every event runs in its own store transaction together with the processed-event check, so an
// event either lands completely or not at all, and a redelivered event is recognised and acknowledged
// without touching state. Events of one circle are serialized by a per-circle mutex in the engine and
// by a circle lock inside the transaction.
package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/entities"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
	"github.com/canopy-network/roscax/pkg/events"
	"github.com/canopy-network/roscax/pkg/metrics"
	"github.com/canopy-network/roscax/pkg/retry"
)

type Engine struct {
	store    db.Store
	logger   *zap.Logger
	metrics  *metrics.Projection
	notifier Notifier
	retry    retry.Config
	now      func() time.Time

	locks *xsync.Map[string, *sync.Mutex]
}

type Option func(*Engine)

func WithMetrics(m *metrics.Projection) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithRetry overrides the per-event retry budget used by Process.
func WithRetry(cfg retry.Config) Option {
	return func(e *Engine) { e.retry = cfg }
}

// WithClock sets the clock used for row timestamps when an event carries none.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store db.Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		logger:   logger,
		notifier: NopNotifier{},
		retry:    retry.EventConfig(),
		now:      time.Now,
		locks:    xsync.NewMap[string, *sync.Mutex](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is what happened to one feed entry.
type Result struct {
	EventID  string
	CircleID string
	Kind     string
	Outcome  Outcome
	Err      error
}

// Process decodes env and applies it, retrying store failures with backoff.
// Only OutcomeFailed is returned as an error; every other outcome means the entry can be acknowledged.
func (e *Engine) Process(ctx context.Context, env events.Envelope) (Result, error) {
	start := time.Now()
	res := Result{EventID: env.ID, CircleID: env.CircleID, Kind: env.Kind}

	evt, err := events.Decode(env)
	if err != nil {
		res.Outcome, res.Err = Classify(err), err
		e.report(res, nil, time.Since(start))
		return res, nil
	}
	h := evt.EventHeader()
	res.CircleID, res.Kind = h.CircleID, string(h.Kind)

	err = retry.WithBackoff(ctx, e.retry, e.logger, "apply "+res.Kind, func() error {
		outcome, err := e.Apply(ctx, evt)
		res.Outcome = outcome
		if err != nil && outcome.Final() {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		res.Outcome, res.Err = Classify(err), err
	}

	e.report(res, evt, time.Since(start))
	if res.Outcome == OutcomeFailed {
		return res, fmt.Errorf("event %s for circle %s: %w", res.EventID, res.CircleID, err)
	}
	return res, nil
}

// ProcessRaw parses one raw feed entry and processes it. id stands in for a missing envelope id.
// An entry that cannot be parsed is skipped.
func (e *Engine) ProcessRaw(ctx context.Context, id string, data []byte) (Result, error) {
	env, err := events.ParseEnvelope(data)
	if err != nil {
		res := Result{EventID: id, Outcome: OutcomeSkipped, Err: err}
		e.report(res, nil, 0)
		return res, nil
	}
	env.ID = firstNonEmpty(env.ID, id)
	return e.Process(ctx, env)
}

// Apply runs one event in a single store transaction. The returned error explains every outcome
// other than applied, duplicate and ignored.
func (e *Engine) Apply(ctx context.Context, evt events.Event) (Outcome, error) {
	h := evt.EventHeader()
	t, ok := transitions[h.Kind]
	if !ok {
		return OutcomeSkipped, fmt.Errorf("%w: %s", events.ErrUnknownKind, h.Kind)
	}

	unlock := e.lockCircle(h.CircleID)
	defer unlock()

	outcome := OutcomeApplied
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx db.Tx) error {
		if err := tx.LockCircle(ctx, h.CircleID); err != nil {
			return err
		}
		done, err := tx.IsProcessed(ctx, h.EventID)
		if err != nil {
			return err
		}
		if done {
			outcome = OutcomeDuplicate
			return nil
		}

		s := &step{tx: tx, header: h, event: evt, at: e.timestamp(h), logger: e.eventLogger(h)}
		if t.needsCircle {
			c, err := tx.GetCircle(ctx, h.CircleID)
			if db.IsNotFound(err) {
				return orphan(h, entities.Circles, h.CircleID)
			}
			if err != nil {
				return err
			}
			if c.Completed && !t.allowCompleted {
				return fmt.Errorf("%s for circle %s: %w", h.Kind, h.CircleID, ErrCircleCompleted)
			}
			s.circle = c
		}

		changed, err := t.apply(ctx, s)
		if err != nil {
			return err
		}
		if !changed {
			outcome = OutcomeIgnored
		}
		return tx.MarkProcessed(ctx, &rosca.ProcessedEvent{
			EventID:   h.EventID,
			CircleID:  h.CircleID,
			Kind:      string(h.Kind),
			AppliedAt: e.now().UTC(),
		})
	})
	if err != nil {
		return Classify(err), err
	}

	if outcome == OutcomeApplied {
		e.notify(ctx, h)
	}
	return outcome, nil
}

func (e *Engine) lockCircle(circleID string) func() {
	mu, ok := e.locks.Load(circleID)
	if !ok {
		mu, _ = e.locks.LoadOrStore(circleID, &sync.Mutex{})
	}
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) timestamp(h events.Header) time.Time {
	if h.Timestamp.IsZero() {
		return e.now().UTC()
	}
	return h.Timestamp.UTC()
}

func (e *Engine) eventLogger(h events.Header) *zap.Logger {
	return e.logger.With(
		zap.String("circle_id", h.CircleID),
		zap.String("kind", string(h.Kind)),
		zap.String("event_id", h.EventID),
	)
}

func (e *Engine) notify(ctx context.Context, h events.Header) {
	u := Update{CircleID: h.CircleID, Kind: string(h.Kind), EventID: h.EventID, AppliedAt: e.now().UTC()}
	if err := e.notifier.CircleUpdated(ctx, u); err != nil {
		e.logger.Warn("Unable to publish circle update",
			zap.String("circle_id", h.CircleID),
			zap.String("event_id", h.EventID),
			zap.Error(err))
	}
}

func (e *Engine) report(res Result, evt events.Event, took time.Duration) {
	e.metrics.ObserveEvent(res.Kind, res.Outcome.String(), took)

	fields := []zap.Field{
		zap.String("circle_id", res.CircleID),
		zap.String("kind", res.Kind),
		zap.String("event_id", res.EventID),
		zap.String("outcome", res.Outcome.String()),
	}
	if evt != nil {
		fields = append(fields, eventFields(evt)...)
	}

	switch res.Outcome {
	case OutcomeApplied, OutcomeDuplicate:
		e.logger.Debug("Event processed", fields...)
	case OutcomeIgnored:
		e.logger.Info("Event had no effect", fields...)
	case OutcomeSkipped:
		e.logger.Warn("Event skipped", append(fields, zap.Error(res.Err))...)
	case OutcomeRejected:
		var integrity *IntegrityError
		if errors.As(res.Err, &integrity) {
			e.metrics.ObserveIntegrityViolation()
			fields = append(fields,
				zap.String("account", integrity.Account),
				zap.Int64("amount", integrity.Amount),
				zap.Int64("balance", integrity.Balance))
		}
		e.logger.Error("Event rejected", append(fields, zap.Error(res.Err))...)
	default:
		e.logger.Error("Event failed, leaving it for redelivery", append(fields, zap.Error(res.Err))...)
	}
}

// eventFields lists the addresses and amounts an event carries for log lines.
func eventFields(evt events.Event) []zap.Field {
	switch v := evt.(type) {
	case *events.CircleCreated:
		return []zap.Field{zap.String("creator", v.Creator), zap.Int("participants", len(v.EligibleParticipants))}
	case *events.CircleStarted:
		return []zap.Field{zap.String("started_by", v.StartedBy), zap.String("first_claimant", v.FirstClaimant), zap.Int("rounds", len(v.Rounds))}
	case *events.ParticipantDefaulted:
		return []zap.Field{zap.String("recipient", v.Recipient), zap.String("defaulter", v.Defaulter)}
	case *events.ContributionMade:
		return []zap.Field{zap.String("recipient", v.Recipient), zap.String("contributor", v.Contributor), zap.Int64("amount", v.Amount)}
	case *events.DepositDeducted:
		return []zap.Field{zap.String("recipient", v.Recipient), zap.String("contributor", v.Contributor), zap.Int64("amount", v.Amount)}
	case *events.ParticipantJoined:
		return []zap.Field{zap.String("account", v.Account)}
	case *events.ParticipantLeft:
		return []zap.Field{zap.String("account", v.Account)}
	case *events.SecurityDepositContribution:
		return []zap.Field{zap.String("depositor", v.Depositor), zap.Int64("amount", v.Amount)}
	case *events.SecurityDepositClaimed:
		return []zap.Field{zap.String("depositor", v.Depositor), zap.Int64("amount", v.Amount)}
	case *events.NewRoundStarted:
		return []zap.Field{zap.String("new_recipient", v.NewRecipient), zap.Int64("interval", v.Interval)}
	}
	return nil
}
