package projection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
	"github.com/canopy-network/roscax/pkg/metrics"
)

const (
	auditPageSize = 200
	// auditReads bounds how often one circle is re-read while events keep landing on it.
	auditReads = 3
)

// Mismatch is a circle whose deposit total disagrees with its deposit rows.
type Mismatch struct {
	CircleID string
	Total    int64
	Sum      int64
	Negative []string // depositors with a negative balance
}

// Auditor cross-checks Circle.TotalSecurityDeposits against the SecurityDeposit rows.
// It only reads; mismatches are logged and counted for an operator to look at.
type Auditor struct {
	store   db.Reader
	logger  *zap.Logger
	metrics *metrics.Projection
}

func NewAuditor(store db.Reader, logger *zap.Logger, m *metrics.Projection) *Auditor {
	return &Auditor{store: store, logger: logger, metrics: m}
}

// Run walks every circle and returns the ones that fail the check.
func (a *Auditor) Run(ctx context.Context) ([]Mismatch, error) {
	var (
		mismatches []Mismatch
		cursor     uint64
		checked    int
	)
	for {
		page, err := a.store.ListCircles(ctx, cursor, auditPageSize, false)
		if err != nil {
			return mismatches, fmt.Errorf("list circles after %d: %w", cursor, err)
		}
		for _, c := range page {
			m, stable, err := a.check(ctx, c)
			if err != nil {
				return mismatches, err
			}
			checked++
			if !stable {
				a.logger.Warn("Circle kept changing during security deposit audit, skipping it",
					zap.String("circle_id", c.ID))
				continue
			}
			if m.Sum == m.Total && len(m.Negative) == 0 && m.Total >= 0 {
				continue
			}
			a.metrics.ObserveAuditMismatch()
			a.logger.Error("Security deposit audit mismatch",
				zap.String("circle_id", m.CircleID),
				zap.Int64("total_security_deposits", m.Total),
				zap.Int64("sum_of_deposits", m.Sum),
				zap.Strings("negative_depositors", m.Negative))
			mismatches = append(mismatches, m)
		}
		if len(page) < auditPageSize {
			break
		}
		next := uint64(page[len(page)-1].ChainID)
		if next <= cursor {
			break
		}
		cursor = next
	}

	a.logger.Info("Security deposit audit finished",
		zap.Int("circles", checked),
		zap.Int("mismatches", len(mismatches)))
	return mismatches, nil
}

// check compares one circle with its deposit rows. The reads are not transactional, so the circle
// is read again after the rows and the comparison only counts when its total did not move in between.
func (a *Auditor) check(ctx context.Context, c rosca.Circle) (Mismatch, bool, error) {
	total := c.TotalSecurityDeposits
	for range auditReads {
		deposits, err := a.store.ListSecurityDeposits(ctx, c.ID)
		if err != nil {
			return Mismatch{}, false, fmt.Errorf("list deposits of circle %s: %w", c.ID, err)
		}
		after, err := a.store.GetCircle(ctx, c.ID)
		if err != nil {
			return Mismatch{}, false, fmt.Errorf("reread circle %s: %w", c.ID, err)
		}
		if after.TotalSecurityDeposits != total {
			total = after.TotalSecurityDeposits
			continue
		}

		m := Mismatch{CircleID: c.ID, Total: total}
		for _, d := range deposits {
			m.Sum += d.Amount
			if d.Amount < 0 {
				m.Negative = append(m.Negative, d.DepositorID)
			}
		}
		return m, true, nil
	}
	return Mismatch{CircleID: c.ID, Total: total}, false, nil
}

// Job adapts Run for a cron schedule.
func (a *Auditor) Job(ctx context.Context) func() {
	return func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.Warn("Security deposit audit failed", zap.Error(err))
		}
	}
}
