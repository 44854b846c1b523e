package indexer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/projection"
)

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// newScheduler registers the deposit audit on spec (seconds field first).
func newScheduler(ctx context.Context, logger *zap.Logger, spec string, auditor *projection.Auditor) (*cron.Cron, error) {
	cl := cronLogger{sugar: logger.Sugar()}
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	_, err := c.AddFunc(spec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		auditor.Job(rctx)()
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
