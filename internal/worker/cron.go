package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner drives the Sweeper on a cron spec.
type Runner struct {
	cron    *cron.Cron
	sweeper *Sweeper
	logger  *zap.Logger
}

// NewRunner schedules the sweeper under the given spec, e.g. "@every 1m".
// Overlapping runs are skipped: a sweep that outlives its interval delays
// the next one instead of stacking.
func NewRunner(spec string, sweeper *Sweeper, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	r := &Runner{cron: c, sweeper: sweeper, logger: logger}

	if _, err := c.AddFunc(spec, r.tick); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	return r, nil
}

func (r *Runner) tick() {
	if err := r.sweeper.Sweep(context.Background()); err != nil {
		r.logger.Error("sweep failed", zap.Error(err))
	}
}

// Start begins scheduling in its own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish, bounded
// by the timeout.
func (r *Runner) Stop(timeout time.Duration) {
	done := r.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(timeout):
		r.logger.Warn("sweep did not finish before shutdown timeout")
	}
}
