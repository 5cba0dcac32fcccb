// Package queue implements a dispatcher for calls against rate-limited
// upstream APIs. It differs from the plain bounded pools used elsewhere in
// the pipeline by enforcing a temporal floor between job starts, not just
// a ceiling on simultaneous work.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/storypipe/storypipe/internal/metrics"
)

// RateLimited admits jobs in arrival order, no sooner than the configured
// interval after the previous start, while capping how many run at once.
// Completion of a job frees its slot immediately, so throughput tracks
// the configured floor instead of drifting by processing time.
type RateLimited struct {
	name    string
	limiter *rate.Limiter
	slots   chan struct{}
	logger  *zap.Logger

	mu      sync.Mutex
	waiters []chan struct{}
}

// NewRateLimited builds a queue with the given minimum inter-start
// interval and concurrency ceiling. An interval of zero disables the
// temporal floor; concurrency below one is raised to one.
func NewRateLimited(name string, interval time.Duration, concurrency int, logger *zap.Logger) *RateLimited {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimited{
		name:    name,
		limiter: rate.NewLimiter(limit, 1),
		slots:   make(chan struct{}, concurrency),
		logger:  logger,
	}
}

// Do runs fn once its turn comes up, the temporal floor has elapsed and a
// concurrency slot is free. Jobs start in the order Do was called. The
// wait is bounded by the interval and by ctx; fn's error is returned
// unchanged.
func (q *RateLimited) Do(ctx context.Context, fn func(context.Context) error) error {
	start := time.Now()
	if err := q.admit(ctx); err != nil {
		return fmt.Errorf("queue %s admit: %w", q.name, err)
	}
	defer func() { <-q.slots }()

	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveQueueDelay(q.name, delay)
		q.logger.Debug("dispatch delayed by rate floor",
			zap.String("queue", q.name),
			zap.Duration("delay", delay),
		)
	}
	return fn(ctx)
}

// admit enqueues the caller and blocks until it reaches the head of the
// line, the rate floor allows a start and a slot is free. Only the head
// negotiates with the limiter and the slots, so starts cannot reorder.
func (q *RateLimited) admit(ctx context.Context) error {
	ready := make(chan struct{})
	q.mu.Lock()
	q.waiters = append(q.waiters, ready)
	if len(q.waiters) == 1 {
		close(ready)
	}
	q.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		q.leave(ready)
		return ctx.Err()
	}

	err := q.waitFloor(ctx)
	if err == nil {
		select {
		case q.slots <- struct{}{}:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	q.advance()
	return err
}

// waitFloor sleeps until the next allowed start time, or until ctx ends.
// An abandoned reservation is returned to the limiter so the next job is
// not delayed by a start that never happened.
func (q *RateLimited) waitFloor(ctx context.Context) error {
	res := q.limiter.Reserve()
	if !res.OK() {
		return fmt.Errorf("rate floor reservation failed")
	}
	delay := res.Delay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}

// leave removes an abandoning waiter. A caller whose context fired while
// it was being promoted to head hands the turn to the next in line.
func (q *RateLimited) leave(ready chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w != ready {
			continue
		}
		q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
		if i == 0 && len(q.waiters) > 0 {
			close(q.waiters[0])
		}
		return
	}
}

// advance pops the head and wakes its successor.
func (q *RateLimited) advance() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiters = q.waiters[1:]
	if len(q.waiters) > 0 {
		close(q.waiters[0])
	}
}

// Run executes fn through q and returns its typed result.
func Run[T any](ctx context.Context, q *RateLimited, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := q.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
