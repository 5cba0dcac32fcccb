package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRateLimitedEnforcesTemporalFloor(t *testing.T) {
	t.Parallel()

	const (
		jobs     = 4
		interval = 50 * time.Millisecond
	)
	q := NewRateLimited("test", interval, 1, zap.NewNop())

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	var wg sync.WaitGroup
	begin := time.Now()
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	// N jobs at concurrency 1 and interval I complete no faster than
	// (N-1) x I after the first dispatch.
	require.Len(t, starts, jobs)
	require.GreaterOrEqual(t, time.Since(begin), time.Duration(jobs-1)*interval)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(starts); i++ {
		for j := 0; j < i; j++ {
			gap := starts[i].Sub(starts[j])
			if gap < 0 {
				gap = -gap
			}
			require.GreaterOrEqual(t, gap, interval-5*time.Millisecond,
				"no job may start before its computed next-allowed time")
		}
	}
}

func TestRateLimitedConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	q := NewRateLimited("test", 0, 3, zap.NewNop())

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				cur := inFlight.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(3))
	require.Greater(t, peak.Load(), int32(0))
}

func TestRateLimitedAdmitsInArrivalOrder(t *testing.T) {
	t.Parallel()

	q := NewRateLimited("test", 0, 1, zap.NewNop())

	// Hold the only slot so every subsequent job has to queue.
	release := make(chan struct{})
	occupied := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Do(context.Background(), func(context.Context) error {
			close(occupied)
			<-release
			return nil
		})
	}()
	<-occupied

	queued := func() int {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.waiters)
	}

	var (
		mu    sync.Mutex
		order []int
	)
	const jobs = 5
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Wait for this job to take its place in line before the next
		// one enqueues, so arrival order is fixed.
		want := i + 1
		require.Eventually(t, func() bool { return queued() == want },
			time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestRateLimitedContextCancelWhileWaiting(t *testing.T) {
	t.Parallel()

	q := NewRateLimited("test", time.Minute, 1, zap.NewNop())

	// Consume the initial token.
	require.NoError(t, q.Do(context.Background(), func(context.Context) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, func(context.Context) error {
		t.Fatal("job must not start before the floor elapses")
		return nil
	})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunReturnsTypedResult(t *testing.T) {
	t.Parallel()

	q := NewRateLimited("test", 0, 1, zap.NewNop())

	got, err := Run(context.Background(), q, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)

	boom := errors.New("boom")
	_, err = Run(context.Background(), q, func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
}
