// Package workpool bounds the number of blocking backend calls executing at
// once. Task lifecycles run concurrently on goroutines; every SDK round trip
// they make passes through one shared Pool so a burst of dispatches cannot
// exhaust sockets or starve the scheduler.
package workpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool is a bounded executor for blocking calls.
type Pool struct {
	sem *semaphore.Weighted
}

// New constructs a pool allowing size concurrent calls.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs op once a slot is available. Acquisition respects ctx, so a
// canceled lifecycle stops waiting for a slot; op itself receives no slot
// accounting beyond the one held for its duration.
func (p *Pool) Do(ctx context.Context, op func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return op()
}
