// Package slots bounds how many extraction runs execute at once.
package slots

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent work using a weighted semaphore. Every extraction
// goes through one shared Pool so a burst of uploads cannot pin all database
// connections.
type Pool struct {
	sem    *semaphore.Weighted
	limit  int
	active atomic.Int32
}

// NewPool creates a Pool that allows at most limit concurrent runs.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks while all slots are busy and returns ctx.Err() if ctx ends first.
// A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil || p.sem == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.sem.Release(1)
	}()
	return fn(ctx)
}

// Active returns the number of slots currently held.
func (p *Pool) Active() int {
	if p == nil {
		return 0
	}
	return int(p.active.Load())
}

// Limit returns the pool size.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}
