// Package batch coalesces concurrently submitted call requests into flush
// windows. Batching does not change per-item semantics: each item is
// dispatched as its own upstream call and resolved independently, so batch
// boundaries only affect latency and throughput accounting.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loran-ai/loran/pkg/models"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("batch coalescer closed")

// DispatchFunc performs the underlying call for one batched item. degraded
// reports that the result came from a reduced fallback attempt rather than
// the request as submitted.
type DispatchFunc func(ctx context.Context, req models.CallRequest) (text string, degraded bool, err error)

type outcome struct {
	text     string
	degraded bool
	err      error
}

type item struct {
	req        models.CallRequest
	ctx        context.Context
	enqueuedAt time.Time
	done       chan outcome // buffered; resolved exactly once
}

// Coalescer groups pending requests and flushes them together. A flush
// detaches the current pending list atomically, so new arrivals start the
// next batch; only one flush dispatches at a time, but an in-progress flush
// never blocks enqueues.
type Coalescer struct {
	dispatch DispatchFunc
	maxBatch int
	minBatch int
	timeout  time.Duration

	mu      sync.Mutex
	pending []*item
	timer   *time.Timer
	closed  bool

	flushMu sync.Mutex
	batches int64
	items   int64
}

// New creates a Coalescer that flushes when maxBatch items are pending, or
// when the oldest pending item has waited for timeout. minBatch gates the
// additional enqueue-time flush check.
func New(dispatch DispatchFunc, maxBatch, minBatch int, timeout time.Duration) *Coalescer {
	return &Coalescer{
		dispatch: dispatch,
		maxBatch: maxBatch,
		minBatch: minBatch,
		timeout:  timeout,
	}
}

// Submit enqueues a request and blocks until its batch is flushed and the
// item resolves, or ctx is done. Sibling failures within a batch do not
// affect this item's outcome.
func (c *Coalescer) Submit(ctx context.Context, req models.CallRequest) (string, bool, error) {
	it := &item{
		req:        req,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		done:       make(chan outcome, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", false, ErrClosed
	}
	c.pending = append(c.pending, it)
	switch {
	case len(c.pending) >= c.maxBatch:
		c.flushLocked()
	case len(c.pending) >= c.minBatch && time.Since(c.pending[0].enqueuedAt) >= c.timeout:
		c.flushLocked()
	case len(c.pending) == 1:
		c.timer = time.AfterFunc(c.timeout, c.timerFlush)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case out := <-it.done:
		return out.text, out.degraded, out.err
	}
}

// timerFlush flushes whatever is pending when the window timer fires, even
// below minBatch, so stragglers cannot wait forever.
func (c *Coalescer) timerFlush() {
	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()
}

// flushLocked detaches the pending list and dispatches it in the background.
// Callers must hold c.mu.
func (c *Coalescer) flushLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.pending) == 0 {
		return
	}
	detached := c.pending
	c.pending = nil
	go c.run(detached)
}

// run dispatches a detached batch. Items run concurrently; each resolves
// its own sink with its individual outcome.
func (c *Coalescer) run(batch []*item) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	logrus.WithField("size", len(batch)).Debug("flushing batch")

	// Counters are committed before any sink resolves, so a caller reading
	// Stats right after its item returns always sees this flush counted.
	c.mu.Lock()
	c.batches++
	c.items += int64(len(batch))
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, it := range batch {
		wg.Add(1)
		go func(it *item) {
			defer wg.Done()
			text, degraded, err := c.dispatch(it.ctx, it.req)
			it.done <- outcome{text: text, degraded: degraded, err: err}
		}(it)
	}
	wg.Wait()
}

// Close flushes any pending items and rejects further submissions.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	c.flushLocked()
	c.mu.Unlock()
}

// Stats returns cumulative batch counters.
func (c *Coalescer) Stats() models.BatchStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := models.BatchStats{Batches: c.batches, Items: c.items}
	if c.batches > 0 {
		stats.AvgBatchSize = float64(c.items) / float64(c.batches)
	}
	return stats
}
