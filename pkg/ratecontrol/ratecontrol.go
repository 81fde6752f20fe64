// Package ratecontrol adjusts an inter-call delay from the observed
// success/failure ratio. It is a simple integral controller, not a token
// bucket: precision is traded for simplicity at modest call volumes.
package ratecontrol

import (
	"context"
	"sync"
	"time"

	"github.com/loran-ai/loran/pkg/models"
)

// minSamples is how many outcomes must be observed before the delay adjusts.
const minSamples = 10

// seedDelay bootstraps growth when the current delay is zero, since a zero
// delay cannot grow multiplicatively.
const seedDelay = 100 * time.Millisecond

// Controller suspends dispatchers for an adaptive delay before each call.
type Controller struct {
	mu       sync.Mutex
	target   float64
	factor   float64
	minDelay time.Duration
	maxDelay time.Duration

	delay     time.Duration
	successes int64
	failures  int64
}

// New creates a Controller. The delay starts at minDelay and is adjusted by
// factor whenever the rolling success rate crosses target.
func New(target, factor float64, minDelay, maxDelay time.Duration) *Controller {
	return &Controller{
		target:   target,
		factor:   factor,
		minDelay: minDelay,
		maxDelay: maxDelay,
		delay:    minDelay,
	}
}

// Wait suspends the caller for the current delay or until ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	d := c.delay
	c.mu.Unlock()

	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RecordSuccess notes a successful call and adjusts the delay.
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes++
	c.adjustLocked()
}

// RecordFailure notes a failed call and adjusts the delay.
func (c *Controller) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.adjustLocked()
}

func (c *Controller) adjustLocked() {
	total := c.successes + c.failures
	if total <= minSamples {
		return
	}
	rate := float64(c.successes) / float64(total)
	if rate < c.target {
		if c.delay <= 0 {
			c.delay = seedDelay
		} else {
			c.delay = time.Duration(float64(c.delay) * c.factor)
		}
	} else {
		c.delay = time.Duration(float64(c.delay) / c.factor)
	}
	if c.delay > c.maxDelay {
		c.delay = c.maxDelay
	}
	if c.delay < c.minDelay {
		c.delay = c.minDelay
	}
}

// Delay returns the current inter-call delay.
func (c *Controller) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// Stats returns counters and the current delay.
func (c *Controller) Stats() models.RateStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.successes + c.failures
	var rate float64
	if total > 0 {
		rate = float64(c.successes) / float64(total)
	}
	return models.RateStats{
		Successes:    c.successes,
		Failures:     c.failures,
		SuccessRate:  rate,
		CurrentDelay: c.delay,
	}
}
