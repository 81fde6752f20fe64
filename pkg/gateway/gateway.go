// Package gateway mediates calls to a remote text-generation backend
// through a response cache, a batch coalescer, a circuit breaker, an
// adaptive rate controller and a retry policy.
package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/loran-ai/loran/pkg/backend"
	"github.com/loran-ai/loran/pkg/batch"
	"github.com/loran-ai/loran/pkg/breaker"
	"github.com/loran-ai/loran/pkg/cache"
	"github.com/loran-ai/loran/pkg/config"
	"github.com/loran-ai/loran/pkg/journal"
	"github.com/loran-ai/loran/pkg/models"
	"github.com/loran-ai/loran/pkg/ratecontrol"
	"github.com/loran-ai/loran/pkg/retry"
)

// Option customizes a Gateway at construction.
type Option func(*Gateway)

// WithClassifier replaces the heuristic error classifier, for backends
// that report structured error codes.
func WithClassifier(c retry.Classifier) Option {
	return func(g *Gateway) {
		g.policy.Classifier = c
	}
}

// Gateway is an explicit instance wired by the caller; there is no ambient
// shared client. Store and journal may be nil to disable caching and
// journaling.
type Gateway struct {
	cfg     *config.Config
	invoker backend.Invoker
	store   cache.Store
	journal *journal.Journal

	breaker   *breaker.Breaker
	rate      *ratecontrol.Controller
	policy    *retry.Policy
	coalescer *batch.Coalescer
	sem       chan struct{}

	calls     atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
	fallbacks atomic.Int64
}

// New creates a Gateway wired with all dependencies.
func New(cfg *config.Config, invoker backend.Invoker, store cache.Store, jr *journal.Journal, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		invoker: invoker,
		store:   store,
		journal: jr,
		breaker: breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout),
		rate: ratecontrol.New(cfg.Rate.TargetSuccessRate, cfg.Rate.AdjustmentFactor,
			cfg.Rate.MinDelay, cfg.Rate.MaxDelay),
		policy: &retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
			Multiplier: cfg.Retry.BackoffMultiplier,
		},
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
	g.coalescer = batch.New(
		func(ctx context.Context, req models.CallRequest) (string, bool, error) {
			return g.process(ctx, req, true)
		},
		cfg.Batch.MaxBatchSize, cfg.Batch.MinBatchSize, cfg.Batch.Timeout,
	)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Call resolves one request. The returned error is always a tagged value
// the caller can inspect with errors.As; internal retry attempts are never
// surfaced individually.
func (g *Gateway) Call(ctx context.Context, req models.CallRequest, opts models.CallOptions) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Operation == "" {
		req.Operation = "call"
	}
	g.calls.Add(1)

	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	start := time.Now()
	key := cache.Key(req.Payload, req.MaxOutput)

	if opts.UseCache && g.store != nil {
		if val, ok := g.store.Get(key); ok {
			g.cacheHits.Add(1)
			g.successes.Add(1)
			logrus.WithFields(logrus.Fields{"op": req.Operation, "id": req.ID}).Debug("cache hit")
			g.journalAsync(models.CallRecord{
				ID:        req.ID,
				Operation: req.Operation,
				CacheHit:  true,
				Success:   true,
				LatencyMs: time.Since(start).Milliseconds(),
				CreatedAt: time.Now().UTC(),
			})
			return val, nil
		}
	}

	var out string
	var degraded bool
	var err error
	if opts.UseBatch {
		out, degraded, err = g.coalescer.Submit(ctx, req)
	} else {
		out, degraded, err = g.process(ctx, req, false)
	}
	if err != nil {
		return "", g.taggedErr(err)
	}

	// A fallback answer came from a reduced request; caching it would serve
	// the degraded response for the full request until the TTL runs out.
	if opts.UseCache && g.store != nil && !degraded {
		g.store.Put(key, out)
	}
	return out, nil
}

// process runs the resilient dispatch path for one request and accounts
// its outcome. Batched items arrive here from the coalescer.
func (g *Gateway) process(ctx context.Context, req models.CallRequest, batched bool) (string, bool, error) {
	start := time.Now()

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return "", false, g.taggedErr(ctx.Err())
	}
	defer func() { <-g.sem }()

	attempts := 0
	out, err := g.policy.Do(ctx, func(ctx context.Context) (string, error) {
		return g.attempt(ctx, req, &attempts)
	})

	fellBack := false
	if err != nil && g.cfg.Retry.Fallback {
		var re *retry.Error
		if errors.As(err, &re) && re.Exhausted && retry.Retryable(re.Kind) {
			logrus.WithFields(logrus.Fields{"op": req.Operation, "id": req.ID}).
				Warn("retries exhausted, attempting shortened fallback")
			if fbOut, fbErr := g.attempt(ctx, fallbackRequest(req), &attempts); fbErr == nil {
				out, err = fbOut, nil
				fellBack = true
			}
		}
	}

	rec := models.CallRecord{
		ID:        req.ID,
		Operation: req.Operation,
		Attempts:  attempts,
		Batched:   batched,
		Fallback:  fellBack,
		Success:   err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}

	if err != nil {
		rec.Kind = g.errorKind(err).String()
		g.failures.Add(1)
		logrus.WithFields(logrus.Fields{
			"op": req.Operation, "id": req.ID, "kind": rec.Kind, "attempts": attempts,
		}).WithError(err).Error("call failed")
	} else {
		g.successes.Add(1)
		if fellBack {
			g.fallbacks.Add(1)
		}
	}
	g.journalAsync(rec)
	return out, fellBack, err
}

// taggedErr upholds the gateway's error contract: callers always observe a
// kind-tagged *retry.Error they can inspect with errors.As, including raw
// context failures from admission and batch waits.
func (g *Gateway) taggedErr(err error) error {
	var re *retry.Error
	if errors.As(err, &re) {
		return err
	}
	return &retry.Error{Kind: g.policy.Classify(err), Err: err}
}

// attempt performs one admission-checked upstream invocation and reports
// its outcome to the breaker and rate controller.
func (g *Gateway) attempt(ctx context.Context, req models.CallRequest, attempts *int) (string, error) {
	if !g.breaker.Allow() {
		return "", breaker.ErrOpen
	}
	if err := g.rate.Wait(ctx); err != nil {
		// The admission may have been the half-open probe; abandoning it
		// without releasing the slot would block every future probe.
		g.breaker.CancelProbe()
		return "", err
	}
	*attempts++
	out, err := g.invoker.Invoke(ctx, req.Payload, req.MaxOutput)
	if err != nil {
		g.breaker.RecordFailure()
		g.rate.RecordFailure()
		return "", err
	}
	g.breaker.RecordSuccess()
	g.rate.RecordSuccess()
	return out, nil
}

// errorKind extracts the classified kind from a terminal error.
func (g *Gateway) errorKind(err error) retry.Kind {
	var re *retry.Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return g.policy.Classify(err)
}

// fallbackRequest shortens the payload and halves the output bound for the
// single post-exhaustion fallback attempt.
func fallbackRequest(req models.CallRequest) models.CallRequest {
	runes := []rune(req.Payload)
	req.Payload = string(runes[:len(runes)/2]) + "\n\nAnswer the above concisely."
	req.MaxOutput /= 2
	if req.MaxOutput < 1 {
		req.MaxOutput = 1
	}
	return req
}

// journalAsync records the call without blocking the caller, in the same
// fire-and-forget manner failures are only logged.
func (g *Gateway) journalAsync(rec models.CallRecord) {
	if g.journal == nil {
		return
	}
	go func() {
		if err := g.journal.Record(context.Background(), rec); err != nil {
			logrus.WithError(err).Warn("journal record failed")
		}
	}()
}

// Stats aggregates counters across the gateway and its components.
func (g *Gateway) Stats() models.GatewayStats {
	stats := models.GatewayStats{
		Calls:     g.calls.Load(),
		Successes: g.successes.Load(),
		Failures:  g.failures.Load(),
		CacheHits: g.cacheHits.Load(),
		Fallbacks: g.fallbacks.Load(),
		Batch:     g.coalescer.Stats(),
		Rate:      g.rate.Stats(),
		Breaker:   g.breaker.Stats(),
	}
	if g.store != nil {
		stats.Cache = g.store.Stats()
	}
	return stats
}

// Close flushes pending batched work. The cache store and journal are owned
// by the caller and closed there.
func (g *Gateway) Close() {
	g.coalescer.Close()
}
