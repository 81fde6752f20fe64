package gateway

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loran-ai/loran/pkg/backend"
	"github.com/loran-ai/loran/pkg/breaker"
	"github.com/loran-ai/loran/pkg/cache/memory"
	"github.com/loran-ai/loran/pkg/config"
	"github.com/loran-ai/loran/pkg/models"
	"github.com/loran-ai/loran/pkg/retry"
)

func init() {
	logrus.SetLevel(logrus.PanicLevel)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Breaker.ResetTimeout = 50 * time.Millisecond
	cfg.Batch.Timeout = 20 * time.Millisecond
	cfg.Rate.MinDelay = 0
	return cfg
}

// countingInvoker resolves every call with a fixed outcome and counts them.
type countingInvoker struct {
	calls atomic.Int64
	fn    func(payload string, maxOutput int) (string, error)
}

func (c *countingInvoker) Invoke(ctx context.Context, payload string, maxOutput int) (string, error) {
	c.calls.Add(1)
	return c.fn(payload, maxOutput)
}

func TestCallSuccess(t *testing.T) {
	inv := &countingInvoker{fn: func(payload string, _ int) (string, error) {
		return "answer:" + payload, nil
	}}
	gw := New(testConfig(), inv, nil, nil)
	defer gw.Close()

	out, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "answer:q" {
		t.Errorf("unexpected output: %q", out)
	}

	stats := gw.Stats()
	if stats.Calls != 1 || stats.Successes != 1 || stats.Failures != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCachedCallHitsBackendOnce(t *testing.T) {
	inv := &countingInvoker{fn: func(payload string, _ int) (string, error) {
		return "cached answer", nil
	}}
	store := memory.New(100, time.Hour)
	gw := New(testConfig(), inv, store, nil)
	defer gw.Close()

	req := models.CallRequest{Payload: "same question", MaxOutput: 64}
	opts := models.CallOptions{UseCache: true}

	for i := 0; i < 2; i++ {
		out, err := gw.Call(context.Background(), req, opts)
		if err != nil {
			t.Fatal(err)
		}
		if out != "cached answer" {
			t.Errorf("unexpected output: %q", out)
		}
	}

	if inv.calls.Load() != 1 {
		t.Errorf("expected one backend call, got %d", inv.calls.Load())
	}
	if hits := gw.Stats().CacheHits; hits != 1 {
		t.Errorf("expected 1 cache hit, got %d", hits)
	}
}

func TestCacheBypass(t *testing.T) {
	inv := &countingInvoker{fn: func(string, int) (string, error) { return "x", nil }}
	store := memory.New(100, time.Hour)
	gw := New(testConfig(), inv, store, nil)
	defer gw.Close()

	req := models.CallRequest{Payload: "q", MaxOutput: 64}
	for i := 0; i < 2; i++ {
		if _, err := gw.Call(context.Background(), req, models.CallOptions{UseCache: false}); err != nil {
			t.Fatal(err)
		}
	}

	if inv.calls.Load() != 2 {
		t.Errorf("expected 2 backend calls without caching, got %d", inv.calls.Load())
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	var n atomic.Int64
	inv := &countingInvoker{fn: func(string, int) (string, error) {
		if n.Add(1) < 3 {
			return "", &backend.Error{StatusCode: 500, Message: "flaky"}
		}
		return "ok", nil
	}}
	gw := New(testConfig(), inv, nil, nil)
	defer gw.Close()

	out, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Errorf("unexpected output: %q", out)
	}
	if inv.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", inv.calls.Load())
	}
}

func TestAuthFailureNotRetried(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.Fallback = false
	inv := &countingInvoker{fn: func(string, int) (string, error) {
		return "", &backend.Error{StatusCode: 401, Message: "bad key"}
	}}
	gw := New(cfg, inv, nil, nil)
	defer gw.Close()

	_, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{})
	var re *retry.Error
	if !errors.As(err, &re) {
		t.Fatalf("expected *retry.Error, got %T", err)
	}
	if re.Kind != retry.KindAuth {
		t.Errorf("expected authentication kind, got %s", re.Kind)
	}
	if inv.calls.Load() != 1 {
		t.Errorf("authentication failure should not retry, got %d calls", inv.calls.Load())
	}
}

func TestFallbackAfterExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 100 // keep the breaker out of this test
	var fallbackPayload string
	var fallbackMax int
	inv := &countingInvoker{}
	inv.fn = func(payload string, maxOutput int) (string, error) {
		if inv.calls.Load() <= int64(cfg.Retry.MaxRetries)+1 {
			return "", &backend.Error{StatusCode: 500, Message: "down"}
		}
		fallbackPayload = payload
		fallbackMax = maxOutput
		return "short answer", nil
	}
	gw := New(cfg, inv, nil, nil)
	defer gw.Close()

	req := models.CallRequest{Payload: "a long question payload", MaxOutput: 64}
	out, err := gw.Call(context.Background(), req, models.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "short answer" {
		t.Errorf("unexpected output: %q", out)
	}
	if inv.calls.Load() != int64(cfg.Retry.MaxRetries)+2 {
		t.Errorf("expected retries plus one fallback attempt, got %d calls", inv.calls.Load())
	}
	if len(fallbackPayload) >= len(req.Payload) || !strings.Contains(fallbackPayload, "concisely") {
		t.Errorf("fallback should shorten the payload, got %q", fallbackPayload)
	}
	if fallbackMax != 32 {
		t.Errorf("fallback should halve the output bound, got %d", fallbackMax)
	}
	if fb := gw.Stats().Fallbacks; fb != 1 {
		t.Errorf("expected 1 fallback recorded, got %d", fb)
	}
}

func TestFallbackDisabledSurfacesError(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.Fallback = false
	cfg.Breaker.FailureThreshold = 100
	inv := &countingInvoker{fn: func(string, int) (string, error) {
		return "", &backend.Error{StatusCode: 500, Message: "down"}
	}}
	gw := New(cfg, inv, nil, nil)
	defer gw.Close()

	_, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{})
	var re *retry.Error
	if !errors.As(err, &re) {
		t.Fatalf("expected *retry.Error, got %T", err)
	}
	if !re.Exhausted {
		t.Error("expected exhausted error")
	}
	if inv.calls.Load() != int64(cfg.Retry.MaxRetries)+1 {
		t.Errorf("expected full retry budget, got %d calls", inv.calls.Load())
	}
}

func TestBreakerOpensAndRejects(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 2
	cfg.Retry.MaxRetries = 1
	cfg.Retry.Fallback = false
	inv := &countingInvoker{fn: func(string, int) (string, error) {
		return "", &backend.Error{StatusCode: 500, Message: "down"}
	}}
	gw := New(cfg, inv, nil, nil)
	defer gw.Close()

	// First call burns through the threshold.
	_, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{})
	if err == nil {
		t.Fatal("expected failure")
	}
	before := inv.calls.Load()

	// Second call is rejected without reaching the backend.
	_, err = gw.Call(context.Background(), models.CallRequest{Payload: "q2", MaxOutput: 64}, models.CallOptions{})
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected circuit rejection, got %v", err)
	}
	var re *retry.Error
	if !errors.As(err, &re) || re.Kind != retry.KindCircuitOpen {
		t.Errorf("expected circuit_open kind, got %v", err)
	}
	if inv.calls.Load() != before {
		t.Error("rejected call should not reach the backend")
	}
}

func TestBreakerRecoversThroughProbe(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1
	cfg.Breaker.ResetTimeout = 20 * time.Millisecond
	cfg.Retry.MaxRetries = 0
	cfg.Retry.Fallback = false
	healthy := atomic.Bool{}
	inv := &countingInvoker{fn: func(string, int) (string, error) {
		if !healthy.Load() {
			return "", &backend.Error{StatusCode: 500, Message: "down"}
		}
		return "ok", nil
	}}
	gw := New(cfg, inv, nil, nil)
	defer gw.Close()

	if _, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{}); err == nil {
		t.Fatal("expected failure to open the breaker")
	}

	healthy.Store(true)
	time.Sleep(30 * time.Millisecond)

	out, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{})
	if err != nil {
		t.Fatalf("probe should succeed once healthy: %v", err)
	}
	if out != "ok" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestDeadlinePropagates(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.Fallback = false
	slow := backend.InvokerFunc(func(ctx context.Context, payload string, maxOutput int) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "late", nil
		}
	})
	gw := New(cfg, slow, nil, nil)
	defer gw.Close()

	req := models.CallRequest{Payload: "q", MaxOutput: 64, Deadline: 20 * time.Millisecond}
	start := time.Now()
	_, err := gw.Call(context.Background(), req, models.CallOptions{})
	if err == nil {
		t.Fatal("expected deadline failure")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("deadline should cut the call short, took %s", elapsed)
	}
	var re *retry.Error
	if !errors.As(err, &re) {
		t.Fatalf("expected *retry.Error, got %T", err)
	}
	if re.Kind != retry.KindTimeout {
		t.Errorf("expected timeout kind, got %s", re.Kind)
	}
}

func TestBatchedCallsResolveIndependently(t *testing.T) {
	inv := &countingInvoker{fn: func(payload string, _ int) (string, error) {
		if payload == "bad" {
			return "", &backend.Error{StatusCode: 401, Message: "bad key"}
		}
		return "answer:" + payload, nil
	}}
	cfg := testConfig()
	cfg.Retry.Fallback = false
	gw := New(cfg, inv, nil, nil)
	defer gw.Close()

	type result struct {
		out string
		err error
	}
	results := make(chan result, 2)
	for _, payload := range []string{"good", "bad"} {
		go func(p string) {
			out, err := gw.Call(context.Background(),
				models.CallRequest{Payload: p, MaxOutput: 64},
				models.CallOptions{UseBatch: true})
			results <- result{out, err}
		}(payload)
	}

	var ok, failed int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			failed++
		} else {
			ok++
			if r.out != "answer:good" {
				t.Errorf("unexpected output: %q", r.out)
			}
		}
	}
	if ok != 1 || failed != 1 {
		t.Errorf("expected one success and one failure, got ok=%d failed=%d", ok, failed)
	}
	if batches := gw.Stats().Batch.Batches; batches != 1 {
		t.Errorf("expected one batch, got %d", batches)
	}
}

func TestRequestValueNotMutated(t *testing.T) {
	inv := &countingInvoker{fn: func(string, int) (string, error) { return "ok", nil }}
	gw := New(testConfig(), inv, nil, nil)
	defer gw.Close()

	req := models.CallRequest{Payload: "q", MaxOutput: 64}
	if _, err := gw.Call(context.Background(), req, models.CallOptions{}); err != nil {
		t.Fatal(err)
	}
	if req.ID != "" {
		t.Error("caller's request value must not be mutated")
	}
}

func TestCustomClassifier(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.Fallback = false
	inv := &countingInvoker{fn: func(string, int) (string, error) {
		return "", errors.New("opaque upstream failure")
	}}
	gw := New(cfg, inv, nil, nil, WithClassifier(func(err error) retry.Kind {
		return retry.KindQuota
	}))
	defer gw.Close()

	_, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{})
	var re *retry.Error
	if !errors.As(err, &re) {
		t.Fatalf("expected *retry.Error, got %T", err)
	}
	if re.Kind != retry.KindQuota {
		t.Errorf("custom classifier ignored, got %s", re.Kind)
	}
	if inv.calls.Load() != 1 {
		t.Errorf("quota failures should not retry, got %d calls", inv.calls.Load())
	}
}

func TestAbandonedProbeDoesNotWedgeBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1
	cfg.Breaker.ResetTimeout = 20 * time.Millisecond
	cfg.Rate.MinDelay = 100 * time.Millisecond
	cfg.Retry.MaxRetries = 0
	cfg.Retry.Fallback = false
	healthy := atomic.Bool{}
	inv := &countingInvoker{fn: func(string, int) (string, error) {
		if !healthy.Load() {
			return "", &backend.Error{StatusCode: 500, Message: "down"}
		}
		return "ok", nil
	}}
	gw := New(cfg, inv, nil, nil)
	defer gw.Close()

	if _, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{}); err == nil {
		t.Fatal("expected failure to open the breaker")
	}
	time.Sleep(30 * time.Millisecond)

	// The probe is admitted but its deadline expires inside the rate gate,
	// so it never reaches the backend.
	abandoned := models.CallRequest{Payload: "q", MaxOutput: 64, Deadline: 30 * time.Millisecond}
	if _, err := gw.Call(context.Background(), abandoned, models.CallOptions{}); err == nil {
		t.Fatal("expected deadline failure during the probe")
	}

	healthy.Store(true)
	out, err := gw.Call(context.Background(), models.CallRequest{Payload: "q", MaxOutput: 64}, models.CallOptions{})
	if err != nil {
		t.Fatalf("breaker must admit a new probe after an abandoned one: %v", err)
	}
	if out != "ok" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestBatchedDeadlineSurfacesTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.Timeout = 100 * time.Millisecond
	inv := &countingInvoker{fn: func(string, int) (string, error) { return "late", nil }}
	gw := New(cfg, inv, nil, nil)
	defer gw.Close()

	req := models.CallRequest{Payload: "q", MaxOutput: 64, Deadline: 20 * time.Millisecond}
	_, err := gw.Call(context.Background(), req, models.CallOptions{UseBatch: true})
	if err == nil {
		t.Fatal("expected deadline failure while batched")
	}
	var re *retry.Error
	if !errors.As(err, &re) {
		t.Fatalf("batched deadline failure must be kind-tagged, got %T", err)
	}
	if re.Kind != retry.KindTimeout {
		t.Errorf("expected timeout kind, got %s", re.Kind)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("underlying context error should be preserved")
	}
}

func TestFallbackResultNotCached(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 100
	inv := &countingInvoker{}
	inv.fn = func(payload string, _ int) (string, error) {
		if inv.calls.Load() <= int64(cfg.Retry.MaxRetries)+1 {
			return "", &backend.Error{StatusCode: 500, Message: "down"}
		}
		if strings.Contains(payload, "concisely") {
			return "short answer", nil
		}
		return "full answer", nil
	}
	store := memory.New(100, time.Hour)
	gw := New(cfg, inv, store, nil)
	defer gw.Close()

	req := models.CallRequest{Payload: "a long question payload", MaxOutput: 64}
	opts := models.CallOptions{UseCache: true}

	out, err := gw.Call(context.Background(), req, opts)
	if err != nil {
		t.Fatal(err)
	}
	if out != "short answer" {
		t.Fatalf("expected the fallback answer first, got %q", out)
	}

	// The degraded answer must not satisfy the full request from the cache.
	out, err = gw.Call(context.Background(), req, opts)
	if err != nil {
		t.Fatal(err)
	}
	if out != "full answer" {
		t.Errorf("expected a fresh full answer, got %q", out)
	}

	// The full answer is cached as usual.
	before := inv.calls.Load()
	out, err = gw.Call(context.Background(), req, opts)
	if err != nil {
		t.Fatal(err)
	}
	if out != "full answer" || inv.calls.Load() != before {
		t.Errorf("full answer should now come from the cache (out=%q)", out)
	}
}
