// Package retry classifies call errors and retries eligible ones with
// jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/loran-ai/loran/pkg/backend"
	"github.com/loran-ai/loran/pkg/breaker"
)

// Kind is the classified category of a call error.
type Kind int

const (
	// KindUnknown covers errors no rule matched. Retried.
	KindUnknown Kind = iota
	// KindRateLimited marks upstream throttling (429).
	KindRateLimited
	// KindTimeout marks deadline or request timeouts.
	KindTimeout
	// KindNetwork marks transport-level failures.
	KindNetwork
	// KindAuth marks authentication failures. Never retried.
	KindAuth
	// KindQuota marks exhausted upstream quota. Never retried.
	KindQuota
	// KindServer marks upstream 5xx responses.
	KindServer
	// KindCircuitOpen marks rejection by the circuit breaker. Immediate
	// failure that consumes no retry budget.
	KindCircuitOpen
)

// String returns the kind's journal/log label.
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "authentication"
	case KindQuota:
		return "quota_exceeded"
	case KindServer:
		return "server_error"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this kind are eligible for retry.
func Retryable(k Kind) bool {
	switch k {
	case KindAuth, KindQuota, KindCircuitOpen:
		return false
	default:
		return true
	}
}

// Classifier maps an error to a Kind. Backends with structured error codes
// can supply an exact classifier in place of the heuristic default.
type Classifier func(error) Kind

// DefaultClassifier classifies by upstream status code when one is present,
// falling back to message substring matching.
func DefaultClassifier(err error) Kind {
	if errors.Is(err, breaker.ErrOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var be *backend.Error
	if errors.As(err, &be) && be.StatusCode != 0 {
		switch {
		case be.StatusCode == 429:
			return KindRateLimited
		case be.StatusCode == 408:
			return KindTimeout
		case be.StatusCode == 401 || be.StatusCode == 403:
			return KindAuth
		case be.StatusCode == 402:
			return KindQuota
		case be.StatusCode >= 500:
			return KindServer
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return KindNetwork
	case strings.Contains(msg, "authentication") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401"):
		return KindAuth
	case strings.Contains(msg, "quota") || strings.Contains(msg, "402"):
		return KindQuota
	case strings.Contains(msg, "server error") || strings.Contains(msg, "500"):
		return KindServer
	default:
		return KindUnknown
	}
}

// Error is the terminal failure of a call after classification.
type Error struct {
	Kind      Kind
	Attempts  int
	Exhausted bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("call failed (%s) after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Policy holds retry limits and backoff shape.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Classifier Classifier
}

// Classify applies the configured classifier, defaulting to DefaultClassifier.
func (p *Policy) Classify(err error) Kind {
	if p.Classifier != nil {
		return p.Classifier(err)
	}
	return DefaultClassifier(err)
}

// Backoff returns the jittered delay before the retry following attempt
// (zero-based). Rate-limit errors always back off by powers of two.
func (p *Policy) Backoff(attempt int, kind Kind) time.Duration {
	base := float64(p.BaseDelay)
	if kind == KindRateLimited {
		base *= math.Pow(2, float64(attempt))
	} else {
		base *= math.Pow(p.Multiplier, float64(attempt))
	}
	if max := float64(p.MaxDelay); base > max {
		base = max
	}
	// Uniform jitter in [0.5, 1.0) of the computed delay.
	base *= 0.5 + 0.5*rand.Float64()
	return time.Duration(base)
}

// Do runs fn until it succeeds, fails unretryably, or the attempt budget of
// 1+MaxRetries is spent. Attempts are strictly sequential; backoff sleeps
// abort when ctx is done. A circuit-open rejection returns immediately
// without consuming the budget.
func (p *Policy) Do(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error
	var kind Kind

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}

		kind = p.Classify(err)
		lastErr = err

		if kind == KindCircuitOpen {
			return "", &Error{Kind: kind, Attempts: attempt, Err: err}
		}
		if !Retryable(kind) {
			return "", &Error{Kind: kind, Attempts: attempt + 1, Err: err}
		}
		if attempt == p.MaxRetries {
			break
		}
		if err := sleep(ctx, p.Backoff(attempt, kind)); err != nil {
			return "", &Error{Kind: KindTimeout, Attempts: attempt + 1, Err: err}
		}
	}

	return "", &Error{Kind: kind, Attempts: p.MaxRetries + 1, Exhausted: true, Err: lastErr}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
