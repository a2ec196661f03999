package shelly

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// maxRetryDelay caps the exponential backoff between attempts.
const maxRetryDelay = 30 * time.Second

// retryProvider wraps a Provider and retries transport errors and
// server-class HTTP failures with exponential backoff. Client-side failures
// (400, 401, 402) pass through untouched.
type retryProvider struct {
	inner      Provider
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger // never nil after WithRetry
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMax sets how many retries follow a failed attempt (default: 3).
// The total number of attempts is one more than this.
func RetryMax(n int) RetryOption {
	return func(r *retryProvider) { r.maxRetries = n }
}

// RetryBaseDelay sets the delay before the first retry (default: 1s).
// Each subsequent delay doubles, capped at 30s.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN, exhaustion at ERROR. If not set, a no-op logger is used.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with the daemon's retry policy. Compose with any
// Provider:
//
//	llm := shelly.WithRetry(anthropic.New(endpoint, key, model))
//	llm := shelly.WithRetry(anthropic.New(endpoint, key, model), shelly.RetryMax(5))
//
// When the budget runs out the call fails with *ErrExhausted wrapping the
// last attempt's error.
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:      p,
		maxRetries: 3,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Name delegates to the inner provider.
func (r *retryProvider) Name() string { return r.inner.Name() }

// Complete implements Provider with retry.
func (r *retryProvider) Complete(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	retries := 0
	for {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			// outer deadline, not a per-attempt timeout
			return nil, err
		}
		if !retryable(err) {
			return nil, err
		}
		retries++
		if retries > r.maxRetries {
			r.logger.Error("retry budget exhausted",
				"provider", r.inner.Name(),
				"attempts", retries,
				"error", err)
			return nil, &ErrExhausted{Retries: retries, Last: err}
		}
		delay := retryBackoff(r.baseDelay, retries)
		r.logger.Warn("retrying inference call",
			"provider", r.inner.Name(),
			"attempt", retries,
			"max_retries", r.maxRetries,
			"delay", delay,
			"error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// retryable classifies err. Auth, invalid-request and balance failures are
// final; server-class HTTP errors and anything transport-shaped get another
// attempt.
func retryable(err error) bool {
	var (
		authErr *ErrAuth
		reqErr  *ErrInvalidRequest
		balErr  *ErrBalance
	)
	if errors.As(err, &authErr) || errors.As(err, &reqErr) || errors.As(err, &balErr) {
		return false
	}
	return true
}

// retryBackoff returns the delay before retry n (1-indexed):
// base, 2*base, 4*base, and so on, capped at maxRetryDelay. No jitter.
func retryBackoff(base time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// compile-time check
var _ Provider = (*retryProvider)(nil)
