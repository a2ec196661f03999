package shelly

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransient(t *testing.T) {
	inner := &scriptedProvider{results: []scriptResult{
		{err: &ErrHTTP{Status: 503, Body: "overloaded"}},
		{resp: textResponse("ok", StopEndTurn)},
	}}
	p := WithRetry(inner, RetryMax(2), RetryBaseDelay(time.Millisecond))

	resp, err := p.Complete(context.Background(), &MessageRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("Text() = %q, want %q", resp.Text(), "ok")
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestRetryExhaustion(t *testing.T) {
	inner := &scriptedProvider{results: []scriptResult{
		{err: &ErrHTTP{Status: 503, Body: "overloaded"}},
	}}
	p := WithRetry(inner, RetryMax(2), RetryBaseDelay(10*time.Millisecond))

	_, err := p.Complete(context.Background(), &MessageRequest{})
	if err == nil {
		t.Fatal("Complete succeeded, want exhaustion")
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3 attempts total", inner.calls)
	}
	var exhausted *ErrExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ErrExhausted", err)
	}
	if exhausted.Retries != 3 {
		t.Errorf("Retries = %d, want 3", exhausted.Retries)
	}
	if !strings.Contains(err.Error(), "Exhausted") {
		t.Errorf("Error() = %q, want it to contain %q", err.Error(), "Exhausted")
	}
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 503 {
		t.Errorf("wrapped error = %v, want the last *ErrHTTP 503", exhausted.Last)
	}
}

func TestRetriesTransportErrors(t *testing.T) {
	inner := &scriptedProvider{results: []scriptResult{
		{err: errors.New("dial tcp: connection refused")},
		{resp: textResponse("up", StopEndTurn)},
	}}
	p := WithRetry(inner, RetryMax(3), RetryBaseDelay(time.Millisecond))

	resp, err := p.Complete(context.Background(), &MessageRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "up" {
		t.Errorf("Text() = %q, want %q", resp.Text(), "up")
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestNoRetryOnClientErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"auth", &ErrAuth{Body: "bad key"}},
		{"invalid request", &ErrInvalidRequest{Status: 400, Body: "bad shape"}},
		{"balance", &ErrBalance{Body: "empty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scriptedProvider{results: []scriptResult{{err: tt.err}}}
			p := WithRetry(inner, RetryMax(5), RetryBaseDelay(time.Millisecond))

			_, err := p.Complete(context.Background(), &MessageRequest{})
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want the original %v", err, tt.err)
			}
			if inner.calls != 1 {
				t.Errorf("calls = %d, want 1", inner.calls)
			}
		})
	}
}

func TestRetryStopsWhenContextExpires(t *testing.T) {
	inner := &scriptedProvider{results: []scriptResult{
		{err: &ErrHTTP{Status: 503, Body: "overloaded"}},
	}}
	p := WithRetry(inner, RetryMax(10), RetryBaseDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Complete(ctx, &MessageRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestRetryBackoffSchedule(t *testing.T) {
	tests := []struct {
		base time.Duration
		n    int
		want time.Duration
	}{
		{10 * time.Millisecond, 1, 10 * time.Millisecond},
		{10 * time.Millisecond, 2, 20 * time.Millisecond},
		{10 * time.Millisecond, 3, 40 * time.Millisecond},
		{time.Second, 5, 16 * time.Second},
		{time.Second, 6, 30 * time.Second},
		{time.Second, 60, 30 * time.Second},
		{time.Minute, 1, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := retryBackoff(tt.base, tt.n); got != tt.want {
			t.Errorf("retryBackoff(%v, %d) = %v, want %v", tt.base, tt.n, got, tt.want)
		}
	}
}
