package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/XuanLee-HEALER/shelly"
)

func buildRequest(t *testing.T, content string) *shelly.MessageRequest {
	t.Helper()
	req, err := shelly.NewRequest("claude-sonnet-4").
		Messages(shelly.UserText(content)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return req
}

func TestClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-key")
		}
		if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Errorf("anthropic-version = %q, want %q", got, "2023-06-01")
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}

		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if string(body["model"]) != `"claude-sonnet-4"` {
			t.Errorf("model = %s", body["model"])
		}
		if string(body["max_tokens"]) != "4096" {
			t.Errorf("max_tokens = %s, want 4096", body["max_tokens"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4",
			"content": [{"type": "text", "text": "Hello!"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	resp, err := c.Complete(context.Background(), buildRequest(t, "Hi"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("text = %q, want %q", resp.Text(), "Hello!")
	}
	if resp.StoppedFor() != shelly.StopEndTurn {
		t.Errorf("stop reason = %v, want end_turn", resp.StoppedFor())
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 4 {
		t.Errorf("usage = %+v, want 12 in / 4 out", resp.Usage)
	}
}

func TestClient_TrimsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		w.Write([]byte(`{"id":"msg_02","role":"assistant","model":"m","content":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "key")
	if _, err := c.Complete(context.Background(), buildRequest(t, "Hi")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(*testing.T, error)
	}{
		{"401 auth", http.StatusUnauthorized, func(t *testing.T, err error) {
			var e *shelly.ErrAuth
			if !errors.As(err, &e) {
				t.Errorf("err = %v, want *ErrAuth", err)
			}
		}},
		{"400 invalid request", http.StatusBadRequest, func(t *testing.T, err error) {
			var e *shelly.ErrInvalidRequest
			if !errors.As(err, &e) {
				t.Errorf("err = %v, want *ErrInvalidRequest", err)
			}
		}},
		{"402 balance", http.StatusPaymentRequired, func(t *testing.T, err error) {
			var e *shelly.ErrBalance
			if !errors.As(err, &e) {
				t.Errorf("err = %v, want *ErrBalance", err)
			}
		}},
		{"503 server error", http.StatusServiceUnavailable, func(t *testing.T, err error) {
			var e *shelly.ErrHTTP
			if !errors.As(err, &e) {
				t.Fatalf("err = %v, want *ErrHTTP", err)
			}
			if e.Status != http.StatusServiceUnavailable {
				t.Errorf("Status = %d, want 503", e.Status)
			}
		}},
		{"418 other non-success", http.StatusTeapot, func(t *testing.T, err error) {
			var e *shelly.ErrInvalidRequest
			if !errors.As(err, &e) {
				t.Fatalf("err = %v, want *ErrInvalidRequest", err)
			}
			if e.Status != http.StatusTeapot {
				t.Errorf("Status = %d, want 418", e.Status)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "key").Complete(context.Background(), buildRequest(t, "Hi"))
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

func TestClient_MalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": truncated`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "key").Complete(context.Background(), buildRequest(t, "Hi"))
	var e *shelly.ErrInvalidRequest
	if !errors.As(err, &e) {
		t.Fatalf("err = %v, want *ErrInvalidRequest", err)
	}
}

func TestClient_RetryExhaustion(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	p := shelly.WithRetry(New(srv.URL, "key"),
		shelly.RetryMax(2),
		shelly.RetryBaseDelay(10*time.Millisecond),
	)
	_, err := p.Complete(context.Background(), buildRequest(t, "Hi"))

	var exhausted *shelly.ErrExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ErrExhausted", err)
	}
	if !strings.Contains(err.Error(), "Exhausted") {
		t.Errorf("message %q should mention Exhausted", err.Error())
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("backend hits = %d, want 3", n)
	}
}

func TestClient_Name(t *testing.T) {
	if got := New("http://localhost", "key").Name(); got != "anthropic" {
		t.Errorf("Name() = %q, want %q", got, "anthropic")
	}
}
