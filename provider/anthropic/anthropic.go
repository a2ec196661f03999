// Package anthropic implements shelly.Provider against an
// Anthropic-style Messages API endpoint.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/XuanLee-HEALER/shelly"
)

// apiVersion is the protocol version header sent with every request.
const apiVersion = "2023-06-01"

// DefaultTimeout bounds each HTTP round trip.
const DefaultTimeout = 120 * time.Second

// Client posts requests to a /v1/messages endpoint. It performs no
// retries itself; wrap it with shelly.WithRetry for backoff.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout. Default: 120s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a Client. endpoint is the API base, e.g.
// "https://api.anthropic.com"; the /v1/messages path is appended on
// every request.
func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the backend in logs.
func (c *Client) Name() string { return "anthropic" }

// Complete posts one request and maps the HTTP status onto the error
// taxonomy: 401 authentication, 400 invalid request, 402 insufficient
// balance, 5xx retryable server error. Any other non-success status is
// reported as an invalid request.
func (c *Client) Complete(ctx context.Context, req *shelly.MessageRequest) (*shelly.MessageResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out shelly.MessageResponse
		if err := json.Unmarshal(body, &out); err != nil {
			// A success body that does not parse is terminal, not retryable.
			return nil, &shelly.ErrInvalidRequest{
				Status: resp.StatusCode,
				Body:   fmt.Sprintf("decode response: %v", err),
			}
		}
		return &out, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &shelly.ErrAuth{Body: string(body)}
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &shelly.ErrInvalidRequest{Status: resp.StatusCode, Body: string(body)}
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, &shelly.ErrBalance{Body: string(body)}
	case resp.StatusCode >= 500:
		return nil, &shelly.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	default:
		return nil, &shelly.ErrInvalidRequest{Status: resp.StatusCode, Body: string(body)}
	}
}

var _ shelly.Provider = (*Client)(nil)
