package shelly

import "context"

// Provider abstracts the inference backend.
type Provider interface {
	// Complete sends one request and returns the parsed response.
	Complete(ctx context.Context, req *MessageRequest) (*MessageResponse, error)
	// Name returns the provider name (e.g. "anthropic").
	Name() string
}
