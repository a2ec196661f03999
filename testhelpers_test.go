package shelly

import (
	"context"
	"encoding/json"
	"sync"
)

// --- Provider stubs (shared across retry_test.go, agent_test.go) ---

// scriptedProvider returns canned results in order, repeating the last one
// once the script runs out.
type scriptedProvider struct {
	calls    int
	results  []scriptResult
	requests []*MessageRequest // every request seen, in order
}

type scriptResult struct {
	resp *MessageResponse
	err  error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req *MessageRequest) (*MessageResponse, error) {
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	r := p.results[i]
	return r.resp, r.err
}

// blockingProvider parks until the context dies.
type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }

func (blockingProvider) Complete(ctx context.Context, _ *MessageRequest) (*MessageResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func textResponse(text string, stop StopReason) *MessageResponse {
	return &MessageResponse{
		ID:         "msg_test",
		Role:       RoleAssistant,
		Content:    []ContentBlock{TextBlock(text)},
		Model:      "stub",
		StopReason: &stop,
	}
}

func toolUseResponse(blocks ...ContentBlock) *MessageResponse {
	stop := StopToolUse
	return &MessageResponse{
		ID:         "msg_test",
		Role:       RoleAssistant,
		Content:    blocks,
		Model:      "stub",
		StopReason: &stop,
	}
}

// --- Tool stubs ---

// countingTool records every invocation and replies with a fixed output.
type countingTool struct {
	name   string
	output ToolOutput
	err    error

	mu     sync.Mutex
	inputs []json.RawMessage
}

func (t *countingTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        t.name,
		Description: "test tool",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

func (t *countingTool) Execute(_ context.Context, input json.RawMessage) (ToolOutput, error) {
	t.mu.Lock()
	t.inputs = append(t.inputs, append(json.RawMessage(nil), input...))
	t.mu.Unlock()
	if t.err != nil {
		return ToolOutput{}, t.err
	}
	return t.output, nil
}

func (t *countingTool) executions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inputs)
}

// --- Archive stub ---

// captureArchive collects saved entries and signals each arrival.
type captureArchive struct {
	mu      sync.Mutex
	entries []Entry
	saved   chan struct{}
}

func newCaptureArchive(buffer int) *captureArchive {
	return &captureArchive{saved: make(chan struct{}, buffer)}
}

func (a *captureArchive) Save(_ context.Context, e Entry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	a.saved <- struct{}{}
	return nil
}

func (a *captureArchive) all() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.entries...)
}
