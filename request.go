package shelly

// DefaultMaxTokens is used when a request does not set an output budget.
const DefaultMaxTokens = 4096

// RequestBuilder assembles a MessageRequest. Build rejects conversations
// that are empty or do not open with a user message.
type RequestBuilder struct {
	req MessageRequest
}

// NewRequest starts a request for the given model.
func NewRequest(model string) *RequestBuilder {
	return &RequestBuilder{req: MessageRequest{Model: model}}
}

// System sets the system prompt.
func (b *RequestBuilder) System(system string) *RequestBuilder {
	b.req.System = system
	return b
}

// Messages appends conversation messages.
func (b *RequestBuilder) Messages(messages ...Message) *RequestBuilder {
	b.req.Messages = append(b.req.Messages, messages...)
	return b
}

// Tools appends tool definitions offered to the model.
func (b *RequestBuilder) Tools(tools ...ToolDefinition) *RequestBuilder {
	b.req.Tools = append(b.req.Tools, tools...)
	return b
}

// MaxTokens sets the output token budget. Zero or negative falls back to
// DefaultMaxTokens at build time.
func (b *RequestBuilder) MaxTokens(n int) *RequestBuilder {
	b.req.MaxTokens = n
	return b
}

// Temperature sets the sampling temperature.
func (b *RequestBuilder) Temperature(v float64) *RequestBuilder {
	b.req.Temperature = &v
	return b
}

// TopP sets nucleus sampling.
func (b *RequestBuilder) TopP(v float64) *RequestBuilder {
	b.req.TopP = &v
	return b
}

// TopK limits sampling to the top K candidates.
func (b *RequestBuilder) TopK(v int) *RequestBuilder {
	b.req.TopK = &v
	return b
}

// StopSequences appends custom stop sequences.
func (b *RequestBuilder) StopSequences(seqs ...string) *RequestBuilder {
	b.req.StopSequences = append(b.req.StopSequences, seqs...)
	return b
}

// Metadata attaches request metadata.
func (b *RequestBuilder) Metadata(m map[string]any) *RequestBuilder {
	b.req.Metadata = m
	return b
}

// Build validates the request and returns it.
func (b *RequestBuilder) Build() (*MessageRequest, error) {
	if len(b.req.Messages) == 0 {
		return nil, &ErrRequestBuild{Detail: "messages must not be empty"}
	}
	if b.req.Messages[0].Role != RoleUser {
		return nil, &ErrRequestBuild{Detail: "first message must be from the user"}
	}
	if b.req.MaxTokens <= 0 {
		b.req.MaxTokens = DefaultMaxTokens
	}
	req := b.req
	return &req, nil
}
