package shelly

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// ToolOutput is the outcome of one tool invocation.
type ToolOutput struct {
	Content string
	IsError bool
}

// Tool is a locally executable capability exposed to the model.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, input json.RawMessage) (ToolOutput, error)
}

// ExecutionConstraints bound a single tool invocation.
type ExecutionConstraints struct {
	Timeout   time.Duration
	MaxOutput int // bytes of combined captured output
}

// DefaultConstraints returns the daemon's standard tool bounds.
func DefaultConstraints() ExecutionConstraints {
	return ExecutionConstraints{
		Timeout:   30 * time.Second,
		MaxOutput: 1 << 20,
	}
}

// Registry maps tool names to implementations. It is populated at startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Add(t)
	}
	return r
}

// Add registers a tool. A later registration replaces an earlier one with
// the same name but keeps its position.
func (r *Registry) Add(t Tool) {
	name := t.Definition().Name
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Definitions returns a snapshot of all tool definitions in registration
// order, suitable for inclusion in an inference request.
func (r *Registry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute dispatches a tool call by name.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (ToolOutput, error) {
	t, ok := r.tools[name]
	if !ok {
		return ToolOutput{}, &ErrUnknownTool{Tool: name}
	}
	return t.Execute(ctx, input)
}

// LoadDescriptions reads tool description overrides from a TOML file:
//
//	[bash]
//	description = "Run commands on the build host."
//
// A missing file is not an error; the result is nil.
func LoadDescriptions(path string) (map[string]string, error) {
	var table map[string]struct {
		Description string `toml:"description"`
	}
	if _, err := toml.DecodeFile(path, &table); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load tool descriptions from %s: %w", path, err)
	}
	out := make(map[string]string, len(table))
	for name, entry := range table {
		if entry.Description != "" {
			out[name] = entry.Description
		}
	}
	return out, nil
}
