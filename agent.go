package shelly

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default prompts. The system prompt is the static preamble; the journal
// context is appended to it on every inference call.
const (
	DefaultSystemPrompt = "You are Shelly, a system-level daemon process running on this machine with root privileges. " +
		"You have no permission boundary with the operating system. If the kernel exposes it, you can do it. " +
		"There is nothing on this machine that is off-limits to you. " +
		"You process one task at a time. When you receive input, you think, you act if needed, and you respond."

	DefaultInitPrompt = "You just started. You know nothing about this machine. Explore your environment and report what you find."

	DefaultIdentity = "Shelly"
)

// shutdownPrompt is the model's final turn before the process exits.
const shutdownPrompt = "The system is about to shut down. Please save any important state and perform any necessary cleanup. Report what you did."

// roundLimitNotice is returned in place of a model answer when the lenient
// loop hits the round bound.
const roundLimitNotice = "Maximum tool call rounds reached. Operation aborted."

// Config bounds the agent's lifecycle phases and fixes its request
// parameters.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	TopK        *int

	SystemPrompt  string
	InitPrompt    string
	MaxToolRounds int

	// StrictRounds switches round-bound overflow from the lenient sentinel
	// answer to a hard *ErrMaxToolRounds.
	StrictRounds bool

	InitTimeout     time.Duration
	ShutdownTimeout time.Duration
	HandleTimeout   time.Duration
}

// DefaultConfig returns the daemon's standard agent configuration. The
// model is deployment-specific and left empty.
func DefaultConfig() Config {
	return Config{
		MaxTokens:       DefaultMaxTokens,
		SystemPrompt:    DefaultSystemPrompt,
		InitPrompt:      DefaultInitPrompt,
		MaxToolRounds:   20,
		InitTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		HandleTimeout:   300 * time.Second,
	}
}

// Reply is the outcome of one handled request, ready for the wire.
type Reply struct {
	Content string
	IsError bool
}

// Agent drives the model <-> tool loop. One Agent serves the whole process.
// Concurrent HandleRequest calls are safe: each builds its own conversation,
// and the shared journal serializes itself.
type Agent struct {
	provider Provider
	tools    *Registry
	journal  *Journal
	cfg      Config
	logger   *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// AgentLogger sets the structured logger. If not set, a no-op logger is
// used.
func AgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates an agent over the given provider, tool registry and
// journal.
func NewAgent(p Provider, tools *Registry, journal *Journal, cfg Config, opts ...AgentOption) *Agent {
	a := &Agent{
		provider: p,
		tools:    tools,
		journal:  journal,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = nopLogger
	}
	return a
}

// RunInit runs the one-time exploration phase before the daemon starts
// serving. The whole phase shares one deadline. Hitting the round bound is
// a warning, not a failure; inference errors and the deadline are fatal.
func (a *Agent) RunInit(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.InitTimeout)
	defer cancel()

	a.logger.Info("running init phase", "timeout", a.cfg.InitTimeout)
	system := a.systemPrompt()
	messages := []Message{UserText(a.cfg.InitPrompt)}

	for round := 1; ; round++ {
		if round > a.cfg.MaxToolRounds {
			a.logger.Warn("init hit the tool round bound", "max", a.cfg.MaxToolRounds)
			return nil
		}
		req, err := a.buildRequest(system, messages)
		if err != nil {
			return err
		}
		resp, err := a.provider.Complete(ctx, req)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return &ErrTimeout{Secs: int(a.cfg.InitTimeout / time.Second)}
			}
			return fmt.Errorf("Inference error: %w", err)
		}
		if text := resp.Text(); text != "" {
			a.journal.AddObservation(text)
		}
		if resp.StoppedFor() != StopToolUse {
			a.logger.Info("init phase complete", "rounds", round)
			return nil
		}
		messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content})
		messages = a.executeToolCalls(ctx, resp, messages)
	}
}

// HandleRequest answers one client request under the handle timeout. It
// always returns a usable Reply; failures come back with IsError set.
func (a *Agent) HandleRequest(ctx context.Context, content string) Reply {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.HandleTimeout)
	defer cancel()

	text, err := a.handle(ctx, content)
	switch {
	case err == nil:
		a.journal.AddInteraction(content, text)
		return Reply{Content: text}
	case ctx.Err() == context.DeadlineExceeded:
		a.logger.Warn("request handling timed out", "timeout", a.cfg.HandleTimeout)
		a.journal.AddError("Handle timeout")
		return Reply{Content: "Request timeout", IsError: true}
	default:
		a.logger.Error("request handling failed", "error", err)
		a.journal.AddError(err.Error())
		return Reply{Content: err.Error(), IsError: true}
	}
}

// Shutdown gives the model one final turn to save state. Best-effort:
// failures are logged, never returned.
func (a *Agent) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	defer cancel()

	a.logger.Info("running shutdown phase", "timeout", a.cfg.ShutdownTimeout)
	text, err := a.handle(ctx, shutdownPrompt)
	if err != nil {
		a.logger.Warn("shutdown turn failed", "error", err)
		return
	}
	a.journal.AddObservation("Shutdown: " + text)
}

// handle runs the turn loop for one input. The conversation lives only for
// this call; persistent state is the journal.
func (a *Agent) handle(ctx context.Context, input string) (string, error) {
	system := a.systemPrompt()
	messages := []Message{UserText(input)}
	rounds := 0

	for {
		if !a.cfg.StrictRounds {
			rounds++
			if rounds > a.cfg.MaxToolRounds {
				a.logger.Warn("tool round bound reached", "max", a.cfg.MaxToolRounds)
				return roundLimitNotice, nil
			}
		}

		req, err := a.buildRequest(system, messages)
		if err != nil {
			return "", err
		}
		resp, err := a.provider.Complete(ctx, req)
		if err != nil {
			return "", fmt.Errorf("Inference error: %w", err)
		}

		if resp.StoppedFor() == StopToolUse {
			if a.cfg.StrictRounds {
				rounds++
				if rounds > a.cfg.MaxToolRounds {
					return "", &ErrMaxToolRounds{Max: a.cfg.MaxToolRounds, Actual: rounds}
				}
			}
			messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content})
			messages = a.executeToolCalls(ctx, resp, messages)
			continue
		}

		if resp.StoppedFor() == StopMaxTokens {
			a.logger.Warn("response truncated at max tokens")
		}
		return resp.Text(), nil
	}
}

// executeToolCalls runs every tool_use block strictly in content order and
// appends each result to the conversation immediately, preserving the
// tool_use_id pairing. Executor failures become is_error tool results so
// the model can react on its next turn.
func (a *Agent) executeToolCalls(ctx context.Context, resp *MessageResponse, messages []Message) []Message {
	for _, block := range resp.Content {
		if block.Type != BlockToolUse {
			continue
		}
		a.logger.Debug("executing tool", "tool", block.Name, "id", block.ID)
		out, err := a.tools.Execute(ctx, block.Name, block.Input)
		if err != nil {
			a.logger.Error("tool execution failed", "tool", block.Name, "error", err)
			messages = append(messages, Message{
				Role:    RoleUser,
				Content: []ContentBlock{ToolResultBlock(block.ID, "Error: "+err.Error(), true)},
			})
			a.journal.AddError(fmt.Sprintf("%s: %v", block.Name, err))
			continue
		}
		result := out.Content
		if out.IsError {
			result = "Error: " + out.Content
		}
		messages = append(messages, Message{
			Role:    RoleUser,
			Content: []ContentBlock{ToolResultBlock(block.ID, result, out.IsError)},
		})
		a.journal.AddToolResult(block.Name, result)
	}
	return messages
}

// systemPrompt snapshots the journal into the static preamble. Taken once
// per lifecycle call, not per model turn.
func (a *Agent) systemPrompt() string {
	return a.cfg.SystemPrompt + "\n\n# Current Context\n" + a.journal.Context()
}

func (a *Agent) buildRequest(system string, messages []Message) (*MessageRequest, error) {
	b := NewRequest(a.cfg.Model).
		System(system).
		Messages(messages...).
		Tools(a.tools.Definitions()...).
		MaxTokens(a.cfg.MaxTokens)
	if a.cfg.Temperature != nil {
		b = b.Temperature(*a.cfg.Temperature)
	}
	if a.cfg.TopP != nil {
		b = b.TopP(*a.cfg.TopP)
	}
	if a.cfg.TopK != nil {
		b = b.TopK(*a.cfg.TopK)
	}
	return b.Build()
}

// nopLogger is a logger that discards all output. Used when no logger
// option is set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
