// Package bash exposes the daemon's built-in shell tool: one command per
// invocation, run through /bin/sh -c with the daemon's privileges.
package bash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/XuanLee-HEALER/shelly"
)

// Name is the tool's registry key.
const Name = "bash"

// DefaultDescription is used when no override is configured.
const DefaultDescription = "Execute a shell command via /bin/sh -c.\n" +
	"The system is Linux.\n" +
	"Commands run with daemon process privileges.\n" +
	"Stdout and stderr are captured. Exit code is returned."

// inputSchema declares the tool's input shape to the model.
const inputSchema = `{"type":"object","properties":{"command":{"type":"string","description":"The bash command to execute"}},"required":["command"]}`

// truncationMarker is appended when captured output exceeds the cap.
const truncationMarker = "\n... (output truncated)"

// Tool runs shell commands. Output is composed of [stdout], [stderr] and
// [exit_code] sections; the exit code section is always present and always
// last, so callers can anchor on it.
type Tool struct {
	description string
	shell       string
	constraints shelly.ExecutionConstraints
	logger      *slog.Logger
}

// Option configures a Tool.
type Option func(*Tool)

// WithDescription overrides the tool description shown to the model.
func WithDescription(desc string) Option {
	return func(t *Tool) {
		if desc != "" {
			t.description = desc
		}
	}
}

// WithShell sets the shell binary. Default: /bin/sh.
func WithShell(path string) Option {
	return func(t *Tool) {
		if path != "" {
			t.shell = path
		}
	}
}

// WithConstraints sets the per-invocation timeout and output cap.
func WithConstraints(c shelly.ExecutionConstraints) Option {
	return func(t *Tool) { t.constraints = c }
}

// WithLogger sets the structured logger. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

// New creates the bash tool with default constraints (30s, 1 MiB).
func New(opts ...Option) *Tool {
	t := &Tool{
		description: DefaultDescription,
		shell:       "/bin/sh",
		constraints: shelly.DefaultConstraints(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(discardHandler{})
	}
	return t
}

// Definition implements shelly.Tool.
func (t *Tool) Definition() shelly.ToolDefinition {
	return shelly.ToolDefinition{
		Name:        Name,
		Description: t.description,
		InputSchema: json.RawMessage(inputSchema),
	}
}

// Execute runs one command. The returned output carries the section-formatted
// capture; IsError reports a non-zero exit or death by signal. Input that
// does not parse, a shell that cannot be spawned, and a blown deadline come
// back as typed executor errors instead.
func (t *Tool) Execute(ctx context.Context, input json.RawMessage) (shelly.ToolOutput, error) {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return shelly.ToolOutput{}, &shelly.ErrInvalidInput{Tool: Name, Detail: err.Error()}
	}
	if params.Command == "" {
		return shelly.ToolOutput{}, &shelly.ErrInvalidInput{Tool: Name, Detail: "command is required"}
	}

	start := time.Now()
	t.logger.Debug("executing bash command", "command", params.Command)

	cmdCtx := ctx
	if t.constraints.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, t.constraints.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return shelly.ToolOutput{}, &shelly.ErrSpawnFailed{Tool: Name, Detail: err.Error()}
	}

	err := cmd.Wait()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return shelly.ToolOutput{}, &shelly.ErrToolTimeout{
			Tool: Name,
			Secs: int(t.constraints.Timeout / time.Second),
		}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return shelly.ToolOutput{}, &shelly.ErrSpawnFailed{Tool: Name, Detail: err.Error()}
		}
	}

	exitCode := cmd.ProcessState.ExitCode() // -1 when killed by a signal
	content := t.compose(stdout.Bytes(), stderr.Bytes(), exitCode)
	isError := !cmd.ProcessState.Success()

	t.logger.Info("bash command executed",
		"command", truncateCommand(params.Command),
		"duration", time.Since(start),
		"exit_code", exitCode,
		"output_bytes", len(content),
		"is_error", isError)

	return shelly.ToolOutput{Content: content, IsError: isError}, nil
}

// compose builds the section output. Stdout and stderr sections appear only
// when nonempty; the exit code section always terminates the content.
func (t *Tool) compose(stdout, stderr []byte, exitCode int) string {
	var b strings.Builder
	if len(stdout) > 0 {
		b.WriteString("[stdout]\n")
		b.WriteString(lossyString(stdout))
	}
	if len(stderr) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[stderr]\n")
		b.WriteString(lossyString(stderr))
	}
	captured := b.String()
	if max := t.constraints.MaxOutput; max > 0 && len(captured) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(captured[cut]) {
			cut--
		}
		captured = captured[:cut] + truncationMarker
	}
	return captured + "\n[exit_code]\n" + strconv.Itoa(exitCode)
}

// lossyString converts raw process output to valid UTF-8, replacing invalid
// sequences with U+FFFD.
func lossyString(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// truncateCommand shortens a command for log lines.
func truncateCommand(cmd string) string {
	const max = 100
	if len(cmd) <= max {
		return cmd
	}
	return cmd[:max]
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

var _ shelly.Tool = (*Tool)(nil)
