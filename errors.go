package shelly

import "fmt"

// --- Inference errors ---

// ErrHTTP is a server-class backend failure (HTTP 5xx). Retryable.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrAuth is an HTTP 401 from the backend. Never retried.
type ErrAuth struct {
	Body string
}

func (e *ErrAuth) Error() string {
	return fmt.Sprintf("Authentication failed: %s", e.Body)
}

// ErrInvalidRequest covers HTTP 400, unexpected non-success statuses, and
// unparseable success bodies. Never retried.
type ErrInvalidRequest struct {
	Status int
	Body   string
}

func (e *ErrInvalidRequest) Error() string {
	if e.Status != 0 && e.Status != 400 {
		return fmt.Sprintf("Invalid request: HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("Invalid request: %s", e.Body)
}

// ErrBalance is an HTTP 402 from the backend. Never retried.
type ErrBalance struct {
	Body string
}

func (e *ErrBalance) Error() string {
	return fmt.Sprintf("Insufficient balance: %s", e.Body)
}

// ErrExhausted reports that the retry budget ran out. Retries counts every
// attempt made, including the first.
type ErrExhausted struct {
	Retries int
	Last    error
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("Exhausted: max retries (%d) exceeded, last error: %v", e.Retries, e.Last)
}

func (e *ErrExhausted) Unwrap() error { return e.Last }

// --- Agent errors ---

// ErrRequestBuild indicates an invalid conversation shape. Programmer error.
type ErrRequestBuild struct {
	Detail string
}

func (e *ErrRequestBuild) Error() string {
	return fmt.Sprintf("Request build error: %s", e.Detail)
}

// ErrMaxToolRounds is returned in strict mode when the model asks for one
// tool round more than the configured bound allows.
type ErrMaxToolRounds struct {
	Max    int
	Actual int
}

func (e *ErrMaxToolRounds) Error() string {
	return fmt.Sprintf("Max tool rounds exceeded: %d (max %d)", e.Actual, e.Max)
}

// ErrTimeout reports an expired lifecycle deadline.
type ErrTimeout struct {
	Secs int
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("Timeout after %ds", e.Secs)
}

// --- Executor errors ---

// ErrUnknownTool is returned when a tool name is not in the registry.
type ErrUnknownTool struct {
	Tool string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("Unknown tool: %s", e.Tool)
}

// ErrInvalidInput is returned when a tool's input fails to deserialize or
// validate.
type ErrInvalidInput struct {
	Tool   string
	Detail string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("Invalid input for tool '%s': %s", e.Tool, e.Detail)
}

// ErrSpawnFailed is returned when a tool's subprocess could not be started.
type ErrSpawnFailed struct {
	Tool   string
	Detail string
}

func (e *ErrSpawnFailed) Error() string {
	return fmt.Sprintf("Failed to spawn process for tool '%s': %s", e.Tool, e.Detail)
}

// ErrToolTimeout is returned when a tool invocation exceeded its deadline.
type ErrToolTimeout struct {
	Tool string
	Secs int
}

func (e *ErrToolTimeout) Error() string {
	return fmt.Sprintf("Execution timeout for tool '%s' after %d seconds", e.Tool, e.Secs)
}
