package models

import (
	"fmt"
	"time"
)

// Error taxonomy for the runtime. Each failure class gets a concrete type
// so call sites can branch with errors.As instead of string matching.

// ValidationError means tool arguments did not satisfy the input schema.
// Never retried; fails only the single tool call.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("tool %s: invalid argument %q: %s", e.Tool, e.Field, e.Reason)
	}
	return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, e.Reason)
}

// AuthError means the tool is disallowed for the channel or tenant.
// Never retried.
type AuthError struct {
	Tool   string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("tool %s: not authorized: %s", e.Tool, e.Reason)
}

// RateLimitError is the structured over-limit outcome from the rate
// limiter collaborator. RetryAfter tells the caller when to try again.
type RateLimitError struct {
	Tool       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("tool %s: rate limited, retry after %s", e.Tool, e.RetryAfter)
}

// ProviderError means every configured generation provider failed.
type ProviderError struct {
	Attempts int
	Last     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("all %d providers failed, last error: %v", e.Attempts, e.Last)
}

func (e *ProviderError) Unwrap() error { return e.Last }

// ToolExecutionError wraps a handler failure. Transient failures
// (timeouts, server errors) are eligible for the tool's retry policy;
// permanent ones are not.
type ToolExecutionError struct {
	Tool      string
	Transient bool
	Err       error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: execution failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// Transient marks err as a transient tool failure.
func Transient(tool string, err error) error {
	return &ToolExecutionError{Tool: tool, Transient: true, Err: err}
}

// Permanent marks err as a permanent tool failure.
func Permanent(tool string, err error) error {
	return &ToolExecutionError{Tool: tool, Transient: false, Err: err}
}

// ParseError means model output did not match the structured response
// contract. The pipeline degrades to a fallback intent instead of failing.
type ParseError struct {
	RequestID string
	Raw       string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("request %s: response contract parse failed: %v", e.RequestID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError wraps a conversation store failure.
type PersistenceError struct {
	ConversationID string
	Op             string // get, save
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("conversation %s: %s failed: %v", e.ConversationID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
