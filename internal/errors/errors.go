// Package errors provides structured error types for gatesh.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// for consistent output from the CLI surface. PipelineError classifies
// failures inside the trust pipeline (sandbox, gateway, backend,
// supervisor) so the router can decide between fail-open and fail-closed
// handling without string matching.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Exit codes for CLI errors.
const (
	ExitSuccess   = 0  // Successful execution
	ExitGeneral   = 1  // General error
	ExitConfig    = 4  // Configuration error
	ExitTimeout   = 5  // Execution timeout
	ExitExecution = 6  // Execution failure
	ExitUsage     = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// PipelineKind classifies trust-pipeline failures.
type PipelineKind int

const (
	// KindChannelUnavailable means no connection or a failed spawn. The
	// pipeline degrades to a less-trusted path; never fatal.
	KindChannelUnavailable PipelineKind = iota
	// KindTimeout means the single in-flight request expired. Terminal
	// for that request, never retried automatically.
	KindTimeout
	// KindBlocked is a policy-driven refusal. Always surfaced with its
	// reason, never silently swallowed.
	KindBlocked
	// KindProcessDied means a supervised child process is gone.
	KindProcessDied
)

func (k PipelineKind) String() string {
	switch k {
	case KindChannelUnavailable:
		return "channel_unavailable"
	case KindTimeout:
		return "timeout"
	case KindBlocked:
		return "blocked"
	case KindProcessDied:
		return "process_died"
	default:
		return "unknown"
	}
}

// PipelineError is a classified failure from a pipeline component.
type PipelineError struct {
	// Kind is the failure classification.
	Kind PipelineKind

	// Component names the failing component ("sandbox", "gateway",
	// "backend", "supervisor").
	Component string

	// Reason is user-visible detail; required for KindBlocked.
	Reason string

	// Elapsed is how long the request ran before failing, when known.
	Elapsed time.Duration

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Component, e.Kind)

	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	if e.Elapsed > 0 {
		msg += fmt.Sprintf(" after %s", e.Elapsed.Round(time.Millisecond))
	}

	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Unavailable builds a KindChannelUnavailable error.
func Unavailable(component string, cause error) *PipelineError {
	return &PipelineError{Kind: KindChannelUnavailable, Component: component, Cause: cause}
}

// Timeout builds a KindTimeout error carrying the elapsed wait.
func Timeout(component string, elapsed time.Duration) *PipelineError {
	return &PipelineError{Kind: KindTimeout, Component: component, Elapsed: elapsed}
}

// Blocked builds a KindBlocked error with its mandatory reason.
func Blocked(component, reason string) *PipelineError {
	return &PipelineError{Kind: KindBlocked, Component: component, Reason: reason}
}

// ProcessDied builds a KindProcessDied error.
func ProcessDied(component string, cause error) *PipelineError {
	return &PipelineError{Kind: KindProcessDied, Component: component, Cause: cause}
}

// IsKind reports whether err is a PipelineError of the given kind.
func IsKind(err error, kind PipelineKind) bool {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Kind == kind
	}

	return false
}
