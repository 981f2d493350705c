// Package engine implements the task execution engine (C7): a bounded
// tool-calling conversation loop with correctness gates, structured error
// classification, loop detection, and per-step event emission — the
// "heart" component per the design, generalized from the teacher's
// internal/agent/loop.go state machine and internal/agent/errors.go
// classification.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/forgehq/taskforge/internal/sandbox"
)

// ErrorKind is the closed set of tool-error classifications from spec §7.
type ErrorKind string

const (
	KindPermission         ErrorKind = "permission"
	KindInvalidArgs        ErrorKind = "invalid_args"
	KindIOError            ErrorKind = "io_error"
	KindUnexpected         ErrorKind = "unexpected"
	KindFinishMissingFields ErrorKind = "finish_missing_fields"
	KindFinishNoPriorWork  ErrorKind = "finish_no_prior_work"
	KindQualityGateFailed  ErrorKind = "quality_gate_failed"
)

// ToolError carries a classified tool failure back to the loop, which
// reports it to the model and continues — it is never the cause of an
// aborted run.
type ToolError struct {
	Kind     ErrorKind
	ToolName string
	Cause    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %v", e.ToolName, e.Kind, e.Cause)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// classifyToolError maps a raw error from pack.ExecuteTool into a
// ToolError, grounded on the teacher's classifyToolError pattern: sentinel
// checks first, then string-pattern matching, with an unexpected fallback.
func classifyToolError(toolName string, err error) *ToolError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sandbox.ErrPermission):
		return &ToolError{Kind: KindPermission, ToolName: toolName, Cause: err}
	case errors.Is(err, sandbox.ErrInvalidArgument):
		return &ToolError{Kind: KindInvalidArgs, ToolName: toolName, Cause: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "not allowed"):
		return &ToolError{Kind: KindPermission, ToolName: toolName, Cause: err}
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "missing required"):
		return &ToolError{Kind: KindInvalidArgs, ToolName: toolName, Cause: err}
	case strings.Contains(msg, "no such file") || strings.Contains(msg, "i/o") || strings.Contains(msg, "read") || strings.Contains(msg, "write"):
		return &ToolError{Kind: KindIOError, ToolName: toolName, Cause: err}
	default:
		return &ToolError{Kind: KindUnexpected, ToolName: toolName, Cause: err}
	}
}

// LoopError wraps a fatal failure that aborts the run (llm_transport or
// recruit_error in spec §7 terms) with the phase and step it happened in.
type LoopError struct {
	Phase string
	Step  int
	Cause error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("engine: %s at step %d: %v", e.Phase, e.Step, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// ErrMaxSteps names the step-budget condition. Loop.Run neither returns
// nor records it: exhausting the budget yields a structured final payload
// whose notes say max_steps was reached.
var ErrMaxSteps = errors.New("engine: max steps reached")

// recoverPanic turns a panic inside Loop.Run into a LoopError instead of
// letting it crash the caller's goroutine. It must itself be the deferred
// call (recover only stops a panic when called directly by a deferred
// function). Run defers it before Pack.Close, so during a panic unwind
// Close runs first and this then stops the panic from propagating past
// Run, overwriting Run's named results.
func recoverPanic(step *int, result *Result, err *error) {
	if r := recover(); r != nil {
		*result = Result{}
		*err = &LoopError{Phase: "tool_execute", Step: *step, Cause: fmt.Errorf("panic: %v", r)}
	}
}
