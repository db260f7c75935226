// Package tools implements the Tool Harness (C3): uniform dispatch for
// built-in/user, MCP, and sub-agent tools, converting the three executor
// outcome variants (success/error/suspended) into the common tool-result
// envelope described in spec.md §4.3.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/run"
)

// OutcomeKind tags which variant an Executor returned (spec.md §4.3 step 3).
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeError     OutcomeKind = "error"
	OutcomeSuspended OutcomeKind = "suspended"
)

type (
	// Def declares a built-in/user tool: its name, JSON-schema parameters,
	// and local executor (spec.md §4.3 "(i) manifest-declared tools").
	Def struct {
		Name        string
		Description string
		Schema      json.RawMessage
		Tags        []string
		Execute     Executor
	}

	// ExecContext is the full execution context passed to an executor
	// (spec.md §4.3 step 2): "{ ctx, messages-so-far, step-number, parent
	// manifest metadata, tool-call-id }".
	ExecContext struct {
		RunID               string
		AgentID             string
		ManifestVersion     string
		Messages            []message.Message
		StepNumber          int
		ToolCallID          string
		ParentToolCallID    string
		SessionID           string
		TurnID              string
	}

	// Executor runs a single tool call and reports one of the three outcome
	// variants. Deterministic when input is deterministic; side effects are
	// owned by the tool (spec.md §6 "Tool executor (consumed)").
	Executor interface {
		Execute(ctx context.Context, ectx ExecContext, input json.RawMessage) (Outcome, error)
	}

	// ExecutorFunc adapts a function to the Executor interface.
	ExecutorFunc func(ctx context.Context, ectx ExecContext, input json.RawMessage) (Outcome, error)

	// Outcome is the tagged result of an Executor call (spec.md §4.3 step 3).
	// Exactly the fields relevant to Kind are populated.
	Outcome struct {
		Kind OutcomeKind

		// Value holds the success payload. Strings become {type:text}
		// tool-results; anything else is JSON-marshaled as {type:json}
		// (spec.md §4.3 step 5).
		Value any

		// ErrMessage/ErrCode/Retryable populate the OutcomeError variant.
		ErrMessage string
		ErrCode    string
		Retryable  bool

		// Suspension populates the OutcomeSuspended variant.
		Suspension *Suspension
	}

	// Suspension is the payload of an OutcomeSuspended result (spec.md §4.3
	// step 3): "suspended(suspensions, run-id, sub-agent-id,
	// sub-agent-version, suspension-stacks)".
	Suspension struct {
		Suspensions      []run.Suspension
		RunID            string
		SubAgentID       string
		SubAgentVersion  string
		SuspensionStacks []run.SuspensionStack
	}
)

// Execute calls f(ctx, ectx, input).
func (f ExecutorFunc) Execute(ctx context.Context, ectx ExecContext, input json.RawMessage) (Outcome, error) {
	return f(ctx, ectx, input)
}

// Success builds an OutcomeSuccess outcome.
func Success(value any) Outcome { return Outcome{Kind: OutcomeSuccess, Value: value} }

// Failure builds an OutcomeError outcome.
func Failure(message, code string, retryable bool) Outcome {
	return Outcome{Kind: OutcomeError, ErrMessage: message, ErrCode: code, Retryable: retryable}
}

// Suspended builds an OutcomeSuspended outcome.
func Suspended(s Suspension) Outcome {
	return Outcome{Kind: OutcomeSuspended, Suspension: &s}
}

// ToResultPart converts an Outcome into a tool-result content part per
// spec.md §4.3 step 5. Only called for OutcomeSuccess/OutcomeError; callers
// must handle OutcomeSuspended separately (short-circuiting the batch).
func (o Outcome) ToResultPart(toolCallID, toolName string) (message.Part, error) {
	part := message.Part{Type: message.PartToolResult, ToolCallID: toolCallID, ToolName: toolName}
	switch o.Kind {
	case OutcomeSuccess:
		if s, ok := o.Value.(string); ok {
			part.Output = message.TextOutput(s)
			return part, nil
		}
		out, err := message.JSONOutput(o.Value)
		if err != nil {
			return message.Part{}, err
		}
		part.Output = out
		return part, nil
	case OutcomeError:
		part.IsError = true
		part.Output = message.ErrorJSONOutput(o.ErrMessage, o.ErrCode)
		return part, nil
	default:
		return message.Part{}, errInvalidOutcome
	}
}

var errInvalidOutcome = errInvalid("tools: ToResultPart called on a suspended outcome")

type errInvalid string

func (e errInvalid) Error() string { return string(e) }

// elapsedSince returns the time elapsed since start; Harness.Dispatch uses it
// to time each executor call.
func elapsedSince(start time.Time) time.Duration { return time.Since(start) }
