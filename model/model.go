// Package model defines the completions-gateway contract consumed by the
// step loop (C4). Concrete provider adapters (model/anthropic,
// model/openai) translate this provider-agnostic contract onto a specific
// vendor SDK; per spec.md §1 Non-goals, this package never reimplements a
// model provider itself.
package model

import (
	"context"

	"github.com/coopersmall/agentruntime/message"
)

// StopWhen is a single stop condition passed to the gateway for a single
// step call. The step loop always passes exactly one entry,
// {Type: StopAfterSteps, Count: 1}, per spec.md §4.4 step 4.
type StopWhen struct {
	Type  StopWhenType
	Count int
}

// StopWhenType tags a StopWhen variant.
type StopWhenType string

// StopAfterSteps is the only StopWhenType the step loop uses; the gateway
// returns after exactly Count internal provider turns.
const StopAfterSteps StopWhenType = "stepCount"

// ToolChoice constrains which tool(s), if any, the model may call.
type ToolChoice struct {
	// Mode is "auto", "none", "required", or "tool" (in which case Tool
	// names the single tool the model must call).
	Mode string
	Tool string
}

type (
	// Request is the provider-agnostic payload for a single completions
	// call (spec.md §6 "Completions gateway (consumed)").
	Request struct {
		Provider    string
		Model       string
		SystemPrompt string
		Messages    []message.Message
		Tools       []ToolDecl
		ToolChoice  *ToolChoice
		// ActiveTools restricts Tools to this subset by name, when non-nil
		// (spec.md §4.4 step 3, PrepareStep hook).
		ActiveTools []string
		StopWhen    []StopWhen
		// MCPServers lists external protocol servers the provider should
		// treat as natively available, when the provider supports
		// server-side tool execution.
		MCPServers []string
	}

	// ToolDecl is a tool's wire declaration for the gateway: name and
	// JSON-schema parameters.
	ToolDecl struct {
		Name        string
		Description string
		Schema      []byte
	}

	// ToolCall is one tool invocation the model requested.
	ToolCall struct {
		ID    string
		Name  string
		Input string // canonical JSON, per message.CanonicalJSON
	}

	// Usage is per-call token accounting.
	Usage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Response is the gateway's reply to a single completions call
	// (spec.md §6: "{text, reasoning[], toolCalls[], steps[last],
	// finishReason, usage}").
	Response struct {
		Text         string
		Reasoning    []string
		ToolCalls    []ToolCall
		// ContentParts carries the full ordered content, including any
		// tool-approval-request parts the provider surfaced (spec.md §6:
		// "Tool-approval-request stream parts ... MUST be surfaced in the
		// response's content parts").
		ContentParts []message.Part
		FinishReason string
		Usage        Usage
		Warnings     []string
	}

	// StreamPart is one element of a streaming completions call.
	StreamPart struct {
		Kind  StreamPartKind
		Text  string
		Final *Response
	}

	// StreamPartKind tags a StreamPart variant.
	StreamPartKind string
)

const (
	StreamPartTextDelta      StreamPartKind = "text-delta"
	StreamPartReasoningDelta StreamPartKind = "reasoning-delta"
	StreamPartFinish         StreamPartKind = "finish"
)

// Gateway is the completions-gateway interface consumed by the step loop.
// Implementations may be a single provider SDK (model/anthropic,
// model/openai) or a router across several.
type Gateway interface {
	// Complete issues a single non-streaming completions call.
	Complete(ctx context.Context, req Request) (Response, error)
	// Stream issues a streaming completions call; fn is invoked for every
	// part, including the terminal StreamPartFinish part which carries the
	// full Response in StreamPart.Final.
	Stream(ctx context.Context, req Request, fn func(StreamPart) error) error
}
