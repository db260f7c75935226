package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coopersmall/agentruntime/hooks"
	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/telemetry"
)

type (
	// ToolSet is the per-run assembly of tools described in spec.md §4.3:
	// manifest-declared tools, MCP-server tools, one optional output tool,
	// and one generated tool per sub-agent reference. Built by the caller
	// (typically the stream orchestrator's ToolSets builder) and handed to
	// the Harness for dispatch.
	ToolSet struct {
		defs       map[string]Def
		outputTool string
	}

	// Harness is the Tool Harness (C3). It owns no per-run state; a single
	// Harness instance can be shared across concurrent runs.
	Harness struct {
		hooks   hooks.Bus
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
	}

	// HarnessOption configures a Harness.
	HarnessOption func(*Harness)

	// DispatchResult is returned by Harness.Dispatch.
	DispatchResult struct {
		// Results holds one tool-result part per successfully dispatched
		// call, in call order. Per spec.md §4.3 step 4, if a suspension
		// occurs mid-batch, Results reflects only the calls that completed
		// before the suspending call and is discarded by the step loop
		// (the committed assistant message gets an empty tool-result list;
		// see spec.md §4.4 step 5/10 and SPEC_FULL.md open-question D.2).
		Results []message.Part
		// Suspended is non-nil if a tool call returned OutcomeSuspended,
		// short-circuiting the remaining batch (spec.md §4.3 step 4).
		Suspended *Suspension
	}
)

// WithHooks sets the event bus used to publish tool-call lifecycle events.
func WithHooks(bus hooks.Bus) HarnessOption { return func(h *Harness) { h.hooks = bus } }

// WithLogger sets the harness logger.
func WithLogger(l telemetry.Logger) HarnessOption { return func(h *Harness) { h.logger = l } }

// WithMetrics sets the harness metrics recorder.
func WithMetrics(m telemetry.Metrics) HarnessOption { return func(h *Harness) { h.metrics = m } }

// WithTracer sets the harness tracer.
func WithTracer(t telemetry.Tracer) HarnessOption { return func(h *Harness) { h.tracer = t } }

// NewHarness constructs a Harness, substituting noop telemetry and an
// in-memory hook bus for unset options.
func NewHarness(opts ...HarnessOption) *Harness {
	h := &Harness{
		hooks:   hooks.NewBus(),
		logger:  telemetry.NoopLogger{},
		metrics: telemetry.NoopMetrics{},
		tracer:  telemetry.NoopTracer{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// NewToolSet assembles a ToolSet from the given tool definitions. outputTool
// names the tool (if any) whose invocation captures the run's structured
// output (spec.md §3 "output-tool?").
func NewToolSet(defs []Def, outputTool string) *ToolSet {
	ts := &ToolSet{defs: make(map[string]Def, len(defs)), outputTool: outputTool}
	for _, d := range defs {
		ts.defs[d.Name] = d
	}
	return ts
}

// Add registers or overwrites a tool definition (used to append MCP-derived
// and sub-agent tools to a base ToolSet at run start).
func (ts *ToolSet) Add(d Def) { ts.defs[d.Name] = d }

// Lookup returns the tool definition for name.
func (ts *ToolSet) Lookup(name string) (Def, bool) {
	d, ok := ts.defs[name]
	return d, ok
}

// IsOutputTool reports whether name is this ToolSet's output tool.
func (ts *ToolSet) IsOutputTool(name string) bool {
	return ts.outputTool != "" && ts.outputTool == name
}

// OutputToolName returns the configured output tool name, or "" if none.
func (ts *ToolSet) OutputToolName() string { return ts.outputTool }

// All returns every registered tool definition, in no particular order. Used
// to build the completions gateway's tool declarations for a step.
func (ts *ToolSet) All() []Def {
	out := make([]Def, 0, len(ts.defs))
	for _, d := range ts.defs {
		out = append(out, d)
	}
	return out
}

// Dispatch executes calls in order, implementing the dispatch contract of
// spec.md §4.3:
//
//  1. Unknown tool name -> synthetic isError tool-result, continue (does not
//     abort the batch or the run).
//  2. Otherwise invoke the executor with the full ExecContext.
//  3. success/error -> serialize into a tool-result part, continue.
//  4. suspended -> stop processing the remaining calls in this batch and
//     return early; the step loop discards Results for this step (see
//     DispatchResult.Results doc).
//
// Dispatch honors ctx cancellation between calls (spec.md §5: "any
// suspension point ... must honour [the abort signal] and return cancelled
// promptly").
func (h *Harness) Dispatch(ctx context.Context, ts *ToolSet, base ExecContext, calls []message.Part) (DispatchResult, error) {
	var result DispatchResult
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		ectx := base
		ectx.ToolCallID = call.ToolCallID

		_ = h.hooks.Publish(ctx, hooks.NewToolCallStarted(base.RunID, base.AgentID, base.TurnID, call.ToolCallID, call.ToolName, base.ParentToolCallID))

		def, ok := ts.Lookup(call.ToolName)
		if !ok {
			part := message.Part{
				Type:       message.PartToolResult,
				ToolCallID: call.ToolCallID,
				ToolName:   call.ToolName,
				IsError:    true,
				Output:     message.ErrorTextOutput("Unknown tool: " + call.ToolName),
			}
			result.Results = append(result.Results, part)
			_ = h.hooks.Publish(ctx, hooks.NewToolCallResult(base.RunID, base.AgentID, base.TurnID, call.ToolCallID, call.ToolName, true, 0))
			continue
		}

		start := time.Now()
		outcome, err := def.Execute(ctx, ectx, json.RawMessage(call.Input))
		dur := elapsedSince(start)
		if err != nil {
			return result, err
		}

		switch outcome.Kind {
		case OutcomeSuspended:
			result.Suspended = outcome.Suspension
			_ = h.hooks.Publish(ctx, hooks.NewToolCallResult(base.RunID, base.AgentID, base.TurnID, call.ToolCallID, call.ToolName, false, dur))
			return result, nil
		default:
			part, err := outcome.ToResultPart(call.ToolCallID, call.ToolName)
			if err != nil {
				return result, err
			}
			result.Results = append(result.Results, part)
			_ = h.hooks.Publish(ctx, hooks.NewToolCallResult(base.RunID, base.AgentID, base.TurnID, call.ToolCallID, call.ToolName, part.IsError, dur))
		}
	}
	return result, nil
}
