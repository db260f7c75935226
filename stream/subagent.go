package stream

import (
	"context"
	"encoding/json"

	"github.com/coopersmall/agentruntime/errs"
	"github.com/coopersmall/agentruntime/hooks"
	"github.com/coopersmall/agentruntime/manifest"
	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/run"
	"github.com/coopersmall/agentruntime/steploop"
	"github.com/coopersmall/agentruntime/tools"
)

// subAgentInput is the default schema a sub-agent tool call's input is
// parsed through, absent a manifest-supplied mapper (spec.md §4.3
// "{ prompt: string, context?: object }").
type subAgentInput struct {
	Prompt  string         `json:"prompt"`
	Context map[string]any `json:"context,omitempty"`
}

// SubAgentTool builds the generated tool for a SubAgentRef (spec.md §4.3
// "Sub-agent tool"). o is the orchestrator that will drive the child run;
// parentMf/ref identify which sub-agent manifest the tool wraps.
func SubAgentTool(o *Orchestrator, parentMf manifest.Manifest, ref manifest.SubAgentRef) tools.Def {
	return tools.Def{
		Name:        ref.ToolName,
		Description: "Delegates to the " + ref.Key.ID + " sub-agent.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"prompt":{"type":"string"},"context":{"type":"object"}},"required":["prompt"]}`),
		Execute: tools.ExecutorFunc(func(ctx context.Context, ectx tools.ExecContext, input json.RawMessage) (tools.Outcome, error) {
			var in subAgentInput
			if err := json.Unmarshal(input, &in); err != nil {
				return tools.Failure("invalid sub-agent input: "+err.Error(), "bad_request", false), nil
			}

			childCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			if parentMf.Hooks.BeforeSubAgent != nil {
				if err := parentMf.Hooks.BeforeSubAgent(manifest.StepContext{RunID: ectx.RunID, StepNumber: ectx.StepNumber, Messages: ectx.Messages}); err != nil {
					cancel()
					return tools.Failure("before-sub-agent hook failed: "+err.Error(), "hook_error", false), nil
				}
			}

			childID := newRunID()
			_ = o.deps.Hooks.Publish(ctx, hooks.NewSubAgentStarted(ectx.RunID, parentMf.ID, ectx.RunID, childID, ref.Key.ID, ectx.ToolCallID))

			childMessages := []message.Message{message.NewTextMessage(message.RoleUser, in.Prompt)}
			childFinal := o.runChild(childCtx, ref.Key, childID, childMessages, run.ParentContext{
				ParentRunID:      ectx.RunID,
				ParentManifestID: parentMf.ID,
				ParentManifestVer: parentMf.Version,
				ParentToolCallID: ectx.ToolCallID,
			})

			status := string(childFinal.Status)
			switch {
			case childFinal.AlreadyRunning:
				status = "already-running"
			case childFinal.Status == run.StatusCompleted:
				status = "complete"
			}
			_ = o.deps.Hooks.Publish(ctx, hooks.NewSubAgentEnded(ectx.RunID, parentMf.ID, ectx.RunID, childID, ref.Key.ID, ectx.ToolCallID, status))

			if parentMf.Hooks.AfterSubAgent != nil {
				if err := parentMf.Hooks.AfterSubAgent(manifest.StepContext{RunID: ectx.RunID, StepNumber: ectx.StepNumber, Messages: ectx.Messages}); err != nil {
					return tools.Failure("after-sub-agent hook failed: "+err.Error(), "hook_error", false), nil
				}
			}

			switch {
			case childFinal.AlreadyRunning:
				return tools.Failure("sub-agent already running", "already_running", true), nil
			case childFinal.Status == run.StatusSuspended:
				return tools.Suspended(tools.Suspension{
					Suspensions:      childFinal.Suspensions,
					RunID:            childFinal.RunID,
					SubAgentID:       ref.Key.ID,
					SubAgentVersion:  ref.Key.Version,
					SuspensionStacks: rootSuspensionStacks(parentMf, ectx, ref, childFinal),
				}), nil
			case childFinal.Status == run.StatusCompleted:
				text := ""
				if childFinal.Result != nil {
					text = childFinal.Result.Text
				}
				var output any
				if childFinal.Result != nil && childFinal.Result.Output != nil {
					_ = json.Unmarshal(childFinal.Result.Output.Value, &output)
				}
				return tools.Success(map[string]any{"text": text, "output": output}), nil
			default:
				msg := "sub-agent did not complete"
				if childFinal.Err != nil {
					msg = childFinal.Err.Error()
				}
				return tools.Failure(msg, "sub_agent_error", false), nil
			}
		}),
	}
}

// rootSuspensionStacks builds the suspension-stack view the resumer needs
// (spec.md §4.5 expects stacks of length ≥ 2) out of a sub-agent tool call's
// child result. If the child already carries deeper stacks (it suspended on
// its own nested sub-agent), those are re-rooted by prepending this level's
// entry; otherwise a fresh two-entry stack is built per harvested suspension,
// anchored at this call (parent entry) and the child's own state (leaf
// entry).
func rootSuspensionStacks(parentMf manifest.Manifest, ectx tools.ExecContext, ref manifest.SubAgentRef, childFinal Final) []run.SuspensionStack {
	parentEntry := run.StackEntry{
		ManifestID:        parentMf.ID,
		ManifestVersion:   parentMf.Version,
		StateID:           ectx.RunID,
		PendingToolCallID: ectx.ToolCallID,
	}
	if len(childFinal.SuspensionStacks) > 0 {
		stacks := make([]run.SuspensionStack, 0, len(childFinal.SuspensionStacks))
		for _, s := range childFinal.SuspensionStacks {
			stacks = append(stacks, s.Reroot([]run.StackEntry{parentEntry}))
		}
		return stacks
	}

	childEntry := run.StackEntry{
		ManifestID:      ref.Key.ID,
		ManifestVersion: ref.Key.Version,
		StateID:         childFinal.RunID,
	}
	stacks := make([]run.SuspensionStack, 0, len(childFinal.Suspensions))
	for _, susp := range childFinal.Suspensions {
		stacks = append(stacks, run.SuspensionStack{
			Entries:        []run.StackEntry{parentEntry, childEntry},
			LeafSuspension: susp,
		})
	}
	return stacks
}

// runChild runs the child manifest's step loop under the child's own lock
// and persisted state. It does not rewrite nested events' parent-manifest-id:
// the child's events reach deps.Hooks unchanged, and this method only shapes
// the child's initial state and parent-context back-reference.
func (o *Orchestrator) runChild(ctx context.Context, childKey manifest.Key, childID string, messages []message.Message, parentCtx run.ParentContext) Final {
	childMf, ok := o.deps.Registry.Lookup(childKey)
	if !ok {
		return Final{RunID: childID, Status: run.StatusError, Err: errs.Newf(errs.KindNotFound, "stream: sub-agent manifest (%q, %q) not found", childKey.ID, childKey.Version)}
	}
	state := &run.State{
		RunID:           childID,
		ManifestID:      childMf.ID,
		ManifestVersion: childMf.Version,
		Status:          run.StatusRunning,
		Messages:        messages,
		ParentContext:   &parentCtx,
	}

	handle, err := o.deps.Lock.Acquire(ctx, state.RunID, lockTTL(childMf))
	if err != nil {
		return Final{RunID: state.RunID, AlreadyRunning: true}
	}
	defer handle.Release(ctx)

	if err := o.deps.Store.Put(ctx, state); err != nil {
		return Final{RunID: state.RunID, Status: run.StatusError, Err: err}
	}

	ts, err := o.deps.ToolSets(ctx, childMf)
	if err != nil {
		return Final{RunID: state.RunID, Status: run.StatusError, Err: err}
	}
	outcome := o.deps.Steps.Run(ctx, childMf, state, ts, steploop.RunOptions{})
	if err := o.deps.Store.Put(ctx, state); err != nil {
		return Final{RunID: state.RunID, Status: run.StatusError, Err: err}
	}
	return fromOutcome(state.RunID, outcome)
}
