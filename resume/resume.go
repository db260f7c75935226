// Package resume implements the Suspension Stack Resumer (C5): given a
// saved root state, a matching suspension stack, and an approval response,
// it replays the deepest suspended agent and propagates the result upward
// across any number of intervening suspended ancestors (spec.md §4.5).
package resume

import (
	"context"

	"github.com/coopersmall/agentruntime/errs"
	"github.com/coopersmall/agentruntime/manifest"
	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/run"
	"github.com/coopersmall/agentruntime/statestore"
	"github.com/coopersmall/agentruntime/steploop"
	"github.com/coopersmall/agentruntime/tools"
)

type (
	// Approval is the `{approvalId, approved, data?}` response submitted
	// against a pending suspension (spec.md §4.5).
	Approval struct {
		ApprovalID string
		Approved   bool
		Data       any
	}

	// StepRunner is the subset of the step loop's behaviour the resumer
	// needs: resume a manifest's run from its saved state to a terminal
	// outcome. Exposed as an interface (rather than depending on
	// *steploop.Loop directly) so tests can inject a fake step loop that
	// yields prepared results, per spec.md §9 ("Provide a clean StepLoop
	// interface so the suspension-stack resumer can be tested without a
	// live model").
	StepRunner interface {
		Run(ctx context.Context, mf manifest.Manifest, state *run.State, ts *tools.ToolSet, opts steploop.RunOptions) steploop.Outcome
	}

	// Resumer is the Suspension Stack Resumer (C5).
	Resumer struct {
		steps     StepRunner
		store     statestore.Store
		manifests map[string]manifest.Manifest
		toolsets  func(mf manifest.Manifest) *tools.ToolSet
	}

	// Result is the terminal value of a Resume call, mirroring
	// steploop.Outcome's shape at the root level.
	Result struct {
		RunID            string
		Status           run.Status
		StepResult       *steploop.Result
		Suspensions      []run.Suspension
		SuspensionStacks []run.SuspensionStack
		Err              error
	}
)

// New constructs a Resumer. manifests maps canonical manifest keys
// (manifest.Key.String()) to manifests, as produced by C1's Registry.ByKey.
// toolsets builds the per-run tool set for a manifest; callers typically
// close over the same assembly logic used by the stream orchestrator.
func New(steps StepRunner, store statestore.Store, manifests map[string]manifest.Manifest, toolsets func(manifest.Manifest) *tools.ToolSet) *Resumer {
	return &Resumer{steps: steps, store: store, manifests: manifests, toolsets: toolsets}
}

// Resume implements spec.md §4.5: deepest replay, then upward propagation
// across stack.Entries[depth-2 .. 0].
func (r *Resumer) Resume(ctx context.Context, rootState *run.State, stack run.SuspensionStack, approval Approval) Result {
	if len(stack.Entries) < 2 {
		return Result{RunID: rootState.RunID, Status: run.StatusError, Err: errs.New(errs.KindInternal, "resume: invalid suspension stack")}
	}

	deepest := stack.Deepest()
	deepMf, ok := r.manifests[manifest.Key{ID: deepest.ManifestID, Version: deepest.ManifestVersion}.String()]
	if !ok {
		return Result{RunID: rootState.RunID, Status: run.StatusError, Err: errs.Newf(errs.KindNotFound, "resume: manifest %q not found", deepest.ManifestID)}
	}
	deepState, err := r.store.Get(ctx, deepest.StateID)
	if err != nil {
		return Result{RunID: rootState.RunID, Status: run.StatusError, Err: err}
	}
	if deepState == nil {
		return Result{RunID: rootState.RunID, Status: run.StatusError, Err: errs.Newf(errs.KindNotFound, "resume: state %q not found", deepest.StateID)}
	}
	deepState.Messages = append(deepState.Messages, approvalMessage(approval))

	outcome := r.steps.Run(ctx, deepMf, deepState, r.toolsets(deepMf), steploop.RunOptions{})
	if err := r.store.Put(ctx, deepState); err != nil {
		return Result{RunID: rootState.RunID, Status: run.StatusError, Err: err}
	}
	current := fromOutcome(deepest.StateID, outcome)

	for i := len(stack.Entries) - 2; i >= 0; i-- {
		prefix := stack.Entries[:i+1]
		entry := stack.Entries[i]

		switch current.Status {
		case run.StatusSuspended:
			return r.reroot(ctx, rootState, prefix, current)
		case run.StatusCancelled:
			return Result{RunID: rootState.RunID, Status: run.StatusError, Err: errs.New(errs.KindBadRequest, "resume: child run was cancelled")}
		}

		if entry.PendingToolCallID == "" {
			return Result{RunID: rootState.RunID, Status: run.StatusError, Err: errs.New(errs.KindInternal, "resume: intermediate stack entry missing pending tool call id")}
		}

		parentMf, ok := r.manifests[manifest.Key{ID: entry.ManifestID, Version: entry.ManifestVersion}.String()]
		if !ok {
			return Result{RunID: rootState.RunID, Status: run.StatusError, Err: errs.New(errs.KindNotFound, "resume: parent manifest not found")}
		}

		parentStateID := entry.StateID
		parentState, err := r.store.Get(ctx, parentStateID)
		if err != nil {
			return Result{RunID: rootState.RunID, Status: run.StatusError, Err: err}
		}
		if parentState == nil {
			return Result{RunID: rootState.RunID, Status: run.StatusError, Err: errs.Newf(errs.KindNotFound, "resume: parent state %q not found", parentStateID)}
		}

		syntheticName := childManifestIDAt(stack.Entries, i)
		part := synthesizeToolResult(entry.PendingToolCallID, syntheticName, current)
		parentState.PendingToolResults = append(parentState.PendingToolResults, run.PendingToolResult{ToolCallID: entry.PendingToolCallID, Part: part})
		parentState.SuspensionStacks = removeStack(parentState.SuspensionStacks, stack)
		parentState.Suspensions = removeSuspension(parentState.Suspensions, stack.LeafSuspension.ApprovalID)
		if err := r.store.Put(ctx, parentState); err != nil {
			return Result{RunID: rootState.RunID, Status: run.StatusError, Err: err}
		}

		if len(parentState.Suspensions) > 0 || len(parentState.SuspensionStacks) > 0 {
			rerooted := rerootAll(parentState.SuspensionStacks, prefix)
			rerooted = append(rerooted, fanOutOwnSuspensions(parentState, prefix, rerooted)...)
			parentState.SuspensionStacks = rerooted
			if err := r.store.Put(ctx, parentState); err != nil {
				return Result{RunID: rootState.RunID, Status: run.StatusError, Err: err}
			}
			return Result{RunID: rootState.RunID, Status: run.StatusSuspended, SuspensionStacks: rerooted}
		}

		parentState.Messages = append(parentState.Messages, drainPendingToolMessage(parentState)...)
		pout := r.steps.Run(ctx, parentMf, parentState, r.toolsets(parentMf), steploop.RunOptions{})
		if err := r.store.Put(ctx, parentState); err != nil {
			return Result{RunID: rootState.RunID, Status: run.StatusError, Err: err}
		}
		current = fromOutcome(parentStateID, pout)
	}

	return current
}

// reroot re-roots every stack returned by the still-suspended descendant by
// prepending prefix (stack.Entries[0..i]), implementing spec.md §4.5's
// "re-root" step at every propagation level.
func (r *Resumer) reroot(ctx context.Context, rootState *run.State, prefix []run.StackEntry, current Result) Result {
	rerooted := make([]run.SuspensionStack, 0, len(current.SuspensionStacks))
	for _, s := range current.SuspensionStacks {
		rerooted = append(rerooted, s.Reroot(prefix))
	}
	rootState.SuspensionStacks = rerooted
	if err := r.store.Put(ctx, rootState); err != nil {
		return Result{RunID: rootState.RunID, Status: run.StatusError, Err: err}
	}
	return Result{RunID: rootState.RunID, Status: run.StatusSuspended, SuspensionStacks: rerooted}
}

func fromOutcome(stateID string, o steploop.Outcome) Result {
	return Result{RunID: stateID, Status: o.Status, StepResult: o.Result, Suspensions: o.Suspensions, SuspensionStacks: o.SuspensionStacks, Err: o.Err}
}

func childManifestIDAt(entries []run.StackEntry, parentIndex int) string {
	return entries[parentIndex+1].ManifestID
}

func removeStack(stacks []run.SuspensionStack, target run.SuspensionStack) []run.SuspensionStack {
	out := make([]run.SuspensionStack, 0, len(stacks))
	for _, s := range stacks {
		if s.LeafSuspension.ApprovalID == target.LeafSuspension.ApprovalID {
			continue
		}
		out = append(out, s)
	}
	return out
}

func removeSuspension(suspensions []run.Suspension, approvalID string) []run.Suspension {
	out := make([]run.Suspension, 0, len(suspensions))
	for _, s := range suspensions {
		if s.ApprovalID == approvalID {
			continue
		}
		out = append(out, s)
	}
	return out
}

func rerootAll(stacks []run.SuspensionStack, prefix []run.StackEntry) []run.SuspensionStack {
	out := make([]run.SuspensionStack, 0, len(stacks))
	for _, s := range stacks {
		out = append(out, s.Reroot(prefix))
	}
	return out
}

// fanOutOwnSuspensions builds one new stack per parent suspension whose
// approval id is not already covered by a re-rooted stack, appending a leaf
// entry for the parent itself (spec.md §4.5 "re-root + fan-out").
func fanOutOwnSuspensions(parentState *run.State, prefix []run.StackEntry, already []run.SuspensionStack) []run.SuspensionStack {
	covered := make(map[string]bool, len(already))
	for _, s := range already {
		covered[s.LeafSuspension.ApprovalID] = true
	}
	leaf := run.StackEntry{ManifestID: parentState.ManifestID, ManifestVersion: parentState.ManifestVersion, StateID: parentState.RunID}
	var out []run.SuspensionStack
	for _, susp := range parentState.Suspensions {
		if covered[susp.ApprovalID] {
			continue
		}
		entries := make([]run.StackEntry, 0, len(prefix)+1)
		entries = append(entries, prefix...)
		entries = append(entries, leaf)
		out = append(out, run.SuspensionStack{Entries: entries, LeafSuspension: susp})
	}
	return out
}

func drainPendingToolMessage(state *run.State) []message.Message {
	if len(state.PendingToolResults) == 0 {
		return nil
	}
	parts := make([]message.Part, 0, len(state.PendingToolResults))
	for _, p := range state.PendingToolResults {
		parts = append(parts, p.Part)
	}
	state.PendingToolResults = nil
	return []message.Message{{Role: message.RoleTool, Parts: parts}}
}

func synthesizeToolResult(toolCallID, toolName string, r Result) message.Part {
	switch r.Status {
	case run.StatusCompleted:
		var out *message.ToolOutput
		if r.StepResult != nil && r.StepResult.Output != nil {
			out = r.StepResult.Output
		} else if r.StepResult != nil {
			out = message.TextOutput(r.StepResult.Text)
		} else {
			out = message.TextOutput("")
		}
		return message.Part{Type: message.PartToolResult, ToolCallID: toolCallID, ToolName: toolName, Output: out}
	default:
		return message.Part{
			Type:       message.PartToolResult,
			ToolCallID: toolCallID,
			ToolName:   toolName,
			IsError:    true,
			Output:     message.ErrorTextOutput(errMessage(r.Err)),
		}
	}
}

func errMessage(err error) string {
	if err == nil {
		return "sub-agent did not complete"
	}
	return err.Error()
}

func approvalMessage(a Approval) message.Message {
	text := "approved"
	if !a.Approved {
		text = "rejected"
	}
	return message.Message{
		Role: message.RoleUser,
		Parts: []message.Part{{
			Type:       message.PartToolApprovalRequest,
			ApprovalID: a.ApprovalID,
			Text:       text,
		}},
	}
}
