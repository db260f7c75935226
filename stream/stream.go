// Package stream implements the Stream Orchestrator (C6): the async-iterator
// front door described in spec.md §4.6. It validates the manifest set (C1),
// acquires the per-run lock (C2), creates or loads state, delegates to the
// step loop (C4) or the suspension resumer (C5), forwards their events, and
// persists the terminal outcome.
//
// This is also where the sub-agent tool wrapper lives (spec.md §4.3): it
// recursively invokes the orchestrator on a child manifest, so it must sit
// above both tools (C3) and steploop (C4) to avoid an import cycle between
// the tool harness and the thing that drives it recursively.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coopersmall/agentruntime/errs"
	"github.com/coopersmall/agentruntime/hooks"
	"github.com/coopersmall/agentruntime/manifest"
	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/resume"
	"github.com/coopersmall/agentruntime/run"
	"github.com/coopersmall/agentruntime/statestore"
	"github.com/coopersmall/agentruntime/steploop"
	"github.com/coopersmall/agentruntime/telemetry"
	"github.com/coopersmall/agentruntime/tools"
)

const defaultLockTTL = 5 * time.Minute

// InputKind tags the concrete kind of a request entering the orchestrator
// (spec.md §6 "Inputs (control)").
type InputKind string

const (
	InputRun      InputKind = "run"
	InputReply    InputKind = "reply"
	InputApproval InputKind = "approval"
	InputContinue InputKind = "continue"
)

type (
	// Input is one call into the orchestrator (spec.md §6 "run(request,
	// options); reply(runId, message, options); approve(runId, response,
	// options); continue(runId, options)").
	Input struct {
		Kind InputKind

		// RunID identifies an existing run for reply/approval/continue.
		RunID string

		// Request starts a fresh run (Kind == InputRun).
		Request Request

		// ReplyMessage is appended to a completed run (Kind == InputReply).
		ReplyMessage message.Message

		// Approval resolves a pending suspension (Kind == InputApproval).
		Approval resume.Approval

		TimeoutOverride time.Duration
	}

	// Request starts a fresh run (spec.md §3 "agent request").
	Request struct {
		ManifestID string
		Messages   []message.Message
	}

	// Final is the orchestrator's single terminal value (spec.md §6
	// "Result ∈ {complete | suspended | error | cancelled | already-running}").
	Final struct {
		RunID            string
		Status           run.Status
		Result           *steploop.Result
		Suspensions      []run.Suspension
		SuspensionStacks []run.SuspensionStack
		Err              error
		AlreadyRunning   bool
	}

	// ToolSetBuilder assembles a run's ToolSet for a manifest, wiring in
	// MCP-derived tools and one generated sub-agent tool per SubAgentRef
	// (spec.md §4.3). Supplied by the caller so the orchestrator does not
	// need to know how MCP servers are reached.
	ToolSetBuilder func(ctx context.Context, mf manifest.Manifest) (*tools.ToolSet, error)

	// Deps are the orchestrator's collaborators.
	Deps struct {
		Registry *manifest.Registry
		Store    statestore.Store
		Lock     statestore.Lock
		Steps    *steploop.Loop
		Resumer  *resume.Resumer
		ToolSets ToolSetBuilder

		Hooks   hooks.Bus
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Orchestrator is the Stream Orchestrator (C6).
	Orchestrator struct {
		deps Deps
	}
)

// New constructs an Orchestrator. Registry, Store, Lock, Steps, Resumer, and
// ToolSets are required; unset telemetry/hook fields fall back to no-ops.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errs.New(errs.KindBadRequest, "stream: manifest registry is required")
	}
	if deps.Store == nil || deps.Lock == nil {
		return nil, errs.New(errs.KindBadRequest, "stream: store and lock are required")
	}
	if deps.Steps == nil || deps.Resumer == nil || deps.ToolSets == nil {
		return nil, errs.New(errs.KindBadRequest, "stream: steps, resumer, and toolsets are required")
	}
	if deps.Hooks == nil {
		deps.Hooks = hooks.NewBus()
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NoopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NoopMetrics{}
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.NoopTracer{}
	}
	return &Orchestrator{deps: deps}, nil
}

// Run drives one orchestrator call to its terminal Final value, publishing
// lifecycle events to deps.Hooks along the way (spec.md §4.6).
func (o *Orchestrator) Run(ctx context.Context, in Input) Final {
	mf, state, err := o.resolve(ctx, in)
	if err != nil {
		return Final{RunID: in.RunID, Status: run.StatusError, Err: err}
	}

	handle, err := o.deps.Lock.Acquire(ctx, state.RunID, lockTTL(mf))
	if err != nil {
		if errors.Is(err, statestore.ErrAlreadyHeld) {
			return Final{RunID: state.RunID, AlreadyRunning: true}
		}
		return Final{RunID: state.RunID, Status: run.StatusError, Err: err}
	}
	defer handle.Release(ctx)

	state.Status = run.StatusRunning
	if err := o.deps.Store.Put(ctx, state); err != nil {
		return Final{RunID: state.RunID, Status: run.StatusError, Err: err}
	}

	_ = o.deps.Hooks.Publish(ctx, hooks.NewAgentStarted(state.RunID, mf.ID, state.RunID, mf.Version, state.RunID))

	var final Final
	switch in.Kind {
	case InputApproval:
		final = o.runApproval(ctx, mf, state, in)
	default:
		ts, terr := o.deps.ToolSets(ctx, mf)
		if terr != nil {
			final = Final{RunID: state.RunID, Status: run.StatusError, Err: terr}
		} else {
			outcome := o.deps.Steps.Run(ctx, mf, state, ts, steploop.RunOptions{TimeoutOverride: in.TimeoutOverride})
			final = fromOutcome(state.RunID, outcome)
		}
	}

	if err := o.deps.Store.Put(ctx, state); err != nil {
		return Final{RunID: state.RunID, Status: run.StatusError, Err: err}
	}

	if suppressed := o.invokeTerminalHook(mf, state, final); suppressed != nil {
		return Final{RunID: state.RunID, Status: final.Status, Err: suppressed}
	}
	return final
}

// runApproval dispatches an approval: if it matches a saved suspension
// stack, control goes to C5; otherwise it resumes C4 directly after
// appending the approval message (spec.md §2 "Data flow (resume)").
func (o *Orchestrator) runApproval(ctx context.Context, mf manifest.Manifest, state *run.State, in Input) Final {
	for _, stack := range state.SuspensionStacks {
		if stack.LeafSuspension.ApprovalID == in.Approval.ApprovalID {
			result := o.deps.Resumer.Resume(ctx, state, stack, in.Approval)
			return Final{
				RunID:            result.RunID,
				Status:           result.Status,
				Result:           result.StepResult,
				Suspensions:      result.Suspensions,
				SuspensionStacks: result.SuspensionStacks,
				Err:              result.Err,
			}
		}
	}

	matched := false
	for i, s := range state.Suspensions {
		if s.ApprovalID == in.Approval.ApprovalID {
			state.Suspensions = append(state.Suspensions[:i], state.Suspensions[i+1:]...)
			matched = true
			break
		}
	}
	if !matched {
		return Final{RunID: state.RunID, Status: run.StatusError, Err: errs.New(errs.KindBadRequest, "approval does not match any pending suspension")}
	}

	state.Messages = append(state.Messages, approvalMessage(in.Approval))
	ts, err := o.deps.ToolSets(ctx, mf)
	if err != nil {
		return Final{RunID: state.RunID, Status: run.StatusError, Err: err}
	}
	outcome := o.deps.Steps.Run(ctx, mf, state, ts, steploop.RunOptions{TimeoutOverride: in.TimeoutOverride})
	return fromOutcome(state.RunID, outcome)
}

const pauseToolName = "__pause__"

// pauseApprovalID names the synthetic, non-tool suspension PauseRun places
// on a run, reserved so it never collides with a real tool-approval-request
// id (which the gateway, not this package, assigns).
func pauseApprovalID(runID string) string { return "pause:" + runID }

// PauseRun places an administrative hold on runID, modeled on the teacher's
// SignalPause but adapted to this engine's synchronous call/response model:
// there is no in-flight execution to interrupt between Orchestrator.Run
// calls (a run is only ever "running" for the duration of the Run call that
// holds its lock), so pause acts on the idle persisted state directly,
// marking it suspended with a synthetic suspension that carries no tool
// semantics. InputReply/InputContinue/InputApproval against a paused run
// fail until ResumeRun lifts the hold.
func (o *Orchestrator) PauseRun(ctx context.Context, runID string) error {
	state, err := o.deps.Store.Get(ctx, runID)
	if err != nil {
		return err
	}
	if state == nil {
		return errs.Newf(errs.KindNotFound, "stream: run %q not found", runID)
	}
	if state.Status == run.StatusRunning {
		return errs.New(errs.KindBadRequest, "stream: cannot pause a run while it is actively executing")
	}
	if state.Status.Terminal() && state.Status != run.StatusCompleted {
		return errs.New(errs.KindBadRequest, "stream: cannot pause a run that ended in error or cancellation")
	}
	for _, s := range state.Suspensions {
		if s.ApprovalID == pauseApprovalID(runID) {
			return errs.New(errs.KindBadRequest, "stream: run is already paused")
		}
	}
	state.PrePauseStatus = state.Status
	state.Status = run.StatusSuspended
	state.Suspensions = append(state.Suspensions, run.Suspension{ApprovalID: pauseApprovalID(runID), ToolName: pauseToolName})
	return o.deps.Store.Put(ctx, state)
}

// ResumeRun lifts a hold placed by PauseRun. If the run still carries real
// pending suspensions (it was paused while genuinely suspended on a HITL
// tool-approval-request), those are left untouched and Final reports them
// as still-suspended; the caller resolves them the normal way, via
// Orchestrator.Run with InputApproval. Otherwise, a run that was completed
// when paused (idle, awaiting a reply) gets its completed status back
// directly without re-entering the step loop; any other prior status is
// restored and the run is then continued through Orchestrator.Run with
// InputContinue.
func (o *Orchestrator) ResumeRun(ctx context.Context, runID string) Final {
	state, err := o.deps.Store.Get(ctx, runID)
	if err != nil {
		return Final{RunID: runID, Status: run.StatusError, Err: err}
	}
	if state == nil {
		return Final{RunID: runID, Status: run.StatusError, Err: errs.Newf(errs.KindNotFound, "stream: run %q not found", runID)}
	}

	approvalID := pauseApprovalID(runID)
	removed := false
	for i, s := range state.Suspensions {
		if s.ApprovalID == approvalID {
			state.Suspensions = append(state.Suspensions[:i], state.Suspensions[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return Final{RunID: runID, Status: run.StatusError, Err: errs.New(errs.KindBadRequest, "stream: run is not paused")}
	}

	if len(state.Suspensions) > 0 || len(state.SuspensionStacks) > 0 {
		if err := o.deps.Store.Put(ctx, state); err != nil {
			return Final{RunID: runID, Status: run.StatusError, Err: err}
		}
		return Final{RunID: runID, Status: run.StatusSuspended, Suspensions: state.Suspensions, SuspensionStacks: state.SuspensionStacks}
	}

	restored := state.PrePauseStatus
	state.PrePauseStatus = ""
	if restored != run.StatusCompleted {
		state.Status = restored
		if err := o.deps.Store.Put(ctx, state); err != nil {
			return Final{RunID: runID, Status: run.StatusError, Err: err}
		}
		return o.Run(ctx, Input{Kind: InputContinue, RunID: runID})
	}

	state.Status = run.StatusCompleted
	if err := o.deps.Store.Put(ctx, state); err != nil {
		return Final{RunID: runID, Status: run.StatusError, Err: err}
	}
	return Final{RunID: runID, Status: run.StatusCompleted}
}

// resolve dispatches on Input.Kind to produce the manifest and the state to
// run against (spec.md §4.6 step 2).
func (o *Orchestrator) resolve(ctx context.Context, in Input) (manifest.Manifest, *run.State, error) {
	switch in.Kind {
	case InputRun:
		mf := o.deps.Registry.Root
		if in.Request.ManifestID != "" && in.Request.ManifestID != mf.ID {
			found, ok := o.deps.Registry.LookupByID(in.Request.ManifestID)
			if !ok {
				return manifest.Manifest{}, nil, errs.Newf(errs.KindNotFound, "stream: manifest %q not found", in.Request.ManifestID)
			}
			mf = found
		}
		state := &run.State{
			RunID:           newRunID(),
			ManifestID:      mf.ID,
			ManifestVersion: mf.Version,
			Status:          run.StatusRunning,
			Messages:        in.Request.Messages,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		return mf, state, nil

	case InputReply:
		state, mf, err := o.loadRunning(ctx, in.RunID, false)
		if err != nil {
			return manifest.Manifest{}, nil, err
		}
		if state.Status != run.StatusCompleted {
			return manifest.Manifest{}, nil, errs.New(errs.KindBadRequest, "stream: reply requires a completed run")
		}
		state.Messages = append(state.Messages, in.ReplyMessage)
		return mf, state, nil

	case InputApproval:
		state, mf, err := o.loadRunning(ctx, in.RunID, true)
		if err != nil {
			return manifest.Manifest{}, nil, err
		}
		return mf, state, nil

	case InputContinue:
		state, mf, err := o.loadRunning(ctx, in.RunID, true)
		if err != nil {
			return manifest.Manifest{}, nil, err
		}
		if len(state.PendingToolResults) > 0 {
			parts := make([]message.Part, 0, len(state.PendingToolResults))
			for _, p := range state.PendingToolResults {
				parts = append(parts, p.Part)
			}
			state.Messages = append(state.Messages, message.Message{Role: message.RoleTool, Parts: parts})
			state.PendingToolResults = nil
		}
		return mf, state, nil

	default:
		return manifest.Manifest{}, nil, errs.Newf(errs.KindBadRequest, "stream: unknown input kind %q", in.Kind)
	}
}

func (o *Orchestrator) loadRunning(ctx context.Context, runID string, requireSuspended bool) (*run.State, manifest.Manifest, error) {
	state, err := o.deps.Store.Get(ctx, runID)
	if err != nil {
		return nil, manifest.Manifest{}, err
	}
	if state == nil {
		return nil, manifest.Manifest{}, errs.Newf(errs.KindNotFound, "stream: run %q not found", runID)
	}
	for _, s := range state.Suspensions {
		if s.ApprovalID == pauseApprovalID(runID) {
			return nil, manifest.Manifest{}, errs.New(errs.KindBadRequest, "stream: run is paused")
		}
	}
	if requireSuspended && state.Status != run.StatusSuspended {
		return nil, manifest.Manifest{}, errs.New(errs.KindBadRequest, "stream: run is not suspended")
	}
	mf, ok := o.deps.Registry.Lookup(manifest.Key{ID: state.ManifestID, Version: state.ManifestVersion})
	if !ok {
		return nil, manifest.Manifest{}, errs.Newf(errs.KindNotFound, "stream: manifest %q not found", state.ManifestID)
	}
	return state, mf, nil
}

// invokeTerminalHook calls the manifest's matching terminal lifecycle hook.
// Per spec.md §7, its error propagates to the caller and suppresses the
// terminal event, leaving the persisted status unchanged.
func (o *Orchestrator) invokeTerminalHook(mf manifest.Manifest, state *run.State, final Final) error {
	ctx := manifest.StepContext{RunID: state.RunID, StepNumber: state.StepNumber, Messages: state.Messages}
	var hook func(manifest.StepContext) error
	switch final.Status {
	case run.StatusCompleted:
		hook = mf.Hooks.OnAgentComplete
	case run.StatusSuspended:
		hook = mf.Hooks.OnAgentSuspend
	case run.StatusError:
		hook = mf.Hooks.OnAgentError
	case run.StatusCancelled:
		hook = mf.Hooks.OnAgentCancelled
	}
	if hook == nil {
		return nil
	}
	return hook(ctx)
}

func fromOutcome(runID string, o steploop.Outcome) Final {
	return Final{RunID: runID, Status: o.Status, Result: o.Result, Suspensions: o.Suspensions, SuspensionStacks: o.SuspensionStacks, Err: o.Err}
}

func lockTTL(mf manifest.Manifest) time.Duration {
	if mf.Timeout > 0 {
		return mf.Timeout + 30*time.Second
	}
	return defaultLockTTL
}

func newRunID() string { return uuid.NewString() }

func approvalMessage(a resume.Approval) message.Message {
	text := "approved"
	if !a.Approved {
		text = "rejected"
	}
	return message.Message{
		Role:  message.RoleUser,
		Parts: []message.Part{{Type: message.PartToolApprovalRequest, ApprovalID: a.ApprovalID, Text: text}},
	}
}
