package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopersmall/agentruntime/manifest"
	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/model"
	"github.com/coopersmall/agentruntime/resume"
	"github.com/coopersmall/agentruntime/run"
	"github.com/coopersmall/agentruntime/statestore/inmem"
	"github.com/coopersmall/agentruntime/steploop"
	"github.com/coopersmall/agentruntime/tools"
)

type fakeGateway struct {
	responses []model.Response
	calls     int
}

func (g *fakeGateway) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	i := g.calls
	g.calls++
	if i >= len(g.responses) {
		return g.responses[len(g.responses)-1], nil
	}
	return g.responses[i], nil
}

func (g *fakeGateway) Stream(context.Context, model.Request, func(model.StreamPart) error) error {
	return nil
}

func buildOrchestrator(t *testing.T, mfs []manifest.Manifest, rootID string, gw model.Gateway) *Orchestrator {
	t.Helper()
	registry, err := manifest.Validate(mfs, rootID)
	require.NoError(t, err)

	store := inmem.New()
	lock := inmem.NewLock()
	harness := tools.NewHarness()
	steps, err := steploop.New(steploop.Deps{Gateway: gw, Harness: harness})
	require.NoError(t, err)

	manifestsByKey := make(map[string]manifest.Manifest, len(registry.ByKey))
	for k, v := range registry.ByKey {
		manifestsByKey[k] = v
	}
	toolsets := func(_ context.Context, mf manifest.Manifest) (*tools.ToolSet, error) {
		return tools.NewToolSet(mf.Tools, mf.OutputTool), nil
	}
	resumer := resume.New(steps, store, manifestsByKey, func(mf manifest.Manifest) *tools.ToolSet {
		return tools.NewToolSet(mf.Tools, mf.OutputTool)
	})

	o, err := New(Deps{
		Registry: registry,
		Store:    store,
		Lock:     lock,
		Steps:    steps,
		Resumer:  resumer,
		ToolSets: toolsets,
	})
	require.NoError(t, err)
	return o
}

func TestRunCompletesSingleManifest(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{{Text: "hi", FinishReason: "stop"}}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	o := buildOrchestrator(t, []manifest.Manifest{mf}, "agent", gw)

	final := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "agent", Messages: []message.Message{message.NewTextMessage(message.RoleUser, "hello")}}})

	require.NoError(t, final.Err)
	assert.Equal(t, run.StatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, "hi", final.Result.Text)
}

func TestRunUnknownManifestErrors(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{{Text: "hi"}}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	o := buildOrchestrator(t, []manifest.Manifest{mf}, "agent", gw)

	final := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "nope"}})
	assert.Equal(t, run.StatusError, final.Status)
	assert.Error(t, final.Err)
}

func TestRunSuspendsThenApprovalResumes(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{
		{
			ContentParts: []message.Part{{Type: message.PartToolApprovalRequest, ApprovalID: "a1", ToolCallID: "tc1", ToolName: "dangerous"}},
			FinishReason: "tool-calls",
		},
		{Text: "resumed", FinishReason: "stop"},
	}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	o := buildOrchestrator(t, []manifest.Manifest{mf}, "agent", gw)

	started := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "agent"}})
	require.NoError(t, started.Err)
	require.Equal(t, run.StatusSuspended, started.Status)
	require.Len(t, started.Suspensions, 1)

	resumed := o.Run(context.Background(), Input{Kind: InputApproval, RunID: started.RunID, Approval: resume.Approval{ApprovalID: "a1", Approved: true}})
	require.NoError(t, resumed.Err)
	assert.Equal(t, run.StatusCompleted, resumed.Status)
	assert.Equal(t, "resumed", resumed.Result.Text)
}

func TestRunApprovalMismatchErrors(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{{
		ContentParts: []message.Part{{Type: message.PartToolApprovalRequest, ApprovalID: "a1", ToolCallID: "tc1", ToolName: "dangerous"}},
		FinishReason: "tool-calls",
	}}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	o := buildOrchestrator(t, []manifest.Manifest{mf}, "agent", gw)

	started := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "agent"}})
	require.Equal(t, run.StatusSuspended, started.Status)

	mismatched := o.Run(context.Background(), Input{Kind: InputApproval, RunID: started.RunID, Approval: resume.Approval{ApprovalID: "not-pending"}})
	assert.Equal(t, run.StatusError, mismatched.Status)
	assert.Error(t, mismatched.Err)
}

func TestRunReplyRequiresCompletedRun(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{{
		ContentParts: []message.Part{{Type: message.PartToolApprovalRequest, ApprovalID: "a1", ToolCallID: "tc1", ToolName: "dangerous"}},
		FinishReason: "tool-calls",
	}}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	o := buildOrchestrator(t, []manifest.Manifest{mf}, "agent", gw)

	started := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "agent"}})
	require.Equal(t, run.StatusSuspended, started.Status)

	reply := o.Run(context.Background(), Input{Kind: InputReply, RunID: started.RunID, ReplyMessage: message.NewTextMessage(message.RoleUser, "still waiting")})
	assert.Equal(t, run.StatusError, reply.Status)
	assert.Error(t, reply.Err)
}

func TestRunTwoLevelSubAgentStackResumesViaApproval(t *testing.T) {
	t.Parallel()

	// Call order: (1) root proposes the spawn_child tool call, (2) the child's
	// first step raises a HITL approval request, (3) after approval the child
	// completes, (4) root resumes and completes.
	gw := &fakeGateway{responses: []model.Response{
		{
			ToolCalls:    []model.ToolCall{{ID: "tc1", Name: "spawn_child", Input: `{"prompt":"do it"}`}},
			ContentParts: []message.Part{{Type: message.PartToolCall, ToolCallID: "tc1", ToolName: "spawn_child", Input: `{"prompt":"do it"}`}},
			FinishReason: "tool-calls",
		},
		{
			ContentParts: []message.Part{{Type: message.PartToolApprovalRequest, ApprovalID: "child-appr", ToolCallID: "tc-hitl", ToolName: "dangerous"}},
			FinishReason: "tool-calls",
		},
		{Text: "child done", FinishReason: "stop"},
		{Text: "root done", FinishReason: "stop"},
	}}

	childMf := manifest.Manifest{ID: "child", Version: "v1"}
	rootMf := manifest.Manifest{
		ID:      "root",
		Version: "v1",
		SubAgents: []manifest.SubAgentRef{
			{ToolName: "spawn_child", Key: manifest.Key{ID: "child", Version: "v1"}},
		},
	}

	registry, err := manifest.Validate([]manifest.Manifest{rootMf, childMf}, "root")
	require.NoError(t, err)

	store := inmem.New()
	lock := inmem.NewLock()
	harness := tools.NewHarness()
	steps, err := steploop.New(steploop.Deps{Gateway: gw, Harness: harness})
	require.NoError(t, err)

	manifestsByKey := map[string]manifest.Manifest{
		manifest.Key{ID: "root", Version: "v1"}.String():  rootMf,
		manifest.Key{ID: "child", Version: "v1"}.String(): childMf,
	}
	resumer := resume.New(steps, store, manifestsByKey, func(mf manifest.Manifest) *tools.ToolSet {
		return tools.NewToolSet(nil, "")
	})

	var o *Orchestrator
	toolsets := func(_ context.Context, mf manifest.Manifest) (*tools.ToolSet, error) {
		defs := append([]tools.Def{}, mf.Tools...)
		for _, ref := range mf.SubAgents {
			defs = append(defs, SubAgentTool(o, mf, ref))
		}
		return tools.NewToolSet(defs, mf.OutputTool), nil
	}

	o, err = New(Deps{
		Registry: registry,
		Store:    store,
		Lock:     lock,
		Steps:    steps,
		Resumer:  resumer,
		ToolSets: toolsets,
	})
	require.NoError(t, err)

	started := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "root"}})
	require.NoError(t, started.Err)
	require.Equal(t, run.StatusSuspended, started.Status)
	require.Len(t, started.SuspensionStacks, 1)
	stack := started.SuspensionStacks[0]
	require.Len(t, stack.Entries, 2)
	assert.Equal(t, "root", stack.Entries[0].ManifestID)
	assert.Equal(t, "child", stack.Entries[1].ManifestID)
	assert.Equal(t, "child-appr", stack.LeafSuspension.ApprovalID)

	resumed := o.Run(context.Background(), Input{Kind: InputApproval, RunID: started.RunID, Approval: resume.Approval{ApprovalID: "child-appr", Approved: true}})
	require.NoError(t, resumed.Err)
	assert.Equal(t, run.StatusCompleted, resumed.Status)
	require.NotNil(t, resumed.Result)
	assert.Equal(t, "root done", resumed.Result.Text)
}

func TestRunAlreadyRunningWhenLockHeld(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{{Text: "hi", FinishReason: "stop"}}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	registry, err := manifest.Validate([]manifest.Manifest{mf}, "agent")
	require.NoError(t, err)

	store := inmem.New()
	lock := inmem.NewLock()
	harness := tools.NewHarness()
	steps, err := steploop.New(steploop.Deps{Gateway: gw, Harness: harness})
	require.NoError(t, err)
	resumer := resume.New(steps, store, map[string]manifest.Manifest{manifest.Key{ID: "agent", Version: "v1"}.String(): mf}, func(mf manifest.Manifest) *tools.ToolSet {
		return tools.NewToolSet(nil, "")
	})
	toolsets := func(_ context.Context, mf manifest.Manifest) (*tools.ToolSet, error) {
		return tools.NewToolSet(mf.Tools, mf.OutputTool), nil
	}
	o, err := New(Deps{Registry: registry, Store: store, Lock: lock, Steps: steps, Resumer: resumer, ToolSets: toolsets})
	require.NoError(t, err)

	existing := &run.State{RunID: "held-run", ManifestID: "agent", ManifestVersion: "v1", Status: run.StatusSuspended}
	require.NoError(t, store.Put(context.Background(), existing))
	_, err = lock.Acquire(context.Background(), "held-run", time.Minute)
	require.NoError(t, err)

	final := o.Run(context.Background(), Input{Kind: InputContinue, RunID: "held-run"})
	assert.True(t, final.AlreadyRunning)
}

func TestPauseRunThenResumeRestoresCompletedRun(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{{Text: "hi", FinishReason: "stop"}}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	o := buildOrchestrator(t, []manifest.Manifest{mf}, "agent", gw)

	started := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "agent"}})
	require.Equal(t, run.StatusCompleted, started.Status)

	require.NoError(t, o.PauseRun(context.Background(), started.RunID))

	reply := o.Run(context.Background(), Input{Kind: InputReply, RunID: started.RunID, ReplyMessage: message.NewTextMessage(message.RoleUser, "still there?")})
	assert.Equal(t, run.StatusError, reply.Status)
	assert.Error(t, reply.Err)

	resumed := o.ResumeRun(context.Background(), started.RunID)
	require.NoError(t, resumed.Err)
	assert.Equal(t, run.StatusCompleted, resumed.Status)

	again := o.Run(context.Background(), Input{Kind: InputReply, RunID: started.RunID, ReplyMessage: message.NewTextMessage(message.RoleUser, "now?")})
	require.NoError(t, again.Err)
	assert.Equal(t, run.StatusCompleted, again.Status)
}

func TestPauseRunLeavesRealSuspensionsIntact(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{
		{
			ContentParts: []message.Part{{Type: message.PartToolApprovalRequest, ApprovalID: "a1", ToolCallID: "tc1", ToolName: "dangerous"}},
			FinishReason: "tool-calls",
		},
		{Text: "resumed", FinishReason: "stop"},
	}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	o := buildOrchestrator(t, []manifest.Manifest{mf}, "agent", gw)

	started := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "agent"}})
	require.Equal(t, run.StatusSuspended, started.Status)

	require.NoError(t, o.PauseRun(context.Background(), started.RunID))

	resumed := o.ResumeRun(context.Background(), started.RunID)
	require.NoError(t, resumed.Err)
	require.Equal(t, run.StatusSuspended, resumed.Status)
	require.Len(t, resumed.Suspensions, 1)
	assert.Equal(t, "a1", resumed.Suspensions[0].ApprovalID)

	approved := o.Run(context.Background(), Input{Kind: InputApproval, RunID: started.RunID, Approval: resume.Approval{ApprovalID: "a1", Approved: true}})
	require.NoError(t, approved.Err)
	assert.Equal(t, run.StatusCompleted, approved.Status)
}

func TestPauseRunRejectsDoublePause(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{{Text: "hi", FinishReason: "stop"}}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	o := buildOrchestrator(t, []manifest.Manifest{mf}, "agent", gw)

	started := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "agent"}})
	require.Equal(t, run.StatusCompleted, started.Status)

	require.NoError(t, o.PauseRun(context.Background(), started.RunID))
	assert.Error(t, o.PauseRun(context.Background(), started.RunID))
}

func TestResumeRunRejectsUnpausedRun(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{responses: []model.Response{{Text: "hi", FinishReason: "stop"}}}
	mf := manifest.Manifest{ID: "agent", Version: "v1"}
	o := buildOrchestrator(t, []manifest.Manifest{mf}, "agent", gw)

	started := o.Run(context.Background(), Input{Kind: InputRun, Request: Request{ManifestID: "agent"}})
	require.Equal(t, run.StatusCompleted, started.Status)

	resumed := o.ResumeRun(context.Background(), started.RunID)
	assert.Equal(t, run.StatusError, resumed.Status)
	assert.Error(t, resumed.Err)
}
