// Package steploop implements the Step Loop (C4): the single-agent
// execution loop described in spec.md §4.4 — model step, tool execution,
// output validation, stop-condition evaluation — emitting lifecycle events
// and terminating by completion, suspension, cancellation, or error.
package steploop

import (
	"context"
	"errors"
	"time"

	"github.com/coopersmall/agentruntime/errs"
	"github.com/coopersmall/agentruntime/hooks"
	"github.com/coopersmall/agentruntime/manifest"
	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/model"
	"github.com/coopersmall/agentruntime/run"
	"github.com/coopersmall/agentruntime/telemetry"
	"github.com/coopersmall/agentruntime/tools"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxRetries   = 3
	defaultStepCountCap = 20
)

type (
	// Deps are the Step Loop's external collaborators: the completions
	// gateway (consumed, spec.md §6) and the tool harness (C3).
	Deps struct {
		Gateway model.Gateway
		Harness *tools.Harness

		Hooks   hooks.Bus
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Loop is the Step Loop (C4). A single Loop can be shared across
	// concurrent runs; it holds no per-run state.
	Loop struct {
		gateway model.Gateway
		harness *tools.Harness
		hooks   hooks.Bus
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
	}

	// RunOptions carries per-run overrides (spec.md §3 "agent request...
	// options (per-run timeout overrides)").
	RunOptions struct {
		TimeoutOverride time.Duration
	}

	// Result is produced on a `complete` outcome (spec.md §4.4 "Result
	// construction").
	Result struct {
		ManifestID   string
		Provider     string
		Model        string
		Text         string
		Output       *message.ToolOutput
		Steps        []run.Step
		TotalUsage   run.Usage
		FinishReason string
	}

	// Outcome is the Step Loop's terminal value: exactly one of Result
	// (Status completed), Suspensions/SuspensionStacks (Status suspended),
	// or Err (Status error) is meaningful; Status cancelled carries the
	// context's error in Err.
	Outcome struct {
		Status           run.Status
		Result           *Result
		Suspensions      []run.Suspension
		SuspensionStacks []run.SuspensionStack
		Err              error
	}
)

// New constructs a Loop. Gateway and Harness are required; unset telemetry
// and hook fields fall back to no-ops.
func New(deps Deps) (*Loop, error) {
	if deps.Gateway == nil {
		return nil, errors.New("steploop: gateway is required")
	}
	if deps.Harness == nil {
		return nil, errors.New("steploop: harness is required")
	}
	l := &Loop{gateway: deps.Gateway, harness: deps.Harness}
	l.hooks = deps.Hooks
	if l.hooks == nil {
		l.hooks = hooks.NewBus()
	}
	l.logger = deps.Logger
	if l.logger == nil {
		l.logger = telemetry.NoopLogger{}
	}
	l.metrics = deps.Metrics
	if l.metrics == nil {
		l.metrics = telemetry.NoopMetrics{}
	}
	l.tracer = deps.Tracer
	if l.tracer == nil {
		l.tracer = telemetry.NoopTracer{}
	}
	return l, nil
}

// Run drives state through the algorithm in spec.md §4.4 until a terminal
// outcome is reached, mutating state in place so the caller can persist
// whatever Run leaves behind regardless of outcome (spec.md §5: "partial
// state at the time of cancellation is preserved").
func (l *Loop) Run(ctx context.Context, mf manifest.Manifest, state *run.State, ts *tools.ToolSet, opts RunOptions) Outcome {
	start := time.Now()
	timeout := mf.Timeout
	if opts.TimeoutOverride > 0 {
		timeout = opts.TimeoutOverride
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	accumulatedBefore := time.Duration(state.ElapsedExecutionMS) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return l.finalize(state, start, run.Status(run.StatusCancelled), Outcome{Status: run.StatusCancelled, Err: ctx.Err()})
		default:
		}

		elapsed := accumulatedBefore + time.Since(start)
		if elapsed > timeout {
			return l.finalize(state, start, run.StatusError, Outcome{Status: run.StatusError, Err: errs.New(errs.KindTimeout, "steploop: run exceeded its deadline")})
		}

		state.StepNumber++

		stepMessages := state.Messages
		activeTools := ([]string)(nil)
		toolChoice := ""
		if mf.Hooks.PrepareStep != nil {
			overrides, err := mf.Hooks.PrepareStep(manifest.StepContext{RunID: state.RunID, StepNumber: state.StepNumber, Messages: state.Messages})
			if err != nil {
				return l.finalize(state, start, run.StatusError, Outcome{Status: run.StatusError, Err: errs.Wrap(errs.KindInternal, err)})
			}
			if overrides.Messages != nil {
				stepMessages = overrides.Messages
			}
			if overrides.ActiveTools != nil {
				activeTools = overrides.ActiveTools
			}
			toolChoice = overrides.ToolChoice
		}

		_ = l.hooks.Publish(ctx, hooks.NewStepStarted(state.RunID, mf.ID, state.RunID, state.StepNumber))

		req := model.Request{
			Provider:     mf.ProviderConfig.Provider,
			Model:        mf.ProviderConfig.Model,
			SystemPrompt: mf.SystemPrompt,
			Messages:     stepMessages,
			Tools:        toolDecls(ts.All()),
			ActiveTools:  activeTools,
			StopWhen:     []model.StopWhen{{Type: model.StopAfterSteps, Count: 1}},
		}
		if toolChoice != "" {
			req.ToolChoice = &model.ToolChoice{Mode: toolChoice}
		}

		resp, err := l.gateway.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return l.finalize(state, start, run.StatusCancelled, Outcome{Status: run.StatusCancelled, Err: ctx.Err()})
			}
			return l.finalize(state, start, run.StatusError, Outcome{Status: run.StatusError, Err: errs.Wrap(errs.KindUpstream, err)})
		}

		if approvals := approvalRequests(resp.ContentParts); len(approvals) > 0 {
			state.Messages = append(state.Messages, assistantMessage(resp))
			suspensions := toSuspensions(approvals)
			state.Suspensions = append(state.Suspensions, suspensions...)
			return l.finalize(state, start, run.StatusSuspended, Outcome{Status: run.StatusSuspended, Suspensions: suspensions})
		}

		calls := toolCallParts(resp.ToolCalls)
		var dispatch tools.DispatchResult
		if len(calls) > 0 {
			ectx := tools.ExecContext{
				RunID:           state.RunID,
				AgentID:         mf.ID,
				ManifestVersion: mf.Version,
				Messages:        stepMessages,
				StepNumber:      state.StepNumber,
			}
			dispatch, err = l.harness.Dispatch(ctx, ts, ectx, calls)
			if err != nil {
				if ctx.Err() != nil {
					return l.finalize(state, start, run.StatusCancelled, Outcome{Status: run.StatusCancelled, Err: ctx.Err()})
				}
				return l.finalize(state, start, run.StatusError, Outcome{Status: run.StatusError, Err: errs.Wrap(errs.KindInternal, err)})
			}
			if dispatch.Suspended != nil {
				state.Messages = append(state.Messages, assistantMessage(resp))
				state.Suspensions = append(state.Suspensions, dispatch.Suspended.Suspensions...)
				state.SuspensionStacks = append(state.SuspensionStacks, dispatch.Suspended.SuspensionStacks...)
				return l.finalize(state, start, run.StatusSuspended, Outcome{
					Status:           run.StatusSuspended,
					Suspensions:      dispatch.Suspended.Suspensions,
					SuspensionStacks: dispatch.Suspended.SuspensionStacks,
				})
			}
		}

		if outputName := ts.OutputToolName(); outputName != "" {
			if call, ok := findToolCall(calls, outputName); ok {
				def, _ := ts.Lookup(outputName)
				validated, verr := validateOutput(def.Schema, call.Input)
				if verr != nil {
					maxRetries := defaultMaxRetries
					if mf.MaxOutputRetries > 0 {
						maxRetries = mf.MaxOutputRetries
					}
					if state.OutputValidationRetries < maxRetries && mf.RetryOnFailure {
						state.OutputValidationRetries++
						state.Messages = append(state.Messages, retryMessages(verr)...)
						continue
					}
					return l.finalize(state, start, run.StatusError, Outcome{Status: run.StatusError, Err: errs.Wrap(errs.KindOutputValidation, verr)})
				}
				state.Output = validated
			}
		}

		step := run.Step{
			Text:         resp.Text,
			Reasoning:    resp.Reasoning,
			ToolCalls:    calls,
			ToolResults:  dispatch.Results,
			FinishReason: resp.FinishReason,
			Usage:        run.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens},
			Timestamp:    time.Now(),
		}
		state.Steps = append(state.Steps, step)

		if mf.Hooks.OnStepFinish != nil {
			if err := mf.Hooks.OnStepFinish(manifest.StepContext{RunID: state.RunID, StepNumber: state.StepNumber, Messages: state.Messages}); err != nil {
				return l.finalize(state, start, run.StatusError, Outcome{Status: run.StatusError, Err: errs.Wrap(errs.KindInternal, err)})
			}
		}

		_ = l.hooks.Publish(ctx, hooks.NewStepFinished(state.RunID, mf.ID, state.RunID, state.StepNumber, resp.FinishReason, len(calls)))
		if resp.Text != "" {
			_ = l.hooks.Publish(ctx, hooks.NewAssistantMessage(state.RunID, mf.ID, state.RunID, state.StepNumber, resp.Text))
		}

		state.Messages = append(state.Messages, iterationMessages(resp, dispatch)...)

		if stopConditionFires(mf, state) || (resp.FinishReason != "tool-calls" && !mf.OnTextOnlyContinue) {
			return l.finalize(state, start, run.StatusCompleted, Outcome{Status: run.StatusCompleted, Result: buildResult(mf, state, resp)})
		}
	}
}

func (l *Loop) finalize(state *run.State, start time.Time, status run.Status, o Outcome) Outcome {
	state.ElapsedExecutionMS += time.Since(start).Milliseconds()
	state.Status = status
	state.UpdatedAt = time.Now()
	return o
}

func stopConditionFires(mf manifest.Manifest, state *run.State) bool {
	conditions := mf.StopWhen
	if len(conditions) == 0 {
		conditions = []manifest.StopCondition{{Kind: manifest.StopOnStepCount, StepCount: defaultStepCountCap}}
	}
	for _, c := range conditions {
		switch c.Kind {
		case manifest.StopOnStepCount:
			if state.StepNumber >= c.StepCount {
				return true
			}
		case manifest.StopOnToolUse:
			for _, step := range state.Steps {
				for _, call := range step.ToolCalls {
					if call.ToolName == c.ToolName {
						return true
					}
				}
			}
		}
	}
	return false
}

func buildResult(mf manifest.Manifest, state *run.State, resp model.Response) *Result {
	total := run.Usage{}
	for _, s := range state.Steps {
		total.InputTokens += s.Usage.InputTokens
		total.OutputTokens += s.Usage.OutputTokens
		total.TotalTokens += s.Usage.TotalTokens
	}
	return &Result{
		ManifestID:   mf.ID,
		Provider:     mf.ProviderConfig.Provider,
		Model:        mf.ProviderConfig.Model,
		Text:         resp.Text,
		Output:       state.Output,
		Steps:        state.Steps,
		TotalUsage:   total,
		FinishReason: resp.FinishReason,
	}
}
