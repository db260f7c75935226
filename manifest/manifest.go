// Package manifest implements the Manifest Registry & Validator (C1): it
// holds the set of agent manifests keyed by (id, version), validates
// sub-agent references, and rejects cycles in the sub-agent graph.
package manifest

import (
	"time"

	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/tools"
)

// Key canonically identifies a manifest by (id, version).
type Key struct {
	ID      string
	Version string
}

// String encodes the key as "id\x00version", matching spec.md §3's
// "canonical key" requirement for use as a map key.
func (k Key) String() string {
	return k.ID + "\x00" + k.Version
}

// StopCondition is one entry of a manifest's stopWhen list (spec.md §4.4
// step 9). Exactly one of StepCount/ToolUse is meaningful, selected by Kind.
type StopCondition struct {
	Kind     StopConditionKind
	StepCount int
	ToolName  string
}

// StopConditionKind distinguishes StopCondition variants.
type StopConditionKind string

const (
	StopOnStepCount StopConditionKind = "stepCount"
	StopOnToolUse   StopConditionKind = "toolUse"
)

// SubAgentRef names a sub-agent manifest reachable as a tool from this
// manifest.
type SubAgentRef struct {
	ToolName string
	Key      Key
}

// Manifest is the immutable per-agent configuration described in spec.md §3.
// Manifests are supplied per request and never mutated after validation.
type Manifest struct {
	ID      string
	Version string

	// ProviderConfig names the completions-gateway provider/model this
	// manifest's planner turns should target (opaque to the runtime).
	ProviderConfig ProviderConfig

	SystemPrompt string

	// Tools enumerates the built-in/user-defined tools this manifest may
	// call. MCP-derived tools and the generated sub-agent tools are added at
	// run start by the tool harness (C3), not declared here.
	Tools []tools.Def

	SubAgents []SubAgentRef

	// OutputTool, when set, names the tool whose invocation captures this
	// run's structured output (spec.md §3 "output-tool?").
	OutputTool string

	StopWhen []StopCondition

	// RetryCaps bounds output-validation retries (spec.md §4.4 step 7).
	MaxOutputRetries int
	RetryOnFailure   bool

	// Timeout is the per-run deadline (spec.md §4.4 step 1). Zero means the
	// default of 60s applies.
	Timeout time.Duration

	// OnTextOnlyContinue, when true, means a text-only finish (finishReason
	// != "tool-calls") does NOT stop the run (spec.md §4.4 step 9,
	// onTextOnly = "continue").
	OnTextOnlyContinue bool

	Hooks HookTable
}

// ProviderConfig names the completions-gateway target for a manifest. It is
// passed through to the gateway unmodified; the runtime never inspects it.
type ProviderConfig struct {
	Provider string
	Model    string
}

// HookTable holds optional per-agent lifecycle hooks (spec.md §9 "Dynamic
// hook tables... Replace per-agent hook maps with an interface with
// optional methods"). Nil fields mean "no hook".
type HookTable struct {
	// PrepareStep runs before each completions call (spec.md §4.4 step 3).
	PrepareStep func(ctx StepContext) (StepOverrides, error)
	// OnStepFinish runs after a step is committed (spec.md §4.4 step 8).
	OnStepFinish func(ctx StepContext) error
	// BeforeSubAgent/AfterSubAgent wrap sub-agent tool execution
	// (spec.md §4.3 "Before and after child execution the parent's matching
	// lifecycle hooks are invoked").
	BeforeSubAgent func(ctx StepContext) error
	AfterSubAgent  func(ctx StepContext) error
	// OnAgentComplete/OnAgentSuspend/OnAgentError/OnAgentCancelled are the
	// terminal hooks from spec.md §7; their errors propagate to the caller
	// and suppress the terminal stream event.
	OnAgentComplete   func(ctx StepContext) error
	OnAgentSuspend    func(ctx StepContext) error
	OnAgentError      func(ctx StepContext) error
	OnAgentCancelled  func(ctx StepContext) error
}

// StepContext is the read-only context passed to manifest hooks.
type StepContext struct {
	RunID      string
	StepNumber int
	Messages   []message.Message
}

// StepOverrides is what a PrepareStep hook may return (spec.md §4.4 step 3):
// replacement messages, a tool-choice override, and a restricted active-tool
// set.
type StepOverrides struct {
	Messages    []message.Message
	ToolChoice  string
	ActiveTools []string
}
