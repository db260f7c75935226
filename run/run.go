// Package run defines the persisted state model shared by the state store
// (C2), the step loop (C4), and the suspension resumer (C5): RunState, the
// suspension stack, and the run status state machine from spec.md §3-§4.4.
package run

import (
	"time"

	"github.com/coopersmall/agentruntime/message"
)

// Status is a run's coarse lifecycle state (spec.md §3, §4.4 state machine).
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of the immutable terminal statuses
// (spec.md §8 "State progression": completed/error/cancelled never return to
// running, only delete is legal).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

type (
	// Suspension is the opaque approval descriptor produced by a
	// tool-approval-request part (spec.md §3).
	Suspension struct {
		ApprovalID string
		ToolCallID string
		ToolName   string
		Input      string
	}

	// StackEntry is one level of a suspension stack (spec.md §3). Every
	// entry but the last carries the tool-call id that invoked its
	// immediate child; the last entry (the suspension site) has none.
	StackEntry struct {
		ManifestID      string
		ManifestVersion string
		StateID         string
		// PendingToolCallID is empty exactly for the deepest (leaf) entry.
		PendingToolCallID string
	}

	// SuspensionStack is an ordered path root→deepest plus the leaf
	// suspension that caused it (spec.md §3). Length must be >= 2.
	SuspensionStack struct {
		Entries       []StackEntry
		LeafSuspension Suspension
	}

	// Step captures one completions-gateway call plus the tool executions
	// it induced (spec.md §3, GLOSSARY "Step").
	Step struct {
		Text         string
		Reasoning    []string
		ToolCalls    []message.Part
		ToolResults  []message.Part
		FinishReason string
		Usage        Usage
		Timestamp    time.Time
	}

	// Usage aggregates token accounting for a step or a whole run.
	Usage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// PendingToolResult is a tool-result recorded against a parent run,
	// awaiting injection as a tool message on the next resume (spec.md §3,
	// GLOSSARY "Pending tool result"). Order is preserved; drained in full
	// on the next continue.
	PendingToolResult struct {
		ToolCallID string
		Part       message.Part
	}

	// ParentContext is a back-reference to the run that invoked this one as
	// a sub-agent tool, carrying only ids (spec.md §9 "Cyclic parent<->child
	// references... never a pointer back to the parent state object").
	ParentContext struct {
		ParentRunID        string
		ParentManifestID   string
		ParentManifestVer  string
		ParentToolCallID   string
	}

	// State is the persisted per-run record described in spec.md §3.
	State struct {
		RunID           string
		ManifestID      string
		ManifestVersion string
		Status          Status

		Messages []message.Message
		Steps    []Step

		StepNumber             int
		OutputValidationRetries int

		// Suspensions holds this agent's own pending HITL requests.
		Suspensions []Suspension
		// SuspensionStacks holds rooted stacks traversing descendants.
		SuspensionStacks []SuspensionStack
		// PendingToolResults holds results injected by completing
		// sub-agents, awaiting re-entry.
		PendingToolResults []PendingToolResult

		// ChildStateIDs enables recursive deletion (spec.md §4.2 delete).
		ChildStateIDs []string
		// ParentContext is set only for nested (sub-agent) runs.
		ParentContext *ParentContext

		ElapsedExecutionMS int64

		CreatedAt time.Time
		UpdatedAt time.Time

		// Output holds the validated structured output once an output tool
		// call has passed schema validation (spec.md §4.4 step 7).
		Output *message.ToolOutput

		// PrePauseStatus records Status as of the moment an administrative
		// pause (stream.Orchestrator.PauseRun) was applied, so ResumeRun can
		// restore it without re-entering the step loop when no real
		// continuation is pending.
		PrePauseStatus Status
	}
)

// Root returns the stack's root entry.
func (s SuspensionStack) Root() StackEntry { return s.Entries[0] }

// Deepest returns the stack's deepest (leaf) entry.
func (s SuspensionStack) Deepest() StackEntry { return s.Entries[len(s.Entries)-1] }

// Valid reports whether the stack satisfies spec.md §8's ordering invariant:
// length >= 2 and the deepest entry has no pending tool call id.
func (s SuspensionStack) Valid() bool {
	if len(s.Entries) < 2 {
		return false
	}
	return s.Deepest().PendingToolCallID == ""
}

// Reroot returns a new stack with prefix prepended ahead of s's entries,
// implementing spec.md §4.5's "re-root": every stack returned after
// propagation still starts at the original root.
func (s SuspensionStack) Reroot(prefix []StackEntry) SuspensionStack {
	entries := make([]StackEntry, 0, len(prefix)+len(s.Entries))
	entries = append(entries, prefix...)
	entries = append(entries, s.Entries...)
	return SuspensionStack{Entries: entries, LeafSuspension: s.LeafSuspension}
}
