// Package transcript implements the memory/transcript subscriber described
// in SPEC_FULL.md §C.2: a hooks.Bus subscriber that mirrors tool-call and
// assistant-message events into an append-only, per-run transcript, kept
// independent of the authoritative run.State persisted by C2. Modeled on
// the teacher's runtime/agent/transcript ledger, simplified to this
// runtime's event vocabulary (no provider-wire-format reconstruction).
package transcript

import (
	"context"
	"sync"

	"github.com/coopersmall/agentruntime/hooks"
)

type (
	// EntryKind distinguishes the three event shapes the ledger records.
	EntryKind string

	// Entry is one append-only transcript record.
	Entry struct {
		Kind       EntryKind
		StepNumber int
		Text       string
		ToolCallID string
		ToolName   string
		IsError    bool
		Timestamp  int64
	}

	// Ledger is an in-memory, append-only transcript keyed by run id. It
	// implements hooks.Subscriber so it can be registered directly on a
	// hooks.Bus; callers wanting durable transcripts can adapt Ledger's
	// HandleEvent into a subscriber that writes to a store instead.
	Ledger struct {
		mu      sync.RWMutex
		entries map[string][]Entry
	}
)

const (
	EntryAssistantMessage EntryKind = "assistant-message"
	EntryToolCall         EntryKind = "tool-call"
	EntryToolResult       EntryKind = "tool-result"
)

// NewLedger constructs an empty transcript ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string][]Entry)}
}

// HandleEvent implements hooks.Subscriber. Only tool-call and
// assistant-message events append a transcript entry; every other event
// type is ignored.
func (l *Ledger) HandleEvent(_ context.Context, event hooks.Event) error {
	var entry Entry
	switch e := event.(type) {
	case *hooks.AssistantMessageEvent:
		if e.Text == "" {
			return nil
		}
		entry = Entry{Kind: EntryAssistantMessage, StepNumber: e.StepNumber, Text: e.Text, Timestamp: e.Timestamp()}
	case *hooks.ToolCallStartedEvent:
		entry = Entry{Kind: EntryToolCall, ToolCallID: e.ToolCallID, ToolName: e.ToolName, Timestamp: e.Timestamp()}
	case *hooks.ToolCallResultEvent:
		entry = Entry{Kind: EntryToolResult, ToolCallID: e.ToolCallID, ToolName: e.ToolName, IsError: e.IsError, Timestamp: e.Timestamp()}
	default:
		return nil
	}

	l.mu.Lock()
	l.entries[event.RunID()] = append(l.entries[event.RunID()], entry)
	l.mu.Unlock()
	return nil
}

// Transcript returns a copy of the entries recorded for runID, in the order
// they were observed. Returns nil if nothing has been recorded for runID.
func (l *Ledger) Transcript(runID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.entries[runID]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Forget discards the recorded transcript for runID, so long-lived ledgers
// attached to a Bus shared across many runs don't grow unbounded.
func (l *Ledger) Forget(runID string) {
	l.mu.Lock()
	delete(l.entries, runID)
	l.mu.Unlock()
}
