package transcript

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopersmall/agentruntime/hooks"
)

func TestLedgerRecordsToolAndAssistantEvents(t *testing.T) {
	t.Parallel()

	led := NewLedger()
	ctx := context.Background()

	require.NoError(t, led.HandleEvent(ctx, hooks.NewToolCallStarted("r1", "mf", "r1", "tc-1", "lookup", "")))
	require.NoError(t, led.HandleEvent(ctx, hooks.NewToolCallResult("r1", "mf", "r1", "tc-1", "lookup", false, 0)))
	require.NoError(t, led.HandleEvent(ctx, hooks.NewAssistantMessage("r1", "mf", "r1", 1, "the answer is 42")))
	require.NoError(t, led.HandleEvent(ctx, hooks.NewStepStarted("r1", "mf", "r1", 2)))

	entries := led.Transcript("r1")
	require.Len(t, entries, 3)
	assert.Equal(t, EntryToolCall, entries[0].Kind)
	assert.Equal(t, "tc-1", entries[0].ToolCallID)
	assert.Equal(t, EntryToolResult, entries[1].Kind)
	assert.False(t, entries[1].IsError)
	assert.Equal(t, EntryAssistantMessage, entries[2].Kind)
	assert.Equal(t, "the answer is 42", entries[2].Text)
}

func TestLedgerIgnoresEmptyAssistantText(t *testing.T) {
	t.Parallel()

	led := NewLedger()
	require.NoError(t, led.HandleEvent(context.Background(), hooks.NewAssistantMessage("r1", "mf", "r1", 1, "")))
	assert.Nil(t, led.Transcript("r1"))
}

func TestLedgerKeepsRunsIsolated(t *testing.T) {
	t.Parallel()

	led := NewLedger()
	ctx := context.Background()
	require.NoError(t, led.HandleEvent(ctx, hooks.NewAssistantMessage("r1", "mf", "r1", 1, "r1 text")))
	require.NoError(t, led.HandleEvent(ctx, hooks.NewAssistantMessage("r2", "mf", "r2", 1, "r2 text")))

	assert.Len(t, led.Transcript("r1"), 1)
	assert.Len(t, led.Transcript("r2"), 1)
	assert.Nil(t, led.Transcript("r3"))
}

func TestLedgerForgetDropsRun(t *testing.T) {
	t.Parallel()

	led := NewLedger()
	ctx := context.Background()
	require.NoError(t, led.HandleEvent(ctx, hooks.NewAssistantMessage("r1", "mf", "r1", 1, "text")))
	require.Len(t, led.Transcript("r1"), 1)

	led.Forget("r1")
	assert.Nil(t, led.Transcript("r1"))
}

func TestLedgerSatisfiesHooksSubscriber(t *testing.T) {
	t.Parallel()

	var _ hooks.Subscriber = NewLedger()
}
