package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextMessageIsPlainText(t *testing.T) {
	t.Parallel()

	m := NewTextMessage(RoleUser, "hello")
	assert.True(t, m.IsPlainText())
	assert.Equal(t, "hello", m.Text)
}

func TestToolApprovalRequestsHarvestsAll(t *testing.T) {
	t.Parallel()

	m := Message{Parts: []Part{
		{Type: PartText, Text: "thinking"},
		{Type: PartToolApprovalRequest, ApprovalID: "a1"},
		{Type: PartToolCall, ToolCallID: "t1"},
		{Type: PartToolApprovalRequest, ApprovalID: "a2"},
	}}

	reqs := m.ToolApprovalRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "a1", reqs[0].ApprovalID)
	assert.Equal(t, "a2", reqs[1].ApprovalID)
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	t.Parallel()

	a, err := CanonicalJSON(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, a)
}

func TestTextOutputRoundTrips(t *testing.T) {
	t.Parallel()

	out := TextOutput(`has "quotes"`)
	assert.Equal(t, ToolOutputText, out.Type)
	assert.JSONEq(t, `"has \"quotes\""`, string(out.Value))
}

func TestJSONOutputMarshalsValue(t *testing.T) {
	t.Parallel()

	out, err := JSONOutput(map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, ToolOutputJSON, out.Type)
	assert.JSONEq(t, `{"x":1}`, string(out.Value))
}

func TestErrorJSONOutputEnvelope(t *testing.T) {
	t.Parallel()

	out := ErrorJSONOutput("boom", "tool_error")
	assert.Equal(t, ToolOutputErrorJSON, out.Type)
	assert.JSONEq(t, `{"error":"boom","code":"tool_error"}`, string(out.Value))
}
