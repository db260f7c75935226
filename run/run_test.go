package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusSuspended.Terminal())
}

func TestSuspensionStackRootAndDeepest(t *testing.T) {
	t.Parallel()

	stack := SuspensionStack{Entries: []StackEntry{
		{ManifestID: "root", StateID: "r1", PendingToolCallID: "tc1"},
		{ManifestID: "child", StateID: "c1"},
	}}
	assert.Equal(t, "root", stack.Root().ManifestID)
	assert.Equal(t, "child", stack.Deepest().ManifestID)
}

func TestSuspensionStackValid(t *testing.T) {
	t.Parallel()

	valid := SuspensionStack{Entries: []StackEntry{
		{ManifestID: "root", StateID: "r1", PendingToolCallID: "tc1"},
		{ManifestID: "child", StateID: "c1"},
	}}
	assert.True(t, valid.Valid())

	tooShort := SuspensionStack{Entries: []StackEntry{{ManifestID: "root", StateID: "r1"}}}
	assert.False(t, tooShort.Valid())

	leafHasPending := SuspensionStack{Entries: []StackEntry{
		{ManifestID: "root", StateID: "r1", PendingToolCallID: "tc1"},
		{ManifestID: "child", StateID: "c1", PendingToolCallID: "tc2"},
	}}
	assert.False(t, leafHasPending.Valid())
}

func TestSuspensionStackReroot(t *testing.T) {
	t.Parallel()

	stack := SuspensionStack{
		Entries:        []StackEntry{{ManifestID: "mid", StateID: "m1"}, {ManifestID: "leaf", StateID: "l1"}},
		LeafSuspension: Suspension{ApprovalID: "a1"},
	}
	prefix := []StackEntry{{ManifestID: "root", StateID: "r1", PendingToolCallID: "tc1"}}

	rerooted := stack.Reroot(prefix)
	require := assert.New(t)
	require.Len(rerooted.Entries, 3)
	require.Equal("root", rerooted.Entries[0].ManifestID)
	require.Equal("mid", rerooted.Entries[1].ManifestID)
	require.Equal("leaf", rerooted.Entries[2].ManifestID)
	require.Equal("a1", rerooted.LeafSuspension.ApprovalID)
}
