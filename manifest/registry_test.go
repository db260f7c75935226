package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopersmall/agentruntime/errs"
)

func TestValidateBuildsRegistry(t *testing.T) {
	t.Parallel()

	root := Manifest{ID: "root", Version: "v1", SubAgents: []SubAgentRef{{ToolName: "child", Key: Key{ID: "child", Version: "v1"}}}}
	child := Manifest{ID: "child", Version: "v1"}

	reg, err := Validate([]Manifest{root, child}, "root")
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, "root", reg.Root.ID)

	got, ok := reg.Lookup(Key{ID: "child", Version: "v1"})
	require.True(t, ok)
	assert.Equal(t, child, got)

	got, ok = reg.LookupByID("child")
	require.True(t, ok)
	assert.Equal(t, child, got)

	_, ok = reg.LookupByID("missing")
	assert.False(t, ok)
}

func TestValidateRootNotFound(t *testing.T) {
	t.Parallel()

	_, err := Validate([]Manifest{{ID: "a", Version: "v1"}}, "root")
	require.Error(t, err)
	k, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindNotFound, k)
}

func TestValidateDuplicateIDDifferentVersions(t *testing.T) {
	t.Parallel()

	manifests := []Manifest{
		{ID: "root", Version: "v1"},
		{ID: "root", Version: "v2"},
	}
	_, err := Validate(manifests, "root")
	require.Error(t, err)
	k, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindBadRequest, k)
}

func TestValidateDanglingSubAgentRef(t *testing.T) {
	t.Parallel()

	root := Manifest{ID: "root", Version: "v1", SubAgents: []SubAgentRef{{ToolName: "ghost", Key: Key{ID: "ghost", Version: "v1"}}}}
	_, err := Validate([]Manifest{root}, "root")
	require.Error(t, err)
	k, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindBadRequest, k)
}

func TestValidateDetectsCycle(t *testing.T) {
	t.Parallel()

	a := Manifest{ID: "a", Version: "v1", SubAgents: []SubAgentRef{{ToolName: "b", Key: Key{ID: "b", Version: "v1"}}}}
	b := Manifest{ID: "b", Version: "v1", SubAgents: []SubAgentRef{{ToolName: "a", Key: Key{ID: "a", Version: "v1"}}}}

	_, err := Validate([]Manifest{a, b}, "a")
	require.Error(t, err)
	k, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindBadRequest, k)
}

func TestValidateAllowsDiamondNotCycle(t *testing.T) {
	t.Parallel()

	root := Manifest{ID: "root", Version: "v1", SubAgents: []SubAgentRef{
		{ToolName: "left", Key: Key{ID: "left", Version: "v1"}},
		{ToolName: "right", Key: Key{ID: "right", Version: "v1"}},
	}}
	leaf := Manifest{ID: "leaf", Version: "v1"}
	left := Manifest{ID: "left", Version: "v1", SubAgents: []SubAgentRef{{ToolName: "leaf", Key: Key{ID: "leaf", Version: "v1"}}}}
	right := Manifest{ID: "right", Version: "v1", SubAgents: []SubAgentRef{{ToolName: "leaf", Key: Key{ID: "leaf", Version: "v1"}}}}

	_, err := Validate([]Manifest{root, left, right, leaf}, "root")
	require.NoError(t, err)
}
