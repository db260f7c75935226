package run

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genStackEntry() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
	).Map(func(vals []interface{}) StackEntry {
		return StackEntry{
			ManifestID:      vals[0].(string),
			ManifestVersion: "v1",
			StateID:         vals[1].(string),
		}
	})
}

func genNonEmptyStackEntrySlice() gopter.Gen {
	return gen.SliceOfN(3, genStackEntry())
}

// TestSuspensionStackRerootPreservesLength verifies Property: for any stack
// and any prefix, Reroot's result has exactly len(prefix)+len(stack.Entries)
// entries and never mutates the leaf suspension (spec.md §4.5 "re-root").
func TestSuspensionStackRerootPreservesLength(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reroot preserves entry count and leaf suspension", prop.ForAll(
		func(entries []StackEntry, prefix []StackEntry, approvalID string) bool {
			stack := SuspensionStack{Entries: entries, LeafSuspension: Suspension{ApprovalID: approvalID}}
			rerooted := stack.Reroot(prefix)

			if len(rerooted.Entries) != len(prefix)+len(entries) {
				return false
			}
			if rerooted.LeafSuspension.ApprovalID != approvalID {
				return false
			}
			for i, e := range prefix {
				if rerooted.Entries[i] != e {
					return false
				}
			}
			for i, e := range entries {
				if rerooted.Entries[len(prefix)+i] != e {
					return false
				}
			}
			return true
		},
		genNonEmptyStackEntrySlice(),
		genNonEmptyStackEntrySlice(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// TestSuspensionStackRerootTwiceIsAssociative verifies Property: rerooting
// with prefix A then prefix B yields the same entries as rerooting once with
// B++A combined, so repeated propagation up a chain of parents (spec.md §4.5)
// never depends on whether it happens in one hop or several.
func TestSuspensionStackRerootTwiceIsAssociative(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("rerooting twice equals rerooting once with a combined prefix", prop.ForAll(
		func(entries, prefixA, prefixB []StackEntry) bool {
			stack := SuspensionStack{Entries: entries}

			twice := stack.Reroot(prefixA).Reroot(prefixB)

			combined := make([]StackEntry, 0, len(prefixB)+len(prefixA))
			combined = append(combined, prefixB...)
			combined = append(combined, prefixA...)
			once := stack.Reroot(combined)

			if len(twice.Entries) != len(once.Entries) {
				return false
			}
			for i := range twice.Entries {
				if twice.Entries[i] != once.Entries[i] {
					return false
				}
			}
			return true
		},
		genNonEmptyStackEntrySlice(),
		genNonEmptyStackEntrySlice(),
		genNonEmptyStackEntrySlice(),
	))

	properties.TestingRun(t)
}

// TestSuspensionStackValidRequiresLeafWithoutPendingCall verifies Property:
// Valid is false whenever the deepest entry carries a PendingToolCallID,
// regardless of how many entries precede it (spec.md §8 ordering invariant).
func TestSuspensionStackValidRequiresLeafWithoutPendingCall(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a leaf with a pending tool call id is never valid", prop.ForAll(
		func(entries []StackEntry, leafPendingID string) bool {
			if leafPendingID == "" {
				return true
			}
			leaf := StackEntry{ManifestID: "leaf", StateID: "leaf-state", PendingToolCallID: leafPendingID}
			stack := SuspensionStack{Entries: append(append([]StackEntry{}, entries...), leaf)}
			return !stack.Valid()
		},
		genNonEmptyStackEntrySlice(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
