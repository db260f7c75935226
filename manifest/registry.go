package manifest

import (
	"github.com/coopersmall/agentruntime/errs"
)

// Registry is the validated output of C1 (spec.md §4.1): a root manifest
// plus every manifest passed to Validate (not only those reachable from the
// root), keyed canonically.
// Manifests are never mutated after Validate returns a Registry.
type Registry struct {
	Root  Manifest
	ByKey map[string]Manifest
}

// Lookup returns the manifest for key, if present.
func (r *Registry) Lookup(key Key) (Manifest, bool) {
	m, ok := r.ByKey[key.String()]
	return m, ok
}

// LookupByID returns the manifest for id, relying on Validate's guarantee
// that each id maps to exactly one version within a registry (spec.md §3).
func (r *Registry) LookupByID(id string) (Manifest, bool) {
	for _, m := range r.ByKey {
		if m.ID == id {
			return m, true
		}
	}
	return Manifest{}, false
}

// Validate builds a Registry from manifests and rootID, implementing
// spec.md §4.1's validation sequence:
//  1. BadRequest if any id occurs with more than one version.
//  2. NotFound if root id absent.
//  3. BadRequest if any sub-agent-ref points to a (id, version) not in the
//     registry.
//  4. BadRequest on cycles in the sub-agent graph, detected by DFS with a
//     recursion set; the first key whose entry is already on the current
//     path triggers the error.
func Validate(manifests []Manifest, rootID string) (*Registry, error) {
	byKey := make(map[string]Manifest, len(manifests))
	idVersions := make(map[string]string, len(manifests))
	for _, m := range manifests {
		key := Key{ID: m.ID, Version: m.Version}
		if existing, ok := idVersions[m.ID]; ok && existing != m.Version {
			return nil, errs.Newf(errs.KindBadRequest, "manifest: id %q occurs with more than one version (%q and %q)", m.ID, existing, m.Version)
		}
		idVersions[m.ID] = m.Version
		byKey[key.String()] = m
	}

	var root Manifest
	var rootKey Key
	found := false
	for _, m := range manifests {
		if m.ID == rootID {
			root = m
			rootKey = Key{ID: m.ID, Version: m.Version}
			found = true
			break
		}
	}
	if !found {
		return nil, errs.Newf(errs.KindNotFound, "manifest: root id %q not found", rootID)
	}

	for _, m := range manifests {
		for _, ref := range m.SubAgents {
			if _, ok := byKey[ref.Key.String()]; !ok {
				return nil, errs.Newf(errs.KindBadRequest, "manifest: %q references sub-agent (%q, %q) not in the registry", m.ID, ref.Key.ID, ref.Key.Version)
			}
		}
	}

	if err := detectCycle(byKey, rootKey); err != nil {
		return nil, err
	}

	return &Registry{Root: root, ByKey: byKey}, nil
}

// detectCycle walks the sub-agent graph from start via DFS, maintaining the
// current path as a recursion set. The first key already on the path
// triggers a BadRequest (spec.md §4.1).
func detectCycle(byKey map[string]Manifest, start Key) error {
	onPath := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(key Key) error
	visit = func(key Key) error {
		k := key.String()
		if onPath[k] {
			return errs.Newf(errs.KindBadRequest, "manifest: cycle detected in sub-agent graph at %q", key.ID)
		}
		if visited[k] {
			return nil
		}
		visited[k] = true
		onPath[k] = true
		defer func() { onPath[k] = false }()

		m, ok := byKey[k]
		if !ok {
			return nil
		}
		for _, ref := range m.SubAgents {
			if err := visit(ref.Key); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(start)
}
