package store

import (
	"encoding/json"
	"strings"
)

// splitPath parses a /-separated path into segments. The empty path is the
// root. Empty segments (leading, trailing, or doubled slashes aside) are
// rejected so a malformed path can never shadow a sibling.
func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	segs := strings.Split(trimmed, "/")
	for _, seg := range segs {
		if seg == "" {
			return nil, ErrInvalidPath
		}
	}
	return segs, nil
}

// lookup walks the tree to the node at segs, or nil if absent.
func lookup(root map[string]any, segs []string) any {
	var node any = root
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return node
}

// setAt writes node at segs, materializing intermediate maps. A leaf value
// found where a map is needed is replaced (last writer wins).
func setAt(root map[string]any, segs []string, node any) {
	m := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[seg] = child
		}
		m = child
	}
	m[segs[len(segs)-1]] = node
}

// removeAt deletes the subtree at segs and prunes parents left empty.
// TECHNICAL DISCOVERY: Pruning matters for presence - an emptied users map
// must read back as absent, not as an empty object, or join/leave diffing
// would see a phantom snapshot shape
func removeAt(root map[string]any, segs []string) {
	if len(segs) == 0 {
		for k := range root {
			delete(root, k)
		}
		return
	}

	parents := make([]map[string]any, 0, len(segs))
	m := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			return // path does not exist
		}
		parents = append(parents, m)
		m = child
	}
	delete(m, segs[len(segs)-1])

	// Prune empty intermediate maps bottom-up
	for i := len(parents) - 1; i >= 0; i-- {
		if len(m) > 0 {
			break
		}
		delete(parents[i], segs[i])
		m = parents[i]
	}
}

// pathsOverlap reports whether one path is a prefix of the other, meaning a
// write at one affects the snapshot observed at the other.
func pathsOverlap(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// marshalSubtree renders a node as a snapshot. Absent nodes are nil.
func marshalSubtree(node any) (json.RawMessage, error) {
	if node == nil {
		return nil, nil
	}
	data, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
