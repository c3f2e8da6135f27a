package loading

import (
	"fmt"
	"sort"
)

// Hierarchy records the single-parent supertype relation between type
// names. Strategies use it to decide join modes.
type Hierarchy struct {
	parents map[string]string
}

// NewHierarchy returns an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{parents: make(map[string]string)}
}

// Add declares name with the given supertype; super may be empty for a root.
func (h *Hierarchy) Add(name, super string) error {
	if name == "" {
		return fmt.Errorf("type name is required")
	}
	if super == name {
		return fmt.Errorf("type %q cannot be its own supertype", name)
	}
	for cur := super; cur != ""; cur = h.parents[cur] {
		if cur == name {
			return fmt.Errorf("type %q: supertype cycle through %q", name, super)
		}
	}
	h.parents[name] = super
	return nil
}

// Super returns the direct supertype of name.
func (h *Hierarchy) Super(name string) string {
	return h.parents[name]
}

// IsSuperTypeOf reports whether super is sub or one of its ancestors.
func (h *Hierarchy) IsSuperTypeOf(super, sub string) bool {
	for cur := sub; cur != ""; cur = h.parents[cur] {
		if cur == super {
			return true
		}
	}
	return false
}

// Root returns the topmost ancestor of name.
func (h *Hierarchy) Root(name string) string {
	cur := name
	for h.parents[cur] != "" {
		cur = h.parents[cur]
	}
	return cur
}

// Names returns all declared type names, sorted.
func (h *Hierarchy) Names() []string {
	names := make([]string, 0, len(h.parents))
	for n := range h.parents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HierarchyJoinMode merges groups when one common supertype is an ancestor
// of the other, keeping the ancestor.
func HierarchyJoinMode(h *Hierarchy, current, other *TypeGroup) JoinMode {
	a := current.CommonSuperType().Name()
	b := other.CommonSuperType().Name()
	switch {
	case h.IsSuperTypeOf(a, b):
		return JoinFirst
	case h.IsSuperTypeOf(b, a):
		return JoinNext
	default:
		return JoinNone
	}
}
