package loading

import (
	"fmt"
	"reflect"
	"strings"
)

// TypeGroup is a set of indexed types loaded by one scan of one strategy.
// A group is immutable once planned.
type TypeGroup struct {
	commonSuperType IndexedType
	strategy        Strategy
	included        []IndexedType
}

func newSingletonGroup(t IndexedType) *TypeGroup {
	return &TypeGroup{
		commonSuperType: t,
		strategy:        t.LoadingStrategy(),
		included:        []IndexedType{t},
	}
}

// CommonSuperType is the type every included type derives from.
func (g *TypeGroup) CommonSuperType() IndexedType { return g.commonSuperType }

// Strategy is the loading strategy shared by the included types.
func (g *TypeGroup) Strategy() Strategy { return g.strategy }

// IncludedTypes returns the types loaded by this group.
func (g *TypeGroup) IncludedTypes() []IndexedType {
	out := make([]IndexedType, len(g.included))
	copy(out, g.included)
	return out
}

// TypeNames returns the names of the included types.
func (g *TypeGroup) TypeNames() []string {
	names := make([]string, len(g.included))
	for i, t := range g.included {
		names[i] = t.Name()
	}
	return names
}

// Includes reports whether typeName is loaded by this group.
func (g *TypeGroup) Includes(typeName string) bool {
	for _, t := range g.included {
		if t.Name() == typeName {
			return true
		}
	}
	return false
}

// CreateLoader asks the strategy for a loader of the included types.
func (g *TypeGroup) CreateLoader() (TypeLoader, error) {
	loader, err := g.strategy.CreateLoader(g.IncludedTypes())
	if err != nil {
		return nil, fmt.Errorf("create loader for %s: %w", g, err)
	}
	if loader == nil {
		return nil, fmt.Errorf("create loader for %s: strategy returned no loader", g)
	}
	return loader, nil
}

func (g *TypeGroup) String() string {
	return fmt.Sprintf("%s[%s]", g.commonSuperType.Name(), strings.Join(g.TypeNames(), ","))
}

// mergeWith returns the union of g and other or nil when they cannot be
// scanned together. The pair is asked in both orders so that a strategy
// answering for one direction only still merges.
func (g *TypeGroup) mergeWith(other *TypeGroup) *TypeGroup {
	if !sameStrategy(g.strategy, other.strategy) {
		return nil
	}
	mode := g.strategy.JoinMode(g, other)
	if mode == JoinNone {
		switch other.strategy.JoinMode(other, g) {
		case JoinFirst:
			mode = JoinNext
		case JoinNext:
			mode = JoinFirst
		}
	}

	var super IndexedType
	switch mode {
	case JoinFirst:
		super = g.commonSuperType
	case JoinNext:
		super = other.commonSuperType
	default:
		return nil
	}

	included := make([]IndexedType, 0, len(g.included)+len(other.included))
	included = append(included, g.included...)
	included = append(included, other.included...)
	return &TypeGroup{commonSuperType: super, strategy: g.strategy, included: included}
}

// Equaler lets a strategy define its own equality when it is not a
// comparable value.
type Equaler interface {
	Equal(other Strategy) bool
}

func sameStrategy(a, b Strategy) (same bool) {
	if a == nil || b == nil {
		return false
	}
	if eq, ok := a.(Equaler); ok {
		return eq.Equal(b)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// Disjoint partitions types into groups sharing one scan each. Groups are
// merged pairwise until no two groups can be joined, so the result does not
// depend on the input order. Duplicate type names collapse. Groups come out
// in the order their first type appeared.
func Disjoint(types []IndexedType) []*TypeGroup {
	seen := make(map[string]bool, len(types))
	groups := make([]*TypeGroup, 0, len(types))
	for _, t := range types {
		if t == nil || seen[t.Name()] {
			continue
		}
		seen[t.Name()] = true
		groups = append(groups, newSingletonGroup(t))
	}

	for merged := true; merged; {
		merged = false
		for i := 0; i < len(groups); i++ {
			for j := i + 1; j < len(groups); j++ {
				m := groups[i].mergeWith(groups[j])
				if m == nil {
					continue
				}
				groups[i] = m
				groups = append(groups[:j], groups[j+1:]...)
				j--
				merged = true
			}
		}
	}
	return groups
}
