package config

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/massindex/internal/loading"
	"github.com/dshills/massindex/pkg/types"
)

// Hierarchy builds the supertype relation of the declared types. A type
// may name a supertype declared later in the file, but never an undeclared
// one.
func (c *Config) Hierarchy() (*loading.Hierarchy, error) {
	declared := make(map[string]bool, len(c.Types))
	for _, t := range c.Types {
		if t.Name == "" {
			return nil, invalid("types: every entry needs a name")
		}
		if declared[t.Name] {
			return nil, invalid("types: %q declared twice", t.Name)
		}
		declared[t.Name] = true
	}

	h := loading.NewHierarchy()
	for _, t := range c.Types {
		if t.Super != "" && !declared[t.Super] {
			return nil, invalid("types: %q extends undeclared type %q", t.Name, t.Super)
		}
		if err := h.Add(t.Name, t.Super); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
		}
	}
	return h, nil
}

// SelectTypes returns the declared type names matching any of patterns,
// in declaration order. No pattern selects every type. A pattern matching
// nothing is an error wrapping types.ErrUnknownType.
func (c *Config) SelectTypes(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		names := make([]string, len(c.Types))
		for i, t := range c.Types {
			names[i] = t.Name
		}
		return names, nil
	}

	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, invalid("invalid type pattern %q", p)
		}
	}

	matchedBy := make(map[string]bool, len(patterns))
	var names []string
	for _, t := range c.Types {
		selected := false
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, t.Name); ok {
				matchedBy[p] = true
				selected = true
			}
		}
		if selected {
			names = append(names, t.Name)
		}
	}

	for _, p := range patterns {
		if !matchedBy[p] {
			return nil, fmt.Errorf("%w: no type matches %q", types.ErrUnknownType, p)
		}
	}
	return names, nil
}
