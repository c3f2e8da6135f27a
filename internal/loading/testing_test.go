package loading

import (
	"context"
	"errors"
)

// hierarchyStrategy joins types along a hierarchy and never loads anything.
type hierarchyStrategy struct {
	h    *Hierarchy
	name string
}

func (s hierarchyStrategy) JoinMode(current, other *TypeGroup) JoinMode {
	return HierarchyJoinMode(s.h, current, other)
}

func (s hierarchyStrategy) CreateLoader(types []IndexedType) (TypeLoader, error) {
	return nil, errors.New("not loadable")
}

// sliceStrategy is not comparable.
type sliceStrategy struct {
	tags []string
}

func (s sliceStrategy) JoinMode(current, other *TypeGroup) JoinMode { return JoinFirst }

func (s sliceStrategy) CreateLoader(types []IndexedType) (TypeLoader, error) {
	return loaderFunc(func(ctx context.Context, sc ScanContext) error { return nil }), nil
}

// namedStrategy compares by name through Equal.
type namedStrategy struct {
	name  string
	attrs map[string]string
}

func (s *namedStrategy) Equal(other Strategy) bool {
	o, ok := other.(*namedStrategy)
	return ok && o.name == s.name
}

func (s *namedStrategy) JoinMode(current, other *TypeGroup) JoinMode { return JoinFirst }

func (s *namedStrategy) CreateLoader(types []IndexedType) (TypeLoader, error) {
	return nil, nil
}

type loaderFunc func(ctx context.Context, sc ScanContext) error

func (f loaderFunc) Scan(ctx context.Context, sc ScanContext) error { return f(ctx, sc) }
