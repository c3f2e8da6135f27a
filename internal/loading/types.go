package loading

import (
	"fmt"

	"github.com/dshills/massindex/pkg/types"
)

// IndexedType is an entity type mapped into the index schema.
type IndexedType interface {
	Name() string
	LoadingStrategy() Strategy
}

// Type is the plain IndexedType used by configuration driven setups.
type Type struct {
	name     string
	strategy Strategy
}

// NewType binds a type name to the strategy able to load it.
func NewType(name string, strategy Strategy) *Type {
	return &Type{name: name, strategy: strategy}
}

func (t *Type) Name() string              { return t.name }
func (t *Type) LoadingStrategy() Strategy { return t.strategy }

func (t *Type) String() string { return t.name }

// Identifiable is implemented by loaded entities that know their own type
// and document identifier.
type Identifiable interface {
	IndexedTypeName() string
	DocumentID() string
}

// Introspector extracts the indexed type and document id of a loaded entity.
type Introspector interface {
	Identify(entity any) (typeName string, docID string, err error)
}

// IntrospectorFunc adapts a function to Introspector.
type IntrospectorFunc func(entity any) (string, string, error)

func (f IntrospectorFunc) Identify(entity any) (string, string, error) { return f(entity) }

// DefaultIntrospector relies on entities implementing Identifiable.
var DefaultIntrospector Introspector = IntrospectorFunc(func(entity any) (string, string, error) {
	id, ok := entity.(Identifiable)
	if !ok {
		return "", "", fmt.Errorf("%w: %T does not expose its type and document id", types.ErrUnknownType, entity)
	}
	return id.IndexedTypeName(), id.DocumentID(), nil
})
