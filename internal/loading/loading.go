package loading

import "context"

// JoinMode tells the planner whether two type groups may share one scan.
type JoinMode int

const (
	// JoinNone keeps the groups apart.
	JoinNone JoinMode = iota
	// JoinFirst merges the groups under the first group's common supertype.
	JoinFirst
	// JoinNext merges the groups under the other group's common supertype.
	JoinNext
)

func (m JoinMode) String() string {
	switch m {
	case JoinFirst:
		return "FIRST"
	case JoinNext:
		return "NEXT"
	default:
		return "NONE"
	}
}

// Strategy is the capability a system of record offers for mass loading.
// Types sharing an equal Strategy are candidates for the same scan.
type Strategy interface {
	// JoinMode decides whether other can be scanned together with current.
	JoinMode(current, other *TypeGroup) JoinMode
	// CreateLoader returns a loader scanning the identifiers of exactly
	// the given types.
	CreateLoader(types []IndexedType) (TypeLoader, error)
}

// TypeLoader scans the identifiers of one type group within a single
// consistent snapshot.
type TypeLoader interface {
	// Scan reports the total count through sc, registers a batch load
	// function and feeds every identifier to the returned BatchingStep.
	// It returns when the scan is exhausted, the objects limit is reached
	// (ErrLimitReached) or the context is done.
	Scan(ctx context.Context, sc ScanContext) error
}

// BatchLoadFunc loads the entities for ids in one round trip. The result
// has one element per id, in order: nil when the record no longer exists,
// an error value when that single record failed to load, the entity
// otherwise. A returned error fails the whole batch.
type BatchLoadFunc func(ctx context.Context, ids []any) ([]any, error)

// ScanContext is what a TypeLoader sees of the scan stage.
type ScanContext interface {
	// TotalCount records the number of identifiers the scan expects to
	// produce. Only the first call is taken into account.
	TotalCount(n int64)
	// BatchSize is the maximum number of identifiers per batch.
	BatchSize() int
	// FetchSize is the cursor fetch size hint for identifier queries.
	FetchSize() int
	// ObjectsLimit is the maximum number of identifiers to produce, 0 for
	// no limit.
	ObjectsLimit() int64
	// Batching registers load as the function workers use to turn
	// identifiers into entities and returns the step accepting them.
	Batching(load BatchLoadFunc) BatchingStep
}

// BatchingStep receives the scanned identifiers and hands full batches to
// the workers.
type BatchingStep interface {
	// Add appends one identifier, pushing the current batch once full.
	Add(ctx context.Context, id any) error
	// Load appends a list of identifiers.
	Load(ctx context.Context, ids []any) error
}
