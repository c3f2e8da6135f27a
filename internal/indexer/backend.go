package indexer

import "context"

// Backend is the index the mass indexer writes to.
type Backend interface {
	// Add converts entity and submits it. The returned channel yields
	// exactly one value, nil on success, once the backend has accepted or
	// rejected the document.
	Add(ctx context.Context, typeName, docID string, entity any) <-chan error

	// CommitAndMakeVisible makes every accepted document searchable.
	CommitAndMakeVisible(ctx context.Context) error

	// DropAndCreateSchema recreates the index schema of the given types.
	DropAndCreateSchema(ctx context.Context, typeNames []string) error

	// Purge removes every document of the given types.
	Purge(ctx context.Context, typeNames []string) error

	// MergeSegments compacts the index.
	MergeSegments(ctx context.Context) error
}
