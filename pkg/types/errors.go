package types

import "errors"

// Domain errors shared by the indexing packages
var (
	// Configuration errors
	ErrInvalidConfig = errors.New("invalid mass indexer configuration")
	ErrNoTypes       = errors.New("no types to index")
	ErrUnknownType   = errors.New("unknown indexed type")

	// Run outcome errors
	ErrCancelled       = errors.New("mass indexing cancelled")
	ErrTooManyFailures = errors.New("failure threshold exceeded")
	ErrGroupFailed     = errors.New("type group indexing failed")
	ErrRunInProgress   = errors.New("a mass indexing run is already in progress")
)
