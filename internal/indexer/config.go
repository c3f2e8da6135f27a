package indexer

import (
	"fmt"

	"github.com/dshills/massindex/pkg/types"
)

// Config contains the settings of a mass indexer. It is copied by New and
// cannot change afterwards.
type Config struct {
	TypesToIndexInParallel int   // Type groups indexed at once (default: 1)
	ThreadsToLoadObjects   int   // Load-and-index workers per group (default: 6)
	BatchSizeToLoadObjects int   // Identifiers per batch (default: 10)
	IDFetchSize            int   // Cursor fetch size hint for identifier scans (default: 100)
	ObjectsLimit           int64 // Maximum identifiers per group, 0 for no limit
	QueueCapacity          int   // Batches buffered between scan and workers (default: 1000)

	DropAndCreateSchemaOnStart bool // Drop and recreate the index schema first (default: false)
	PurgeAllOnStart            bool // Purge every target type first (default: true)
	MergeSegmentsAfterPurge    bool // Merge index segments after the purge (default: true)
	MergeSegmentsOnFinish      bool // Merge index segments after the final commit (default: false)

	FailureThreshold  int64 // Abort once more failures than this are recorded, 0 never aborts
	FailureSampleSize int   // Failures kept verbatim for the summary (default: 100)
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		TypesToIndexInParallel:  1,
		ThreadsToLoadObjects:    6,
		BatchSizeToLoadObjects:  10,
		IDFetchSize:             100,
		QueueCapacity:           1000,
		PurgeAllOnStart:         true,
		MergeSegmentsAfterPurge: true,
		FailureSampleSize:       100,
	}
}

// Validate checks every setting and reports the first invalid one.
func (c Config) Validate() error {
	switch {
	case c.TypesToIndexInParallel < 1:
		return fmt.Errorf("%w: types to index in parallel must be at least 1, got %d", types.ErrInvalidConfig, c.TypesToIndexInParallel)
	case c.ThreadsToLoadObjects < 1:
		return fmt.Errorf("%w: threads to load objects must be at least 1, got %d", types.ErrInvalidConfig, c.ThreadsToLoadObjects)
	case c.BatchSizeToLoadObjects < 1:
		return fmt.Errorf("%w: batch size to load objects must be at least 1, got %d", types.ErrInvalidConfig, c.BatchSizeToLoadObjects)
	case c.ObjectsLimit < 0:
		return fmt.Errorf("%w: objects limit must not be negative, got %d", types.ErrInvalidConfig, c.ObjectsLimit)
	case c.QueueCapacity < 1:
		return fmt.Errorf("%w: queue capacity must be at least 1, got %d", types.ErrInvalidConfig, c.QueueCapacity)
	case c.FailureThreshold < 0:
		return fmt.Errorf("%w: failure threshold must not be negative, got %d", types.ErrInvalidConfig, c.FailureThreshold)
	case c.FailureSampleSize < 1:
		return fmt.Errorf("%w: failure sample size must be at least 1, got %d", types.ErrInvalidConfig, c.FailureSampleSize)
	}
	return nil
}
