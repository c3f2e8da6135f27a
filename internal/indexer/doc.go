// Package indexer rebuilds a search index in bulk from a system of record.
//
// A MassIndexer plans the requested types into type groups (see package
// loading), prepares the index, runs one pipeline per group and commits
// once every group has drained.
//
// # Basic Usage
//
//	mi, err := indexer.New(indexer.DefaultConfig(), types, backend,
//	    indexer.WithLogger(logger))
//	if err != nil {
//	    return err // invalid configuration
//	}
//
//	report, err := mi.StartAndWait(ctx)
//	fmt.Printf("indexed %d documents, %d failures\n",
//	    report.Progress.Indexed, report.Failures.Total)
//
// Start returns a *Run immediately; the run can be observed with State,
// Progress and Done, and stopped with Cancel.
//
// # Run Protocol
//
//  1. Prepare: drop and recreate the schema, purge the target types and
//     merge segments, each when enabled
//  2. Index: run every group pipeline, at most TypesToIndexInParallel at once
//  3. Finalize: commit and make visible, then merge segments when enabled
//
// A failing group does not stop the others. The commit still happens once
// all groups are done so that every document accepted by the backend
// becomes visible.
//
// # Group Pipeline
//
// Each group has one scan stage and ThreadsToLoadObjects workers sharing a
// bounded queue of identifier batches:
//
//	scan --[]any batches--> queue (QueueCapacity) --> worker x C --> Backend.Add
//
// The scan stage runs the group's TypeLoader, pushes full batches as soon as
// they are complete, flushes the last partial batch and closes the queue on
// every exit path. Workers load a batch in one call, submit each entity and
// wait for the batch's acknowledgements before taking the next batch, so the
// backend applies backpressure through the queue to the scan.
//
// # Failures
//
// Per-record failures (not found, load error, backend rejection) are
// recorded by the progress sink and never stop a worker. Infrastructure
// failures (lost snapshot, broken connection, errors marked with
// loading.Fatal) stop the group, which is then reported FAILED. Exceeding
// FailureThreshold aborts the whole run.
//
// A run that did not complete returns a *RunError. Cancellation is reported
// with state CANCELLED and an error matching both types.ErrCancelled and
// context.Canceled.
package indexer
