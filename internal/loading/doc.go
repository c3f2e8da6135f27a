// Package loading defines how a system of record takes part in mass
// indexing and plans the scans of a run.
//
// A Strategy scans identifiers of one or more indexed types and loads
// entities by identifier batches. Disjoint partitions the requested types
// into TypeGroups so that each group is scanned once, inside one snapshot,
// by one TypeLoader.
package loading
