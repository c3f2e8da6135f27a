// Package searcher runs keyword queries against the committed index.
//
// Queries go to the SQLite FTS5 table through storage.SQLiteIndex. Every
// query term is quoted, so user input never reaches the FTS5 query syntax.
// Hits are ranked by BM25 with higher scores first.
//
// # Usage
//
//	s := searcher.New(index, searcher.DefaultCacheSize)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:    "distributed systems",
//	    Types:    []string{"Book"},
//	    Limit:    10,
//	    UseCache: true,
//	})
//
// # Caching
//
// Responses are kept in an LRU cache keyed by a SHA-256 of the normalized
// request and expire after CacheTTL. A mass indexing run changes what is
// visible only when it commits, so the run manager calls Invalidate once a
// run finishes instead of tracking individual documents.
package searcher
