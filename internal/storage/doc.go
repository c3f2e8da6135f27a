// Package storage provides the SQLite side of mass indexing: the full-text
// index the documents are written to and a system of record they can be
// loaded from.
//
// # Index
//
// SQLiteIndex implements the indexer backend on top of two tables:
//   - documents: one row per (type, document id) with an xxhash content hash
//   - documents_fts: FTS5 table using documents as external content
//
// Adds only touch documents. CommitAndMakeVisible rebuilds documents_fts
// in one transaction, so a search never sees a half indexed run:
//
//	idx, err := storage.NewSQLiteIndex("index.db")
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	hits, err := idx.Search(ctx, "distributed systems", storage.SearchFilter{}, 10)
//
// # Source
//
// SQLiteSource stores records (type, title, body, attributes) and offers a
// loading strategy. Each scan runs in a read transaction that pins a WAL
// snapshot; identifiers are paged with keyset queries of the scan's fetch
// size, and batches are loaded with a single IN query.
//
// # Migrations
//
// Both databases track their schema in schema_version and migrate with
// semantic versions:
//
//	err := storage.ApplyMigrations(ctx, db, storage.IndexMigrations)
//
// # Build Modes
//
// The driver is selected at build time:
//   - default / purego: modernc.org/sqlite, no CGO
//   - sqlite_vec: github.com/mattn/go-sqlite3 (build with the fts5 tag)
package storage
