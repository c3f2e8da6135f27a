package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrNotFound is returned when a requested document doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrEmptyQuery is returned when a search has no usable term
	ErrEmptyQuery = errors.New("empty search query")
)

// openDatabase opens a SQLite database in WAL mode. maxConns bounds the
// pool; one connection serializes every writer.
func openDatabase(dbPath string, maxConns int) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	db, err := sql.Open(DriverName, dbPath+sep+busyTimeoutParam)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode so that scans keep a stable snapshot while others write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLiteIndex is a full-text index stored in SQLite. Added documents are
// written to the documents table at once but only become searchable when
// CommitAndMakeVisible rebuilds the FTS table.
type SQLiteIndex struct {
	db    *sql.DB
	retry RetryConfig
}

// NewSQLiteIndex opens or creates the index database at dbPath
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := openDatabase(dbPath, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db, IndexMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteIndex{db: db, retry: DefaultRetryConfig()}, nil
}

// Close closes the database connection
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database.
func (s *SQLiteIndex) DB() *sql.DB {
	return s.db
}

// Add stores entity in the background and reports the outcome on the
// returned channel.
func (s *SQLiteIndex) Add(ctx context.Context, typeName, docID string, entity any) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.upsertDocument(ctx, s.db, typeName, docID, entity)
	}()
	return done
}

func (s *SQLiteIndex) upsertDocument(ctx context.Context, q querier, typeName, docID string, entity any) error {
	title, body, err := documentFields(entity)
	if err != nil {
		return err
	}
	hash := xxhash.Sum64String(title + "\x00" + body)

	query := `
		INSERT INTO documents (type_name, doc_id, title, body, content_hash, indexed_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(type_name, doc_id)
		DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			content_hash = excluded.content_hash,
			indexed_at = excluded.indexed_at
	`
	_, err = retryWithBackoff(ctx, s.retry, func() (sql.Result, error) {
		return q.ExecContext(ctx, query, typeName, docID, title, body, int64(hash))
	})
	if err != nil {
		return fmt.Errorf("failed to index %s/%s: %w", typeName, docID, err)
	}
	return nil
}

// CommitAndMakeVisible rebuilds the full-text index from the documents
// table and records the commit.
func (s *SQLiteIndex) CommitAndMakeVisible(ctx context.Context) error {
	_, err := retryWithBackoff(ctx, s.retry, func() (int64, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "INSERT INTO documents_fts(documents_fts) VALUES('rebuild')"); err != nil {
			return 0, fmt.Errorf("failed to rebuild full-text index: %w", err)
		}
		var count int64
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO commits (documents) VALUES (?)", count); err != nil {
			return 0, fmt.Errorf("failed to record commit: %w", err)
		}
		return count, tx.Commit()
	})
	return err
}

// DropAndCreateSchema recreates the whole index schema. The index keeps
// every type in one schema, so typeNames is only used for logging by
// callers.
func (s *SQLiteIndex) DropAndCreateSchema(ctx context.Context, typeNames []string) error {
	if err := ResetSchema(ctx, s.db, IndexMigrations); err != nil {
		return fmt.Errorf("failed to reset index schema: %w", err)
	}
	return nil
}

// Purge deletes the documents of the given types.
func (s *SQLiteIndex) Purge(ctx context.Context, typeNames []string) error {
	if len(typeNames) == 0 {
		return nil
	}
	query := "DELETE FROM documents WHERE type_name IN (" + placeholders(len(typeNames)) + ")"
	_, err := retryWithBackoff(ctx, s.retry, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, query, stringArgs(typeNames)...)
	})
	if err != nil {
		return fmt.Errorf("failed to purge documents: %w", err)
	}
	return nil
}

// MergeSegments merges the FTS5 b-tree segments.
func (s *SQLiteIndex) MergeSegments(ctx context.Context) error {
	_, err := retryWithBackoff(ctx, s.retry, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, "INSERT INTO documents_fts(documents_fts) VALUES('optimize')")
	})
	if err != nil {
		return fmt.Errorf("failed to optimize full-text index: %w", err)
	}
	return nil
}

// GetDocument returns a stored document, committed or not.
func (s *SQLiteIndex) GetDocument(ctx context.Context, typeName, docID string) (*Document, error) {
	query := `
		SELECT id, type_name, doc_id, title, body, content_hash, indexed_at
		FROM documents
		WHERE type_name = ? AND doc_id = ?
	`
	var d Document
	var hash int64
	err := s.db.QueryRowContext(ctx, query, typeName, docID).Scan(
		&d.ID, &d.TypeName, &d.DocID, &d.Title, &d.Body, &hash, &d.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	d.ContentHash = uint64(hash)
	return &d, nil
}

// Search runs a keyword query against the committed full-text index.
func (s *SQLiteIndex) Search(ctx context.Context, query string, filter SearchFilter, limit int) ([]SearchHit, error) {
	match := ftsMatchExpression(query)
	if match == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `
		SELECT
			d.type_name,
			d.doc_id,
			d.title,
			snippet(documents_fts, 1, '[', ']', '...', 12) AS snippet,
			bm25(documents_fts) AS score
		FROM documents_fts
		INNER JOIN documents d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ?
	`
	args := []interface{}{match}
	if len(filter.Types) > 0 {
		sqlQuery += " AND d.type_name IN (" + placeholders(len(filter.Types)) + ")"
		args = append(args, stringArgs(filter.Types)...)
	}
	// BM25 scores are lower for better matches
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var snippet sql.NullString
		if err := rows.Scan(&h.TypeName, &h.DocID, &h.Title, &snippet, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		h.Snippet = snippet.String
		h.Score = -h.Score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Status summarizes the index.
func (s *SQLiteIndex) Status(ctx context.Context) (*IndexStatus, error) {
	byType, err := s.countByType(ctx)
	if err != nil {
		return nil, err
	}
	status := &IndexStatus{ByType: byType, BuildMode: BuildMode}
	for _, n := range byType {
		status.Documents += n
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM commits").Scan(&status.Commits); err != nil {
		return nil, fmt.Errorf("failed to count commits: %w", err)
	}
	if status.Commits > 0 {
		var last time.Time
		err := s.db.QueryRowContext(ctx, "SELECT committed_at FROM commits ORDER BY id DESC LIMIT 1").Scan(&last)
		if err != nil {
			return nil, fmt.Errorf("failed to read last commit: %w", err)
		}
		status.LastCommitAt = &last
	}

	status.SchemaVersion, err = SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// countByType must release its rows before the next query: the pool has a
// single connection.
func (s *SQLiteIndex) countByType(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT type_name, COUNT(*) FROM documents GROUP BY type_name")
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var typeName string
		var n int64
		if err := rows.Scan(&typeName, &n); err != nil {
			return nil, err
		}
		counts[typeName] = n
	}
	return counts, rows.Err()
}

// ftsMatchExpression quotes every term so that FTS5 operators in user
// input are matched literally. Terms are ANDed.
func ftsMatchExpression(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
