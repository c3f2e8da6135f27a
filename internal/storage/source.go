package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/massindex/internal/loading"
)

// DefaultFetchSize is used when the scan does not provide a fetch size.
const DefaultFetchSize = 100

// timestampLayout matches CURRENT_TIMESTAMP, which both drivers parse back
// into time.Time for TIMESTAMP columns.
const timestampLayout = "2006-01-02 15:04:05"

// SQLiteSource is a system of record stored in SQLite.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource opens or creates the record database at dbPath. The pool
// is unbounded: every scan holds one connection for its snapshot while
// workers load batches on others.
func NewSQLiteSource(dbPath string) (*SQLiteSource, error) {
	db, err := openDatabase(dbPath, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}
	db.SetMaxIdleConns(4)

	if err := ApplyMigrations(context.Background(), db, SourceMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// PutRecords inserts or replaces records. Records without an ID get one.
func (s *SQLiteSource) PutRecords(ctx context.Context, records []*Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		attrs, err := json.Marshal(r.Attrs)
		if err != nil {
			return fmt.Errorf("failed to encode attributes of record %d: %w", r.ID, err)
		}
		if r.Attrs == nil {
			attrs = []byte("{}")
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = time.Now()
		}

		var id interface{}
		if r.ID != 0 {
			id = r.ID
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO records (id, type_name, title, body, attrs, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type_name = excluded.type_name,
				title = excluded.title,
				body = excluded.body,
				attrs = excluded.attrs,
				updated_at = excluded.updated_at
			RETURNING id
		`, id, r.Type, r.Title, r.Body, string(attrs), r.UpdatedAt.UTC().Format(timestampLayout)).Scan(&r.ID)
		if err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteRecord removes one record.
func (s *SQLiteSource) DeleteRecord(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRawAttributes overwrites the stored attribute text of a record without
// validation.
func (s *SQLiteSource) SetRawAttributes(ctx context.Context, id int64, raw string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE records SET attrs = ? WHERE id = ?", raw, id)
	return err
}

// Strategy returns the loading strategy of this source. Types sharing the
// source and related through h are scanned together.
func (s *SQLiteSource) Strategy(h *loading.Hierarchy) loading.Strategy {
	return &sqliteStrategy{src: s, hierarchy: h}
}

type sqliteStrategy struct {
	src       *SQLiteSource
	hierarchy *loading.Hierarchy
}

func (st *sqliteStrategy) Equal(other loading.Strategy) bool {
	o, ok := other.(*sqliteStrategy)
	return ok && o.src == st.src && o.hierarchy == st.hierarchy
}

func (st *sqliteStrategy) JoinMode(current, other *loading.TypeGroup) loading.JoinMode {
	return loading.HierarchyJoinMode(st.hierarchy, current, other)
}

func (st *sqliteStrategy) CreateLoader(types []loading.IndexedType) (loading.TypeLoader, error) {
	if len(types) == 0 {
		return nil, errors.New("no types to load")
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name()
	}
	return &sqliteLoader{src: st.src, typeNames: names}, nil
}

type sqliteLoader struct {
	src       *SQLiteSource
	typeNames []string
}

// Scan reads the identifiers inside one read transaction, which pins a WAL
// snapshot for the count and every identifier page.
func (l *sqliteLoader) Scan(ctx context.Context, sc loading.ScanContext) error {
	tx, err := l.src.db.BeginTx(ctx, nil)
	if err != nil {
		return loading.Fatal(fmt.Errorf("failed to begin scan transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	in := placeholders(len(l.typeNames))
	args := stringArgs(l.typeNames)

	var total int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE type_name IN ("+in+")", args...).Scan(&total); err != nil {
		return snapshotError(ctx, fmt.Errorf("failed to count records: %w", err))
	}
	sc.TotalCount(total)

	step := sc.Batching(l.src.loadBatch)
	fetch := sc.FetchSize()
	if fetch <= 0 {
		fetch = DefaultFetchSize
	}

	pageQuery := "SELECT id FROM records WHERE type_name IN (" + in + ") AND id > ? ORDER BY id LIMIT ?"
	var last int64
	for {
		pageArgs := make([]interface{}, 0, len(args)+2)
		pageArgs = append(pageArgs, args...)
		pageArgs = append(pageArgs, last, fetch)
		ids, err := fetchIDs(ctx, tx, pageQuery, pageArgs)
		if err != nil {
			return snapshotError(ctx, err)
		}
		for _, id := range ids {
			if err := step.Add(ctx, id); err != nil {
				return err
			}
		}
		if len(ids) < fetch {
			return nil
		}
		last = ids[len(ids)-1]
	}
}

func fetchIDs(ctx context.Context, q querier, query string, args []interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch identifiers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// snapshotError marks errors that mean the scan transaction is gone.
func snapshotError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, sql.ErrTxDone) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", loading.ErrSnapshotLost, err)
	}
	return err
}

// loadBatch loads the records of ids in one query. Records deleted since
// the scan come back as nil, records with unreadable attributes as errors.
func (s *SQLiteSource) loadBatch(ctx context.Context, ids []any) ([]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := "SELECT id, type_name, title, body, attrs, updated_at FROM records WHERE id IN (" + placeholders(len(ids)) + ")"
	rows, err := s.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]any, len(ids))
	for rows.Next() {
		r := &Record{}
		var attrs string
		if err := rows.Scan(&r.ID, &r.Type, &r.Title, &r.Body, &attrs, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &r.Attrs); err != nil {
			byID[r.ID] = fmt.Errorf("record %d has malformed attributes: %w", r.ID, err)
			continue
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]any, len(ids))
	for i, raw := range ids {
		id, ok := raw.(int64)
		if !ok {
			out[i] = fmt.Errorf("unexpected identifier type %T", raw)
			continue
		}
		out[i] = byID[id]
	}
	return out, nil
}
