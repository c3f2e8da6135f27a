// Package postgres loads entities for mass indexing from a PostgreSQL
// system of record.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dshills/massindex/internal/loading"
)

// DefaultFetchSize is used when the scan does not provide a fetch size.
const DefaultFetchSize = 100

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table maps the record table onto the columns the loader needs.
type Table struct {
	Name        string
	IDColumn    string
	TypeColumn  string
	TitleColumn string
	BodyColumn  string
}

// DefaultTable matches the records table of the SQLite source.
func DefaultTable() Table {
	return Table{
		Name:        "records",
		IDColumn:    "id",
		TypeColumn:  "type_name",
		TitleColumn: "title",
		BodyColumn:  "body",
	}
}

// Validate rejects identifiers that are not plain SQL names.
func (t Table) Validate() error {
	for _, ident := range []string{t.Name, t.IDColumn, t.TypeColumn, t.TitleColumn, t.BodyColumn} {
		if !identifierPattern.MatchString(ident) {
			return fmt.Errorf("invalid SQL identifier %q", ident)
		}
	}
	return nil
}

// Record is a row of the record table.
type Record struct {
	ID    int64
	Type  string
	Title string
	Body  string
}

func (r *Record) IndexedTypeName() string          { return r.Type }
func (r *Record) DocumentID() string               { return strconv.FormatInt(r.ID, 10) }
func (r *Record) DocumentFields() (string, string) { return r.Title, r.Body }

// Connect opens a pool and checks the server is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Source is a PostgreSQL system of record.
type Source struct {
	pool  *pgxpool.Pool
	table Table
}

// NewSource reads records of table through pool.
func NewSource(pool *pgxpool.Pool, table Table) (*Source, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Source{pool: pool, table: table}, nil
}

// Strategy returns the loading strategy of this source.
func (s *Source) Strategy(h *loading.Hierarchy) loading.Strategy {
	return &strategy{src: s, hierarchy: h}
}

type strategy struct {
	src       *Source
	hierarchy *loading.Hierarchy
}

func (st *strategy) Equal(other loading.Strategy) bool {
	o, ok := other.(*strategy)
	return ok && o.src == st.src && o.hierarchy == st.hierarchy
}

func (st *strategy) JoinMode(current, other *loading.TypeGroup) loading.JoinMode {
	return loading.HierarchyJoinMode(st.hierarchy, current, other)
}

func (st *strategy) CreateLoader(types []loading.IndexedType) (loading.TypeLoader, error) {
	if len(types) == 0 {
		return nil, errors.New("no types to load")
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name()
	}
	return &loader{src: st.src, typeNames: names}, nil
}

type loader struct {
	src       *Source
	typeNames []string
}

func (s *Source) countQuery() string {
	t := s.table
	return fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s = ANY($1)`, t.Name, t.TypeColumn)
}

func (s *Source) pageQuery() string {
	t := s.table
	return fmt.Sprintf(`SELECT %[2]s FROM %[1]s WHERE %[3]s = ANY($1) AND %[2]s > $2 ORDER BY %[2]s LIMIT $3`,
		t.Name, t.IDColumn, t.TypeColumn)
}

func (s *Source) loadQuery() string {
	t := s.table
	return fmt.Sprintf(`SELECT %[2]s, %[3]s, %[4]s, %[5]s FROM %[1]s WHERE %[2]s = ANY($1)`,
		t.Name, t.IDColumn, t.TypeColumn, t.TitleColumn, t.BodyColumn)
}

// Scan counts and pages the identifiers inside one REPEATABLE READ READ
// ONLY transaction, so every page sees the snapshot the count saw.
func (l *loader) Scan(ctx context.Context, sc loading.ScanContext) error {
	tx, err := l.src.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return loading.Fatal(fmt.Errorf("begin scan transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	var total int64
	if err := tx.QueryRow(ctx, l.src.countQuery(), l.typeNames).Scan(&total); err != nil {
		return snapshotError(ctx, tx, fmt.Errorf("count records: %w", err))
	}
	sc.TotalCount(total)

	step := sc.Batching(l.src.loadBatch)
	fetch := sc.FetchSize()
	if fetch <= 0 {
		fetch = DefaultFetchSize
	}

	var last int64
	for {
		rows, err := tx.Query(ctx, l.src.pageQuery(), l.typeNames, last, fetch)
		if err != nil {
			return snapshotError(ctx, tx, fmt.Errorf("fetch identifiers: %w", err))
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return snapshotError(ctx, tx, fmt.Errorf("fetch identifiers: %w", err))
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

// snapshotError marks errors after which the scan transaction is unusable.
func snapshotError(ctx context.Context, tx pgx.Tx, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if tx.Conn().IsClosed() {
		return fmt.Errorf("%w: %w", loading.ErrSnapshotLost, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "25P02" || pgErr.Code == "40001") {
		return fmt.Errorf("%w: %w", loading.ErrSnapshotLost, err)
	}
	return err
}

// loadBatch loads the records of ids with one ANY query.
func (s *Source) loadBatch(ctx context.Context, ids []any) ([]any, error) {
	keys := make([]int64, 0, len(ids))
	for _, raw := range ids {
		id, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected identifier type %T", raw)
		}
		keys = append(keys, id)
	}

	rows, err := s.pool.Query(ctx, s.loadQuery(), keys)
	if err != nil {
		var connErr *pgconn.ConnectError
		if errors.As(err, &connErr) {
			return nil, loading.Fatal(fmt.Errorf("load records: %w", err))
		}
		return nil, fmt.Errorf("load records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Record, error) {
		r := &Record{}
		err := row.Scan(&r.ID, &r.Type, &r.Title, &r.Body)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	byID := make(map[int64]*Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	out := make([]any, len(keys))
	for i, id := range keys {
		if r, ok := byID[id]; ok {
			out[i] = r
		}
	}
	return out, nil
}
