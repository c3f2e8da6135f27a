package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/massindex/internal/loading"
)

func TestTableValidate(t *testing.T) {
	require.NoError(t, DefaultTable().Validate())

	bad := DefaultTable()
	bad.Name = "records; DROP TABLE users"
	assert.Error(t, bad.Validate())

	bad = DefaultTable()
	bad.IDColumn = ""
	assert.Error(t, bad.Validate())
}

func TestQueries(t *testing.T) {
	src, err := NewSource(nil, DefaultTable())
	require.NoError(t, err)

	assert.Equal(t, "SELECT count(*) FROM records WHERE type_name = ANY($1)", src.countQuery())
	assert.Equal(t, "SELECT id FROM records WHERE type_name = ANY($1) AND id > $2 ORDER BY id LIMIT $3", src.pageQuery())
	assert.Equal(t, "SELECT id, type_name, title, body FROM records WHERE id = ANY($1)", src.loadQuery())
}

func TestRecordIdentity(t *testing.T) {
	r := &Record{ID: 12, Type: "Book", Title: "t", Body: "b"}
	assert.Equal(t, "Book", r.IndexedTypeName())
	assert.Equal(t, "12", r.DocumentID())
	title, body := r.DocumentFields()
	assert.Equal(t, "t", title)
	assert.Equal(t, "b", body)
}

type collectScan struct {
	total int64
	ids   []any
	load  loading.BatchLoadFunc
}

func (c *collectScan) TotalCount(n int64)  { c.total = n }
func (c *collectScan) BatchSize() int      { return 10 }
func (c *collectScan) FetchSize() int      { return 3 }
func (c *collectScan) ObjectsLimit() int64 { return 0 }

func (c *collectScan) Batching(load loading.BatchLoadFunc) loading.BatchingStep {
	c.load = load
	return c
}

func (c *collectScan) Add(ctx context.Context, id any) error {
	c.ids = append(c.ids, id)
	return nil
}

func (c *collectScan) Load(ctx context.Context, ids []any) error {
	c.ids = append(c.ids, ids...)
	return nil
}

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("MASSINDEX_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MASSINDEX_TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestSource_ScanAndLoad(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	table := DefaultTable()
	table.Name = fmt.Sprintf("massindex_records_%d", time.Now().UnixNano())
	_, err := pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (
		id bigserial PRIMARY KEY,
		type_name text NOT NULL,
		title text NOT NULL DEFAULT '',
		body text NOT NULL DEFAULT ''
	)`, table.Name))
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), "DROP TABLE "+table.Name) })

	for i := 0; i < 8; i++ {
		typ := "Book"
		if i%2 == 1 {
			typ = "Author"
		}
		_, err := pool.Exec(ctx, fmt.Sprintf("INSERT INTO %s (type_name, title, body) VALUES ($1, $2, $3)", table.Name),
			typ, fmt.Sprintf("title %d", i), "body")
		require.NoError(t, err)
	}

	src, err := NewSource(pool, table)
	require.NoError(t, err)

	h := loading.NewHierarchy()
	require.NoError(t, h.Add("Book", ""))
	require.NoError(t, h.Add("Author", ""))

	loader, err := src.Strategy(h).CreateLoader([]loading.IndexedType{loading.NewType("Book", src.Strategy(h))})
	require.NoError(t, err)

	sc := &collectScan{}
	require.NoError(t, loader.Scan(ctx, sc))
	assert.Equal(t, int64(4), sc.total)
	require.Len(t, sc.ids, 4)

	ids := append(sc.ids, int64(999999))
	out, err := sc.load(ctx, ids)
	require.NoError(t, err)
	require.Len(t, out, 5)
	for _, e := range out[:4] {
		r, ok := e.(*Record)
		require.True(t, ok)
		assert.Equal(t, "Book", r.Type)
	}
	assert.Nil(t, out[4])
}
