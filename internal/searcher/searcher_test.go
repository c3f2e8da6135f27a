package searcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/massindex/internal/storage"
)

type mockIndex struct {
	mu    sync.Mutex
	calls int
	hits  []storage.SearchHit
	err   error
	last  storage.SearchFilter
}

func (m *mockIndex) Search(ctx context.Context, query string, filter storage.SearchFilter, limit int) ([]storage.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = filter
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.hits) {
		return m.hits[:limit], nil
	}
	return m.hits, nil
}

func (m *mockIndex) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func sampleHits() []storage.SearchHit {
	return []storage.SearchHit{
		{TypeName: "Book", DocID: "1", Title: "Go in Practice", Score: 3.2},
		{TypeName: "Book", DocID: "2", Title: "Concurrency in Go", Score: 2.1},
		{TypeName: "Article", DocID: "7", Title: "Go channels", Score: 1.4},
	}
}

func TestSearch(t *testing.T) {
	idx := &mockIndex{hits: sampleHits()}
	s := New(idx, 10)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "  go  ", Types: []string{"Book"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, []string{"Book"}, idx.last.Types)
}

func TestSearch_Validation(t *testing.T) {
	s := New(&mockIndex{}, 10)

	_, err := s.Search(context.Background(), SearchRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.Search(context.Background(), SearchRequest{Query: "go", Limit: MaxLimit + 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSearch_IndexErrors(t *testing.T) {
	idx := &mockIndex{err: storage.ErrEmptyQuery}
	s := New(idx, 10)
	_, err := s.Search(context.Background(), SearchRequest{Query: "***"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	idx.err = errors.New("disk I/O error")
	_, err = s.Search(context.Background(), SearchRequest{Query: "go"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestSearch_EmptyResultIsNotNil(t *testing.T) {
	s := New(&mockIndex{}, 10)
	resp, err := s.Search(context.Background(), SearchRequest{Query: "nothing"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Hits)
	assert.Equal(t, 0, resp.Total)
}

func TestSearch_Cache(t *testing.T) {
	idx := &mockIndex{hits: sampleHits()}
	s := New(idx, 10)
	ctx := context.Background()

	req := SearchRequest{Query: "Go", Types: []string{"Book", "Article"}, UseCache: true}
	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	// Same query with different case and filter order hits the cache.
	second, err := s.Search(ctx, SearchRequest{Query: "go", Types: []string{"Article", "Book"}, UseCache: true})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Hits, second.Hits)
	assert.Equal(t, 1, idx.callCount())

	// Mutating a returned response does not reach the cache.
	second.Hits[0].Title = "changed"
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Go in Practice", third.Hits[0].Title)

	s.Invalidate()
	assert.Equal(t, 0, s.CacheLen())
	_, err = s.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.callCount())
}

func TestSearch_CacheExpiry(t *testing.T) {
	idx := &mockIndex{hits: sampleHits()}
	s := New(idx, 10)
	ctx := context.Background()

	req := SearchRequest{Query: "go", UseCache: true, CacheTTL: time.Millisecond}
	_, err := s.Search(ctx, req)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	resp, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 2, idx.callCount())
}

func TestSearch_WithoutCache(t *testing.T) {
	idx := &mockIndex{hits: sampleHits()}
	s := New(idx, 10)
	for i := 0; i < 3; i++ {
		_, err := s.Search(context.Background(), SearchRequest{Query: "go"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, idx.callCount())
	assert.Equal(t, 0, s.CacheLen())
}

func TestSearch_SQLiteIndex(t *testing.T) {
	idx, err := storage.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	records := []*storage.Record{
		{ID: 1, Type: "Book", Title: "The Go Programming Language", Body: "goroutines and channels"},
		{ID: 2, Type: "Book", Title: "Database Internals", Body: "storage engines"},
	}
	for _, r := range records {
		require.NoError(t, <-idx.Add(ctx, r.Type, r.DocumentID(), r))
	}
	require.NoError(t, idx.CommitAndMakeVisible(ctx))

	s := New(idx, 10)
	resp, err := s.Search(ctx, SearchRequest{Query: "channels"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "1", resp.Hits[0].DocID)
}
