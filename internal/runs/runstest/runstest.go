// Package runstest builds run manager environments over temporary SQLite
// databases for tests of the packages serving runs.
package runstest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dshills/massindex/internal/config"
	"github.com/dshills/massindex/internal/indexer"
	"github.com/dshills/massindex/internal/runs"
	"github.com/dshills/massindex/internal/storage"
)

// TypeNames are the types declared by New.
var TypeNames = []string{"Publication", "Book", "Article", "Author"}

// Env is a populated source and an empty index.
type Env struct {
	Config  *config.Config
	Source  *storage.SQLiteSource
	Index   *storage.SQLiteIndex
	Backend *GatedBackend
	Logger  *slog.Logger
}

// New creates n records spread over TypeNames. Everything is closed when
// the test ends.
func New(t testing.TB, n int) *Env {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Source.Path = filepath.Join(dir, "source.db")
	cfg.Index.Path = filepath.Join(dir, "index.db")
	cfg.Indexer.Threads = 2
	cfg.Indexer.BatchSize = 4
	cfg.Types = []config.TypeConfig{
		{Name: "Publication"},
		{Name: "Book", Super: "Publication"},
		{Name: "Article", Super: "Publication"},
		{Name: "Author"},
	}

	src, err := storage.NewSQLiteSource(cfg.Source.Path)
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })

	idx, err := storage.NewSQLiteIndex(cfg.Index.Path)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	records := make([]*storage.Record, n)
	for i := range records {
		typ := TypeNames[i%len(TypeNames)]
		records[i] = &storage.Record{
			Type:  typ,
			Title: fmt.Sprintf("%s number %d", typ, i),
			Body:  fmt.Sprintf("body of record %d about gophers", i),
		}
	}
	if err := src.PutRecords(context.Background(), records); err != nil {
		t.Fatalf("put records: %v", err)
	}

	return &Env{
		Config:  cfg,
		Source:  src,
		Index:   idx,
		Backend: &GatedBackend{Backend: idx},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Environment returns a run manager environment over e.
func (e *Env) Environment(t testing.TB, inv runs.Invalidator) runs.Environment {
	t.Helper()
	h, err := e.Config.Hierarchy()
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}
	return runs.Environment{
		Config:      e.Config,
		Strategy:    e.Source.Strategy(h),
		Backend:     e.Backend,
		Invalidator: inv,
		Logger:      e.Logger,
	}
}

// GatedBackend holds every Add between Hold and Release, so tests can
// observe a run while it is indexing.
type GatedBackend struct {
	indexer.Backend

	mu   sync.Mutex
	gate chan struct{}
}

func (b *GatedBackend) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate == nil {
		b.gate = make(chan struct{})
	}
}

func (b *GatedBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
}

func (b *GatedBackend) Add(ctx context.Context, typeName, docID string, entity any) <-chan error {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate == nil {
		return b.Backend.Add(ctx, typeName, docID, entity)
	}

	out := make(chan error, 1)
	go func() {
		select {
		case <-gate:
			out <- <-b.Backend.Add(ctx, typeName, docID, entity)
		case <-ctx.Done():
			out <- ctx.Err()
		}
	}()
	return out
}
