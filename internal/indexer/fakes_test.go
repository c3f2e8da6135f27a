package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/massindex/internal/loading"
	"github.com/dshills/massindex/internal/progress"
)

type memRecord struct {
	typ   string
	id    int
	title string
}

func (r *memRecord) IndexedTypeName() string { return r.typ }
func (r *memRecord) DocumentID() string      { return strconv.Itoa(r.id) }

// memSource is an in-memory system of record.
type memSource struct {
	hierarchy *loading.Hierarchy

	mu      sync.Mutex
	records map[int]*memRecord

	// hooks
	hold     func(ctx context.Context) error
	loadErr  func(ids []any) error
	itemErr  func(id int) error
	missing  func(id int) bool
	scanErr  func(names []string) error
	scanHold time.Duration

	scans     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func newMemSource() *memSource {
	h := loading.NewHierarchy()
	_ = h.Add("Document", "")
	_ = h.Add("Book", "Document")
	_ = h.Add("Novel", "Book")
	_ = h.Add("Author", "")
	return &memSource{hierarchy: h, records: make(map[int]*memRecord)}
}

func (s *memSource) add(typ string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		id := len(s.records) + 1
		s.records[id] = &memRecord{typ: typ, id: id, title: fmt.Sprintf("%s %d", typ, id)}
	}
}

func (s *memSource) idsOf(names []string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var ids []int
	for id, r := range s.records {
		if want[r.typ] {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (s *memSource) load(ctx context.Context, ids []any) ([]any, error) {
	if s.loadErr != nil {
		if err := s.loadErr(ids); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(ids))
	for i, raw := range ids {
		id := raw.(int)
		switch {
		case s.missing != nil && s.missing(id):
			out[i] = nil
		case s.itemErr != nil && s.itemErr(id) != nil:
			out[i] = s.itemErr(id)
		default:
			if r, ok := s.records[id]; ok {
				out[i] = r
			}
		}
	}
	return out, nil
}

func (s *memSource) types(names ...string) []loading.IndexedType {
	strategy := memStrategy{src: s}
	out := make([]loading.IndexedType, len(names))
	for i, n := range names {
		out[i] = loading.NewType(n, strategy)
	}
	return out
}

type memStrategy struct {
	src *memSource
}

func (s memStrategy) JoinMode(current, other *loading.TypeGroup) loading.JoinMode {
	return loading.HierarchyJoinMode(s.src.hierarchy, current, other)
}

func (s memStrategy) CreateLoader(types []loading.IndexedType) (loading.TypeLoader, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name()
	}
	return &memLoader{src: s.src, names: names}, nil
}

type memLoader struct {
	src   *memSource
	names []string
}

func (l *memLoader) Scan(ctx context.Context, sc loading.ScanContext) error {
	s := l.src
	s.scans.Add(1)
	cur := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		prev := s.maxActive.Load()
		if cur <= prev || s.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}

	if s.hold != nil {
		if err := s.hold(ctx); err != nil {
			return err
		}
	}

	ids := s.idsOf(l.names)
	sc.TotalCount(int64(len(ids)))
	step := sc.Batching(s.load)
	for _, id := range ids {
		if err := step.Add(ctx, id); err != nil {
			return err
		}
	}
	if s.scanErr != nil {
		if err := s.scanErr(l.names); err != nil {
			return err
		}
	}
	if s.scanHold > 0 {
		select {
		case <-time.After(s.scanHold):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// memBackend is an in-memory index.
type memBackend struct {
	mu      sync.Mutex
	docs    map[string]string
	visible map[string]string

	commits atomic.Int32
	purges  atomic.Int32
	merges  atomic.Int32
	drops   atomic.Int32

	reject      func(typeName, docID string) error
	afterCommit func()
	purgeErr    error
	addDelay time.Duration
}

func newMemBackend() *memBackend {
	return &memBackend{docs: make(map[string]string), visible: make(map[string]string)}
}

func (b *memBackend) Add(ctx context.Context, typeName, docID string, entity any) <-chan error {
	done := make(chan error, 1)
	go func() {
		if b.addDelay > 0 {
			select {
			case <-time.After(b.addDelay):
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}
		if b.reject != nil {
			if err := b.reject(typeName, docID); err != nil {
				done <- err
				return
			}
		}
		r, ok := entity.(*memRecord)
		if !ok {
			done <- errors.New("unsupported entity")
			return
		}
		b.mu.Lock()
		b.docs[typeName+"/"+docID] = r.title
		b.mu.Unlock()
		done <- nil
	}()
	return done
}

func (b *memBackend) CommitAndMakeVisible(ctx context.Context) error {
	b.commits.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visible = make(map[string]string, len(b.docs))
	for k, v := range b.docs {
		b.visible[k] = v
	}
	if b.afterCommit != nil {
		b.afterCommit()
	}
	return nil
}

func (b *memBackend) DropAndCreateSchema(ctx context.Context, typeNames []string) error {
	b.drops.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = make(map[string]string)
	return nil
}

func (b *memBackend) Purge(ctx context.Context, typeNames []string) error {
	b.purges.Add(1)
	if b.purgeErr != nil {
		return b.purgeErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range typeNames {
		for k := range b.docs {
			if len(k) > len(t) && k[:len(t)+1] == t+"/" {
				delete(b.docs, k)
			}
		}
	}
	return nil
}

func (b *memBackend) MergeSegments(ctx context.Context) error {
	b.merges.Add(1)
	return nil
}

func (b *memBackend) visibleCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.visible)
}

type panickyMonitor struct{}

func (panickyMonitor) AddToTotalCount(int64) { panic("total") }
func (panickyMonitor) EntitiesLoaded(int64)  { panic("loaded") }
func (panickyMonitor) DocumentsBuilt(int64)  { panic("built") }
func (panickyMonitor) DocumentsAdded(int64)  { panic("added") }
func (panickyMonitor) IndexingCompleted()    { panic("completed") }

type recordingHandler struct {
	mu   sync.Mutex
	seen []progress.Failure
	sums []progress.Summary
}

func (h *recordingHandler) Handle(f progress.Failure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, f)
}

func (h *recordingHandler) Summarize(s progress.Summary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sums = append(h.sums, s)
}

func (h *recordingHandler) failures() []progress.Failure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]progress.Failure(nil), h.seen...)
}

func (h *recordingHandler) summaries() []progress.Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]progress.Summary(nil), h.sums...)
}
