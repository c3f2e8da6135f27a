package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/massindex/internal/storage"
)

const (
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// ErrInvalidRequest is returned for requests that cannot be searched.
var ErrInvalidRequest = errors.New("invalid search request")

// Index is the committed full-text index being searched.
type Index interface {
	Search(ctx context.Context, query string, filter storage.SearchFilter, limit int) ([]storage.SearchHit, error)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Types    []string // Restrict hits to these indexed types
	Limit    int
	UseCache bool
	CacheTTL time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Hits     []storage.SearchHit `json:"hits"`
	Total    int                 `json:"total"`
	Duration time.Duration       `json:"duration"`
	CacheHit bool                `json:"cache_hit"`
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher runs keyword queries against the index and caches responses
// until the next invalidation.
type Searcher struct {
	index   Index
	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// New creates a searcher caching up to cacheSize responses.
func New(index Index, cacheSize int) *Searcher {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		// Only returned for a non-positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{index: index, cache: cache}
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	hits, err := s.index.Search(ctx, req.Query, storage.SearchFilter{Types: req.Types}, req.Limit)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyQuery) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("search index: %w", err)
	}
	if hits == nil {
		hits = []storage.SearchHit{}
	}

	response := &SearchResponse{
		Hits:     hits,
		Total:    len(hits),
		Duration: time.Since(startTime),
	}
	if req.UseCache {
		s.storeInCache(req, response)
	}
	return response, nil
}

func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidRequest)
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be at most %d, got %d", ErrInvalidRequest, MaxLimit, req.Limit)
	}
	if req.CacheTTL <= 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// checkCache returns a copy of a live cached response, or nil.
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	s.cacheMu.RUnlock()
	if !found {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}
	return copySearchResponse(entry.response)
}

func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Hits = make([]storage.SearchHit, len(src.Hits))
	copy(dst.Hits, src.Hits)
	return &dst
}

// computeQueryHash keys the cache on the normalized query, the type filter
// regardless of order, and the limit.
func computeQueryHash(req SearchRequest) [32]byte {
	filter := make([]string, len(req.Types))
	copy(filter, req.Types)
	sort.Strings(filter)

	var data strings.Builder
	data.WriteString(strings.ToLower(req.Query))
	data.WriteString("\x00")
	data.WriteString(strings.Join(filter, ","))
	data.WriteString("\x00")
	fmt.Fprintf(&data, "%d", req.Limit)
	return sha256.Sum256([]byte(data.String()))
}

// Invalidate drops every cached response. Called after each commit.
func (s *Searcher) Invalidate() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses.
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
