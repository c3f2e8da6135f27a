package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Document is an entity as stored in the index.
type Document struct {
	ID          int64
	TypeName    string
	DocID       string
	Title       string
	Body        string
	ContentHash uint64
	IndexedAt   time.Time
}

// SearchHit is one keyword search result.
type SearchHit struct {
	TypeName string  `json:"type"`
	DocID    string  `json:"id"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

// SearchFilter narrows a search.
type SearchFilter struct {
	Types []string
}

// IndexStatus summarizes the committed index.
type IndexStatus struct {
	Documents     int64            `json:"documents"`
	ByType        map[string]int64 `json:"by_type"`
	Commits       int64            `json:"commits"`
	LastCommitAt  *time.Time       `json:"last_commit_at,omitempty"`
	SchemaVersion string           `json:"schema_version"`
	BuildMode     string           `json:"build_mode"`
}

// Documentable is implemented by entities that know how they are indexed.
// Other entities are indexed as their JSON encoding.
type Documentable interface {
	DocumentFields() (title, body string)
}

// Record is a row of the SQLite system of record.
type Record struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (r *Record) IndexedTypeName() string { return r.Type }
func (r *Record) DocumentID() string      { return strconv.FormatInt(r.ID, 10) }

// DocumentFields indexes the title, and the body followed by the attributes
// in key order.
func (r *Record) DocumentFields() (string, string) {
	if len(r.Attrs) == 0 {
		return r.Title, r.Body
	}
	keys := make([]string, 0, len(r.Attrs))
	for k := range r.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.Body)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, r.Attrs[k])
	}
	return r.Title, b.String()
}

func documentFields(entity any) (title, body string, err error) {
	if d, ok := entity.(Documentable); ok {
		title, body = d.DocumentFields()
		return title, body, nil
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return "", "", fmt.Errorf("encode %T: %w", entity, err)
	}
	return "", string(data), nil
}
