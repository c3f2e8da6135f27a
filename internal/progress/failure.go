package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dshills/massindex/pkg/types"
)

// Operation names the step a failure happened in.
type Operation string

const (
	OpScan      Operation = "scan"
	OpLoad      Operation = "load"
	OpIdentify  Operation = "identify"
	OpIndex     Operation = "index"
	OpPrepare   Operation = "prepare"
	OpFinalize  Operation = "finalize"
	OpAbandoned Operation = "abandoned"
)

// Failure is one recorded failure. Entity is nil for failures that are not
// tied to a single record.
type Failure struct {
	Entity    *types.EntityReference `json:"entity,omitempty"`
	Group     string                 `json:"group,omitempty"`
	Operation Operation              `json:"operation"`
	Message   string                 `json:"message"`
	Err       error                  `json:"-"`
	At        time.Time              `json:"at"`
}

func (f Failure) String() string {
	if f.Entity != nil {
		return fmt.Sprintf("%s %s: %s", f.Operation, f.Entity, f.Message)
	}
	return fmt.Sprintf("%s %s: %s", f.Operation, f.Group, f.Message)
}

// Summary describes every failure of a run.
type Summary struct {
	Total    int64     `json:"total"`
	First    *Failure  `json:"first,omitempty"`
	Retained []Failure `json:"retained,omitempty"`
}

// Empty reports whether the run had no failure.
func (s Summary) Empty() bool { return s.Total == 0 }

func (s Summary) String() string {
	if s.First == nil {
		return "no failure"
	}
	return fmt.Sprintf("%d failure(s) during mass indexing; first: %s", s.Total, s.First)
}

// FailureRecord keeps the first failures verbatim and counts all of them.
type FailureRecord struct {
	mu       sync.Mutex
	limit    int
	total    int64
	retained []Failure
}

// NewFailureRecord keeps at most limit failures; limits below one keep one.
func NewFailureRecord(limit int) *FailureRecord {
	if limit < 1 {
		limit = 1
	}
	return &FailureRecord{limit: limit}
}

// Add records f and returns the new total.
func (r *FailureRecord) Add(f Failure) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if len(r.retained) < r.limit {
		r.retained = append(r.retained, f)
	}
	return r.total
}

// Summary returns the current summary.
func (r *FailureRecord) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{Total: r.total}
	if len(r.retained) > 0 {
		s.Retained = make([]Failure, len(r.retained))
		copy(s.Retained, r.retained)
		first := s.Retained[0]
		s.First = &first
	}
	return s
}
