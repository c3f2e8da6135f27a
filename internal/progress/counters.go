package progress

import (
	"sync/atomic"
	"time"
)

// Counters are the run-level progress counters, safe for concurrent use.
type Counters struct {
	total     atomic.Int64
	loaded    atomic.Int64
	built     atomic.Int64
	indexed   atomic.Int64
	failed    atomic.Int64
	notFound  atomic.Int64
	abandoned atomic.Int64
}

// Snapshot is a point in time copy of the counters.
type Snapshot struct {
	Total     int64         `json:"total"`
	Loaded    int64         `json:"loaded"`
	Built     int64         `json:"built"`
	Indexed   int64         `json:"indexed"`
	Failed    int64         `json:"failed"`
	NotFound  int64         `json:"not_found"`
	Abandoned int64         `json:"abandoned"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Snapshot reads every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Total:     c.total.Load(),
		Loaded:    c.loaded.Load(),
		Built:     c.built.Load(),
		Indexed:   c.indexed.Load(),
		Failed:    c.failed.Load(),
		NotFound:  c.notFound.Load(),
		Abandoned: c.abandoned.Load(),
	}
}

// Percent returns the share of the expected total already indexed, or -1
// when the total is unknown.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return -1
	}
	return float64(s.Indexed) * 100 / float64(s.Total)
}

// Rate returns the indexed documents per second over the elapsed time.
func (s Snapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Indexed) / s.Elapsed.Seconds()
}
