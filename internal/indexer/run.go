package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dshills/massindex/internal/progress"
	"github.com/dshills/massindex/pkg/types"
)

// Report describes a finished run.
type Report struct {
	RunID      string            `json:"run_id"`
	State      types.RunState    `json:"state"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Duration   time.Duration     `json:"duration"`
	Groups     []GroupReport     `json:"groups"`
	Progress   progress.Snapshot `json:"progress"`
	Failures   progress.Summary  `json:"failures"`
}

// RunError is returned when a run did not complete: preparation or
// finalization failed, a group failed, the failure threshold was exceeded or
// the run was cancelled.
type RunError struct {
	RunID    string
	State    types.RunState
	Failures progress.Summary
	Cause    error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mass indexing run %s %s", e.RunID, strings.ToLower(string(e.State)))
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if !e.Failures.Empty() {
		fmt.Fprintf(&b, " (%s)", e.Failures)
	}
	return b.String()
}

func (e *RunError) Unwrap() error { return e.Cause }

// Run is a mass indexing run in progress or finished.
type Run struct {
	id        string
	startedAt time.Time
	cancel    context.CancelCauseFunc
	done      chan struct{}
	sink      *progress.Sink

	mu     sync.RWMutex
	state  types.RunState
	report *Report
	err    error
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// StartedAt returns the start time.
func (r *Run) StartedAt() time.Time { return r.startedAt }

// State returns the current lifecycle state.
func (r *Run) State() types.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Run) setState(s types.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// Progress returns the live counters.
func (r *Run) Progress() progress.Snapshot { return r.sink.Snapshot() }

// Failures returns the failures recorded so far.
func (r *Run) Failures() progress.Summary { return r.sink.Summary() }

// Done is closed once the run reached a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel asks the run to stop. It returns immediately; use Done or Wait
// to observe the end of the run.
func (r *Run) Cancel() {
	r.cancel(types.ErrCancelled)
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the report and error of a finished run, or nil values
// while it is still running.
func (r *Run) Result() (*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report, r.err
}

func (r *Run) finish(report *Report, err error) {
	r.mu.Lock()
	r.state = report.State
	r.report = report
	r.err = err
	r.mu.Unlock()
	close(r.done)
}
