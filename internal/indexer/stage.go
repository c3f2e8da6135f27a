package indexer

import (
	"context"
	"errors"
	"sync"

	"github.com/dshills/massindex/pkg/types"
)

// StageReport is the final state of a producer or worker stage.
type StageReport struct {
	Name    string           `json:"name"`
	State   types.StageState `json:"state"`
	Outcome types.StageState `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// stage tracks CREATED -> RUNNING -> outcome -> STOPPED for one goroutine
// of a group pipeline.
type stage struct {
	name string

	mu      sync.Mutex
	state   types.StageState
	outcome types.StageState
	err     error
}

func newStage(name string) *stage {
	return &stage{name: name, state: types.StageCreated}
}

func (s *stage) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = types.StageRunning
}

// finish records the outcome of the stage. Cancellation is not a failure.
func (s *stage) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.outcome = types.StageCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.outcome = types.StageCancelled
	default:
		s.outcome = types.StageFailed
		s.err = err
	}
	s.state = s.outcome
}

func (s *stage) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == "" {
		s.outcome = types.StageCompleted
	}
	s.state = types.StageStopped
}

func (s *stage) report() StageReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := StageReport{Name: s.name, State: s.state, Outcome: s.outcome}
	if s.err != nil {
		r.Error = s.err.Error()
	}
	return r
}
