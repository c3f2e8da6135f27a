// Package progress aggregates the progress counters and failures of a mass
// indexing run and forwards them to user supplied callbacks.
package progress

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/massindex/pkg/types"
)

// SinkOptions configures a Sink.
type SinkOptions struct {
	Monitor        Monitor
	FailureHandler FailureHandler
	Logger         *slog.Logger

	// SampleSize is the number of failures kept verbatim.
	SampleSize int
	// Threshold aborts the run once more failures than this are recorded.
	// Zero never aborts.
	Threshold int64
	// Abort is invoked once when the threshold is exceeded.
	Abort func(cause error)
}

// Sink is the single place every stage reports to. It is safe for
// concurrent use and never lets a callback panic escape.
type Sink struct {
	counters Counters
	record   *FailureRecord
	monitor  Monitor
	handler  FailureHandler
	logger   *slog.Logger
	start    time.Time

	threshold int64
	abort     func(error)
	abortOnce sync.Once
	done      sync.Once
}

// NewSink creates a sink; missing monitor and handler default to logging.
func NewSink(opts SinkOptions) *Sink {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = NewLoggingMonitor(logger, DefaultLogPeriod)
	}
	handler := opts.FailureHandler
	if handler == nil {
		handler = NewLoggingFailureHandler(logger)
	}
	return &Sink{
		record:    NewFailureRecord(opts.SampleSize),
		monitor:   NewFailSafeMonitor(monitor, logger),
		handler:   NewFailSafeFailureHandler(handler, logger),
		logger:    logger,
		start:     time.Now(),
		threshold: opts.Threshold,
		abort:     opts.Abort,
	}
}

// AddTotalCount adds the expected identifier count of one group.
func (s *Sink) AddTotalCount(n int64) {
	if n <= 0 {
		return
	}
	s.counters.total.Add(n)
	s.monitor.AddToTotalCount(n)
}

// EntitiesLoaded counts entities returned by a batch load.
func (s *Sink) EntitiesLoaded(n int64) {
	if n <= 0 {
		return
	}
	s.counters.loaded.Add(n)
	s.monitor.EntitiesLoaded(n)
}

// EntityNotFound counts an identifier whose record vanished since the scan.
func (s *Sink) EntityNotFound(ref types.EntityReference) {
	s.counters.notFound.Add(1)
	s.logger.Debug("entity not found, skipping", slog.String("entity", ref.String()))
}

// DocumentsBuilt counts documents handed to the backend.
func (s *Sink) DocumentsBuilt(n int64) {
	if n <= 0 {
		return
	}
	s.counters.built.Add(n)
	s.monitor.DocumentsBuilt(n)
}

// DocumentsAdded counts documents the backend acknowledged.
func (s *Sink) DocumentsAdded(n int64) {
	if n <= 0 {
		return
	}
	s.counters.indexed.Add(n)
	s.monitor.DocumentsAdded(n)
}

// EntityFailure records a failure of one record.
func (s *Sink) EntityFailure(group string, ref types.EntityReference, op Operation, err error) {
	s.fail(Failure{Entity: &ref, Group: group, Operation: op, Message: err.Error(), Err: err, At: time.Now()})
}

// StageFailure records a failure not tied to a single record.
func (s *Sink) StageFailure(group string, op Operation, err error) {
	s.fail(Failure{Group: group, Operation: op, Message: err.Error(), Err: err, At: time.Now()})
}

// BatchAbandoned records identifiers that were never processed because the
// group stopped first.
func (s *Sink) BatchAbandoned(group string, n int) {
	if n <= 0 {
		return
	}
	s.counters.abandoned.Add(int64(n))
	s.logger.Warn("identifier batch abandoned", slog.String("group", group), slog.Int("identifiers", n))
}

func (s *Sink) fail(f Failure) {
	s.counters.failed.Add(1)
	total := s.record.Add(f)
	s.handler.Handle(f)

	if s.threshold > 0 && total > s.threshold && s.abort != nil {
		s.abortOnce.Do(func() {
			cause := fmt.Errorf("%w: %d failures, threshold %d", types.ErrTooManyFailures, total, s.threshold)
			s.logger.Error("aborting mass indexing", slog.String("reason", cause.Error()))
			s.abort(cause)
		})
	}
}

// Snapshot returns the current counters.
func (s *Sink) Snapshot() Snapshot {
	snap := s.counters.Snapshot()
	snap.Elapsed = time.Since(s.start)
	return snap
}

// Summary returns the failure summary so far.
func (s *Sink) Summary() Summary {
	return s.record.Summary()
}

// Complete hands the summary to the failure handler and notifies the
// monitor. Only the first call has an effect.
func (s *Sink) Complete() Summary {
	summary := s.Summary()
	s.done.Do(func() {
		s.handler.Summarize(summary)
		s.monitor.IndexingCompleted()
	})
	return summary
}

// SummaryError turns a non-empty summary into an error.
func SummaryError(s Summary) error {
	if s.Empty() {
		return nil
	}
	if s.First != nil && s.First.Err != nil {
		return fmt.Errorf("%s: %w", s, s.First.Err)
	}
	return errors.New(s.String())
}
