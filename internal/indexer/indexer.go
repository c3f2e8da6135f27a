package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/massindex/internal/loading"
	"github.com/dshills/massindex/internal/progress"
	"github.com/dshills/massindex/pkg/types"
)

// MassIndexer coordinates the reindexing of a set of types: it prepares the
// index, runs one pipeline per type group with bounded parallelism and
// commits once every group has drained.
type MassIndexer struct {
	cfg       Config
	groups    []*loading.TypeGroup
	typeNames []string
	backend   Backend

	monitor      progress.Monitor
	handler      progress.FailureHandler
	introspector loading.Introspector
	logger       *slog.Logger
}

// Option customizes a MassIndexer.
type Option func(*MassIndexer)

// WithMonitor sets the progress monitor; the default logs progress.
func WithMonitor(m progress.Monitor) Option {
	return func(mi *MassIndexer) { mi.monitor = m }
}

// WithFailureHandler sets the failure handler; the default logs failures.
func WithFailureHandler(h progress.FailureHandler) Option {
	return func(mi *MassIndexer) { mi.handler = h }
}

// WithIntrospector sets how loaded entities are identified.
func WithIntrospector(i loading.Introspector) Option {
	return func(mi *MassIndexer) { mi.introspector = i }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(mi *MassIndexer) { mi.logger = l }
}

// New validates cfg and plans the type groups of indexed.
func New(cfg Config, indexed []loading.IndexedType, backend Backend, opts ...Option) (*MassIndexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(indexed) == 0 {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, types.ErrNoTypes)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: an index backend is required", types.ErrInvalidConfig)
	}
	for _, t := range indexed {
		if t == nil || t.Name() == "" || t.LoadingStrategy() == nil {
			return nil, fmt.Errorf("%w: every indexed type needs a name and a loading strategy", types.ErrInvalidConfig)
		}
	}

	mi := &MassIndexer{
		cfg:          cfg,
		groups:       loading.Disjoint(indexed),
		backend:      backend,
		introspector: loading.DefaultIntrospector,
		logger:       slog.Default(),
	}
	for _, g := range mi.groups {
		mi.typeNames = append(mi.typeNames, g.TypeNames()...)
	}
	for _, opt := range opts {
		opt(mi)
	}
	return mi, nil
}

// Config returns the settings the indexer was built with.
func (m *MassIndexer) Config() Config { return m.cfg }

// Groups returns the planned type groups.
func (m *MassIndexer) Groups() []*loading.TypeGroup {
	out := make([]*loading.TypeGroup, len(m.groups))
	copy(out, m.groups)
	return out
}

// Start launches a run and returns at once. Cancelling ctx cancels the run.
// Every call starts an independent run.
func (m *MassIndexer) Start(ctx context.Context) *Run {
	return m.StartRun(ctx, uuid.NewString())
}

// StartRun is Start with a caller-chosen run id, for callers that register
// the run before it starts.
func (m *MassIndexer) StartRun(ctx context.Context, runID string) *Run {
	runCtx, cancel := context.WithCancelCause(ctx)
	run := &Run{
		id:        runID,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     types.RunInit,
	}
	run.sink = progress.NewSink(progress.SinkOptions{
		Monitor:        m.monitor,
		FailureHandler: m.handler,
		Logger:         m.logger,
		SampleSize:     m.cfg.FailureSampleSize,
		Threshold:      m.cfg.FailureThreshold,
		Abort:          cancel,
	})

	go func() {
		defer cancel(nil)
		m.execute(runCtx, run)
	}()
	return run
}

// StartAndWait runs to completion. The report is returned even when the
// run fails; the error is a *RunError in that case.
func (m *MassIndexer) StartAndWait(ctx context.Context) (*Report, error) {
	run := m.Start(ctx)
	<-run.Done()
	return run.Result()
}

func (m *MassIndexer) execute(ctx context.Context, run *Run) {
	logger := m.logger.With(slog.String("run_id", run.id))
	logger.Info("mass indexing started",
		slog.Int("groups", len(m.groups)),
		slog.Any("types", m.typeNames))

	groups, committed, err := m.runPhases(ctx, run, logger)

	summary := run.sink.Complete()
	report := &Report{
		RunID:      run.id,
		StartedAt:  run.startedAt,
		FinishedAt: time.Now(),
		Groups:     groups,
		Progress:   run.sink.Snapshot(),
		Failures:   summary,
	}
	report.Duration = report.FinishedAt.Sub(report.StartedAt)

	// Once the commit succeeded the writes are visible, so a late
	// cancellation no longer changes the outcome.
	switch {
	case !committed && ctx.Err() != nil:
		cause := context.Cause(ctx)
		if errors.Is(cause, types.ErrTooManyFailures) {
			report.State = types.RunFailed
			err = cause
		} else {
			report.State = types.RunCancelled
			err = fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
		}
	case err != nil:
		report.State = types.RunFailed
	default:
		report.State = types.RunCompleted
	}

	var runErr error
	if err != nil {
		runErr = &RunError{RunID: run.id, State: report.State, Failures: summary, Cause: err}
	}

	logger.Info("mass indexing finished",
		slog.String("state", string(report.State)),
		slog.Int64("indexed", report.Progress.Indexed),
		slog.Int64("failures", summary.Total),
		slog.Duration("duration", report.Duration))
	run.finish(report, runErr)
}

// runPhases prepares the index, indexes every group and finalizes. It
// reports whether the final commit succeeded.
func (m *MassIndexer) runPhases(ctx context.Context, run *Run, logger *slog.Logger) ([]GroupReport, bool, error) {
	run.setState(types.RunPreparing)
	if err := m.prepare(ctx, logger); err != nil {
		if ctx.Err() == nil {
			run.sink.StageFailure("", progress.OpPrepare, err)
		}
		return nil, false, err
	}

	run.setState(types.RunIndexing)
	groups := m.indexGroups(ctx, run.sink)
	if ctx.Err() != nil {
		return groups, false, ctx.Err()
	}

	var errs []error
	for _, g := range groups {
		if g.State == types.StageFailed {
			errs = append(errs, fmt.Errorf("%w: %s: %w", types.ErrGroupFailed, g.Name, g.err))
		}
	}

	run.setState(types.RunFinalizing)
	committed, err := m.finalize(ctx, logger)
	if err != nil {
		if ctx.Err() == nil {
			run.sink.StageFailure("", progress.OpFinalize, err)
		}
		errs = append(errs, err)
	}
	return groups, committed, errors.Join(errs...)
}

func (m *MassIndexer) prepare(ctx context.Context, logger *slog.Logger) error {
	if m.cfg.DropAndCreateSchemaOnStart {
		logger.Info("dropping and creating index schema")
		if err := m.backend.DropAndCreateSchema(ctx, m.typeNames); err != nil {
			return fmt.Errorf("drop and create schema: %w", err)
		}
	}
	if m.cfg.PurgeAllOnStart {
		logger.Info("purging index", slog.Any("types", m.typeNames))
		if err := m.backend.Purge(ctx, m.typeNames); err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		if m.cfg.MergeSegmentsAfterPurge {
			if err := m.backend.MergeSegments(ctx); err != nil {
				return fmt.Errorf("merge segments after purge: %w", err)
			}
		}
	}
	return nil
}

func (m *MassIndexer) finalize(ctx context.Context, logger *slog.Logger) (bool, error) {
	if err := m.backend.CommitAndMakeVisible(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	if m.cfg.MergeSegmentsOnFinish {
		logger.Info("merging index segments")
		if err := m.backend.MergeSegments(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Warn("merge on finish interrupted after commit", slog.String("error", err.Error()))
				return true, nil
			}
			return true, fmt.Errorf("merge segments on finish: %w", err)
		}
	}
	return true, nil
}

// indexGroups runs every group pipeline, at most TypesToIndexInParallel at
// a time, and waits for all of them. A failed group does not stop the
// others.
func (m *MassIndexer) indexGroups(ctx context.Context, sink *progress.Sink) []GroupReport {
	parallel := min(m.cfg.TypesToIndexInParallel, len(m.groups))
	sem := semaphore.NewWeighted(int64(parallel))
	reports := make([]GroupReport, len(m.groups))

	var eg errgroup.Group
	for i, group := range m.groups {
		p := newPipeline(group, m.cfg, m.backend, sink, m.introspector, m.logger)
		eg.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				reports[i] = p.skipped(err)
				return nil
			}
			defer sem.Release(1)
			reports[i] = p.run(ctx)
			return nil
		})
	}
	_ = eg.Wait()
	return reports
}
