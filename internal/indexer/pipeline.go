package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/massindex/internal/loading"
	"github.com/dshills/massindex/internal/progress"
	"github.com/dshills/massindex/internal/queue"
	"github.com/dshills/massindex/pkg/types"
)

// GroupReport is the outcome of one type group pipeline.
type GroupReport struct {
	Name            string           `json:"name"`
	CommonSuperType string           `json:"common_super_type"`
	Types           []string         `json:"types"`
	State           types.StageState `json:"state"`
	Error           string           `json:"error,omitempty"`
	Duration        time.Duration    `json:"duration"`
	Producer        StageReport      `json:"producer"`
	Workers         []StageReport    `json:"workers"`

	err error
}

// Err returns the failure cause of the group, nil unless State is FAILED.
func (r GroupReport) Err() error { return r.err }

// pipeline runs one scan stage and its workers over a private queue.
type pipeline struct {
	group        *loading.TypeGroup
	name         string
	cfg          Config
	backend      Backend
	sink         *progress.Sink
	introspector loading.Introspector
	logger       *slog.Logger

	producer *scanStage
	workers  []*worker
	queue    *queue.Queue[[]any]
}

func newPipeline(group *loading.TypeGroup, cfg Config, backend Backend, sink *progress.Sink, introspector loading.Introspector, logger *slog.Logger) *pipeline {
	name := group.CommonSuperType().Name()
	q := queue.New[[]any](cfg.QueueCapacity)
	p := &pipeline{
		group:        group,
		name:         name,
		cfg:          cfg,
		backend:      backend,
		sink:         sink,
		introspector: introspector,
		logger:       logger,
		queue:        q,
	}
	p.producer = newScanStage(group, name, cfg, q, sink, logger)
	for i := 0; i < cfg.ThreadsToLoadObjects; i++ {
		p.workers = append(p.workers, &worker{
			group:        group,
			name:         name,
			queue:        q,
			sink:         sink,
			backend:      backend,
			introspector: introspector,
			logger:       logger,
			stage:        newStage(fmt.Sprintf("%s/worker-%d", name, i)),
			loadFunc:     p.producer.loadFunc,
		})
	}
	return p
}

// run executes the group to completion. Any stage failure stops the whole
// group; batches left in the queue are reported as abandoned.
func (p *pipeline) run(ctx context.Context) GroupReport {
	start := time.Now()
	p.logger.Info("type group indexing started",
		slog.String("group", p.name),
		slog.Any("types", p.group.TypeNames()),
		slog.Int("workers", len(p.workers)))

	gctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var eg errgroup.Group
	eg.Go(func() error {
		err := p.producer.run(gctx)
		if err != nil {
			cancel(err)
		}
		return err
	})
	for _, w := range p.workers {
		eg.Go(func() error {
			err := w.run(gctx)
			if err != nil {
				cancel(err)
			}
			return err
		})
	}
	_ = eg.Wait()

	abandoned := 0
	for _, batch := range p.queue.Drain() {
		abandoned += len(batch)
	}
	p.sink.BatchAbandoned(p.name, abandoned)

	report := p.report(time.Since(start))
	switch cause := context.Cause(gctx); {
	case ctx.Err() != nil:
		report.State = types.StageCancelled
		report.err = context.Cause(ctx)
	case cause != nil:
		report.State = types.StageFailed
		report.err = cause
	default:
		report.State = types.StageCompleted
	}
	if report.err != nil {
		report.Error = report.err.Error()
	}

	p.logger.Info("type group indexing finished",
		slog.String("group", p.name),
		slog.String("state", string(report.State)),
		slog.Duration("duration", report.Duration))
	return report
}

// skipped reports a group that never started because the run ended first.
func (p *pipeline) skipped(err error) GroupReport {
	report := p.report(0)
	report.State = types.StageCancelled
	report.err = err
	report.Error = err.Error()
	return report
}

func (p *pipeline) report(d time.Duration) GroupReport {
	r := GroupReport{
		Name:            p.name,
		CommonSuperType: p.group.CommonSuperType().Name(),
		Types:           p.group.TypeNames(),
		Duration:        d,
		Producer:        p.producer.stage.report(),
	}
	for _, w := range p.workers {
		r.Workers = append(r.Workers, w.stage.report())
	}
	return r
}
