package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dshills/massindex/internal/loading"
	"github.com/dshills/massindex/internal/progress"
	"github.com/dshills/massindex/internal/queue"
)

// scanStage is the single producer of a group: it drives the group's
// TypeLoader and turns the scanned identifiers into batches.
type scanStage struct {
	group  *loading.TypeGroup
	name   string
	cfg    Config
	queue  *queue.Queue[[]any]
	sink   *progress.Sink
	logger *slog.Logger
	stage  *stage

	load      atomic.Pointer[loading.BatchLoadFunc]
	totalOnce sync.Once

	// Only touched by the scanning goroutine.
	pending  []any
	produced int64
}

func newScanStage(group *loading.TypeGroup, name string, cfg Config, q *queue.Queue[[]any], sink *progress.Sink, logger *slog.Logger) *scanStage {
	return &scanStage{
		group:   group,
		name:    name,
		cfg:     cfg,
		queue:   q,
		sink:    sink,
		logger:  logger,
		stage:   newStage(name + "/scan"),
		pending: make([]any, 0, cfg.BatchSizeToLoadObjects),
	}
}

// run scans the group and always closes the queue before returning.
func (s *scanStage) run(ctx context.Context) (err error) {
	s.stage.start()
	defer func() {
		if err != nil && len(s.pending) > 0 {
			s.sink.BatchAbandoned(s.name, len(s.pending))
			s.pending = s.pending[:0]
		}
		s.queue.Close()
		s.stage.finish(err)
		s.stage.stop()
		if err != nil && ctx.Err() == nil {
			s.sink.StageFailure(s.name, progress.OpScan, err)
		}
	}()

	loader, err := s.group.CreateLoader()
	if err != nil {
		return err
	}

	err = loader.Scan(ctx, s)
	if errors.Is(err, loading.ErrLimitReached) {
		s.logger.Info("objects limit reached", slog.String("group", s.name), slog.Int64("limit", s.cfg.ObjectsLimit))
		err = nil
	}
	if err != nil {
		return fmt.Errorf("scan identifiers: %w", err)
	}
	if err := s.flush(ctx); err != nil {
		return err
	}

	s.logger.Debug("identifier scan finished", slog.String("group", s.name), slog.Int64("identifiers", s.produced))
	return nil
}

// loadFunc returns the batch load function registered by the loader.
func (s *scanStage) loadFunc() loading.BatchLoadFunc {
	if fn := s.load.Load(); fn != nil {
		return *fn
	}
	return nil
}

func (s *scanStage) TotalCount(n int64) {
	s.totalOnce.Do(func() {
		if limit := s.cfg.ObjectsLimit; limit > 0 && n > limit {
			n = limit
		}
		s.sink.AddTotalCount(n)
	})
}

func (s *scanStage) BatchSize() int      { return s.cfg.BatchSizeToLoadObjects }
func (s *scanStage) FetchSize() int      { return s.cfg.IDFetchSize }
func (s *scanStage) ObjectsLimit() int64 { return s.cfg.ObjectsLimit }

func (s *scanStage) Batching(load loading.BatchLoadFunc) loading.BatchingStep {
	s.load.Store(&load)
	return batcher{s: s}
}

func (s *scanStage) add(ctx context.Context, id any) error {
	if limit := s.cfg.ObjectsLimit; limit > 0 && s.produced+int64(len(s.pending)) >= limit {
		return loading.ErrLimitReached
	}
	s.pending = append(s.pending, id)
	if len(s.pending) >= s.cfg.BatchSizeToLoadObjects {
		return s.flush(ctx)
	}
	return nil
}

// flush pushes the pending identifiers, blocking while the queue is full.
func (s *scanStage) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = make([]any, 0, s.cfg.BatchSizeToLoadObjects)
	if err := s.queue.Put(ctx, batch); err != nil {
		s.sink.BatchAbandoned(s.name, len(batch))
		return fmt.Errorf("push identifier batch: %w", err)
	}
	s.produced += int64(len(batch))
	return nil
}

type batcher struct {
	s *scanStage
}

func (b batcher) Add(ctx context.Context, id any) error {
	return b.s.add(ctx, id)
}

func (b batcher) Load(ctx context.Context, ids []any) error {
	for _, id := range ids {
		if err := b.s.add(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
