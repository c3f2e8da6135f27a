package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/massindex/internal/loading"
	"github.com/dshills/massindex/internal/progress"
	"github.com/dshills/massindex/internal/queue"
	"github.com/dshills/massindex/pkg/types"
)

// worker takes identifier batches, loads them and submits the resulting
// documents, waiting for the whole batch before taking the next one.
type worker struct {
	group        *loading.TypeGroup
	name         string
	queue        *queue.Queue[[]any]
	sink         *progress.Sink
	backend      Backend
	introspector loading.Introspector
	logger       *slog.Logger
	stage        *stage
	loadFunc     func() loading.BatchLoadFunc
}

type submitted struct {
	ref  types.EntityReference
	done <-chan error
}

func (w *worker) run(ctx context.Context) (err error) {
	w.stage.start()
	defer func() {
		w.stage.finish(err)
		w.stage.stop()
	}()

	for {
		batch, ok, err := w.queue.Take(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			w.sink.BatchAbandoned(w.name, len(batch))
			return err
		}
		if err := w.process(ctx, batch); err != nil {
			return err
		}
	}
}

// process handles one batch. Only infrastructure failures and cancellation
// are returned; everything else is recorded and the worker carries on.
func (w *worker) process(ctx context.Context, batch []any) error {
	load := w.loadFunc()
	if load == nil {
		err := loading.Fatal(errors.New("no batch load function registered by the loader"))
		w.sink.StageFailure(w.name, progress.OpLoad, err)
		return err
	}

	entities, err := load(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			w.sink.BatchAbandoned(w.name, len(batch))
			return ctx.Err()
		}
		err = fmt.Errorf("load batch of %d identifiers: %w", len(batch), err)
		w.sink.StageFailure(w.name, progress.OpLoad, err)
		if loading.IsFatal(err) {
			return err
		}
		return nil
	}
	if len(entities) != len(batch) {
		w.sink.StageFailure(w.name, progress.OpLoad,
			fmt.Errorf("load batch returned %d entities for %d identifiers", len(entities), len(batch)))
		return nil
	}

	var loaded int64
	futures := make([]submitted, 0, len(batch))
	for i, entity := range entities {
		ref := types.EntityReference{TypeName: w.group.CommonSuperType().Name(), ID: batch[i]}
		switch v := entity.(type) {
		case nil:
			w.sink.EntityNotFound(ref)
			continue
		case error:
			w.sink.EntityFailure(w.name, ref, progress.OpLoad, v)
			continue
		}
		loaded++

		typeName, docID, err := w.introspector.Identify(entity)
		if err != nil {
			w.sink.EntityFailure(w.name, ref, progress.OpIdentify, err)
			continue
		}
		ref.TypeName = typeName
		if !w.group.Includes(typeName) {
			w.sink.EntityFailure(w.name, ref, progress.OpIdentify,
				fmt.Errorf("%w: %q is not loaded by group %s", types.ErrUnknownType, typeName, w.group))
			continue
		}
		futures = append(futures, submitted{ref: ref, done: w.backend.Add(ctx, typeName, docID, entity)})
	}
	w.sink.EntitiesLoaded(loaded)
	w.sink.DocumentsBuilt(int64(len(futures)))

	return w.await(ctx, futures)
}

// await waits for every document of the batch to be acknowledged.
func (w *worker) await(ctx context.Context, futures []submitted) error {
	var added int64
	var fatal error
	defer func() { w.sink.DocumentsAdded(added) }()

	for i, f := range futures {
		select {
		case err := <-f.done:
			switch {
			case err == nil:
				added++
			case ctx.Err() != nil:
				w.sink.BatchAbandoned(w.name, 1)
			default:
				w.sink.EntityFailure(w.name, f.ref, progress.OpIndex, err)
				if fatal == nil && loading.IsFatal(err) {
					fatal = err
				}
			}
		case <-ctx.Done():
			w.sink.BatchAbandoned(w.name, len(futures)-i)
			return ctx.Err()
		}
	}
	if fatal != nil {
		return fmt.Errorf("index backend unavailable: %w", fatal)
	}
	return ctx.Err()
}
