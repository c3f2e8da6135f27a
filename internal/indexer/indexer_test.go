package indexer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/massindex/internal/loading"
	"github.com/dshills/massindex/internal/progress"
	"github.com/dshills/massindex/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ThreadsToLoadObjects = 3
	cfg.BatchSizeToLoadObjects = 7
	cfg.QueueCapacity = 2
	return cfg
}

func newTestIndexer(t *testing.T, cfg Config, src *memSource, backend Backend, names ...string) *MassIndexer {
	t.Helper()
	mi, err := New(cfg, src.types(names...), backend, WithLogger(testLogger()))
	require.NoError(t, err)
	return mi
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	src := newMemSource()
	backend := newMemBackend()

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero parallel types", func(c *Config) { c.TypesToIndexInParallel = 0 }},
		{"zero threads", func(c *Config) { c.ThreadsToLoadObjects = 0 }},
		{"zero batch size", func(c *Config) { c.BatchSizeToLoadObjects = 0 }},
		{"negative objects limit", func(c *Config) { c.ObjectsLimit = -1 }},
		{"zero queue capacity", func(c *Config) { c.QueueCapacity = 0 }},
		{"negative failure threshold", func(c *Config) { c.FailureThreshold = -1 }},
		{"zero failure sample", func(c *Config) { c.FailureSampleSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			_, err := New(cfg, src.types("Book"), backend)
			assert.ErrorIs(t, err, types.ErrInvalidConfig)
		})
	}

	_, err := New(DefaultConfig(), nil, backend)
	assert.ErrorIs(t, err, types.ErrNoTypes)
	assert.ErrorIs(t, err, types.ErrInvalidConfig)

	_, err = New(DefaultConfig(), src.types("Book"), nil)
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.TypesToIndexInParallel)
	assert.Equal(t, 6, cfg.ThreadsToLoadObjects)
	assert.Equal(t, 10, cfg.BatchSizeToLoadObjects)
	assert.Equal(t, 100, cfg.IDFetchSize)
	assert.True(t, cfg.PurgeAllOnStart)
	assert.True(t, cfg.MergeSegmentsAfterPurge)
	assert.False(t, cfg.MergeSegmentsOnFinish)
	assert.False(t, cfg.DropAndCreateSchemaOnStart)
}

func TestMassIndexer_IndexesEveryRecord(t *testing.T) {
	src := newMemSource()
	src.add("Document", 20)
	src.add("Book", 30)
	src.add("Novel", 45)
	src.add("Author", 12)
	backend := newMemBackend()

	cfg := testConfig()
	cfg.TypesToIndexInParallel = 2
	cfg.MergeSegmentsOnFinish = true
	mi := newTestIndexer(t, cfg, src, backend, "Novel", "Author", "Book", "Document")

	require.Len(t, mi.Groups(), 2)

	report, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, types.RunCompleted, report.State)
	assert.Equal(t, int64(107), report.Progress.Total)
	assert.Equal(t, int64(107), report.Progress.Loaded)
	assert.Equal(t, int64(107), report.Progress.Built)
	assert.Equal(t, int64(107), report.Progress.Indexed)
	assert.Zero(t, report.Progress.Failed)
	assert.True(t, report.Failures.Empty())
	assert.Equal(t, 107, backend.visibleCount())

	assert.Equal(t, int32(1), backend.commits.Load())
	assert.Equal(t, int32(1), backend.purges.Load())
	assert.Equal(t, int32(2), backend.merges.Load())
	assert.Zero(t, backend.drops.Load())

	for _, g := range report.Groups {
		assert.Equal(t, types.StageCompleted, g.State, g.Name)
		assert.Equal(t, types.StageStopped, g.Producer.State)
		assert.Equal(t, types.StageCompleted, g.Producer.Outcome)
		require.Len(t, g.Workers, 3)
		for _, w := range g.Workers {
			assert.Equal(t, types.StageStopped, w.State)
			assert.Equal(t, types.StageCompleted, w.Outcome)
		}
	}
}

func TestMassIndexer_ZeroIdentifiers(t *testing.T) {
	src := newMemSource()
	backend := newMemBackend()
	mi := newTestIndexer(t, testConfig(), src, backend, "Book")

	report, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, report.State)
	assert.Zero(t, report.Progress.Indexed)
	assert.Zero(t, report.Progress.Total)
	require.Len(t, report.Groups, 1)
	assert.Equal(t, types.StageCompleted, report.Groups[0].State)
	assert.Equal(t, int32(1), backend.commits.Load())
}

func TestMassIndexer_FailureIsolation(t *testing.T) {
	src := newMemSource()
	src.add("Book", 10)
	backend := newMemBackend()
	backend.reject = func(typeName, docID string) error {
		if docID == "4" {
			return errors.New("document rejected")
		}
		return nil
	}

	var handler recordingHandler
	mi, err := New(testConfig(), src.types("Book"), backend, WithLogger(testLogger()), WithFailureHandler(&handler))
	require.NoError(t, err)

	report, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, report.State)
	assert.Equal(t, int64(9), report.Progress.Indexed)
	assert.Equal(t, int64(1), report.Failures.Total)
	require.NotNil(t, report.Failures.First)
	assert.Equal(t, progress.OpIndex, report.Failures.First.Operation)
	assert.Equal(t, "Book", report.Failures.First.Entity.TypeName)
	assert.Equal(t, 4, report.Failures.First.Entity.ID)
	assert.Equal(t, 9, backend.visibleCount())

	require.Len(t, handler.summaries(), 1)
	assert.Equal(t, int64(1), handler.summaries()[0].Total)
}

func TestMassIndexer_NotFoundAndItemFailures(t *testing.T) {
	src := newMemSource()
	src.add("Book", 20)
	src.missing = func(id int) bool { return id == 3 || id == 17 }
	src.itemErr = func(id int) error {
		if id == 8 {
			return errors.New("corrupt row")
		}
		return nil
	}
	backend := newMemBackend()
	mi := newTestIndexer(t, testConfig(), src, backend, "Book")

	report, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Progress.NotFound)
	assert.Equal(t, int64(1), report.Progress.Failed)
	assert.Equal(t, int64(17), report.Progress.Loaded)
	assert.Equal(t, int64(17), report.Progress.Indexed)
	assert.Equal(t, progress.OpLoad, report.Failures.First.Operation)
}

func TestMassIndexer_BatchLoadFailureContinues(t *testing.T) {
	src := newMemSource()
	src.add("Book", 21)
	src.loadErr = func(ids []any) error {
		for _, id := range ids {
			if id.(int) == 9 {
				return errors.New("query timeout")
			}
		}
		return nil
	}
	backend := newMemBackend()
	mi := newTestIndexer(t, testConfig(), src, backend, "Book")

	report, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, report.State)
	assert.Equal(t, int64(14), report.Progress.Indexed)
	assert.Equal(t, int64(1), report.Failures.Total)
	assert.Nil(t, report.Failures.First.Entity)
}

func TestMassIndexer_FatalLoadFailsGroupOnly(t *testing.T) {
	src := newMemSource()
	src.add("Book", 30)
	src.add("Author", 30)
	src.loadErr = func(ids []any) error {
		r := src.records[ids[0].(int)]
		if r.typ == "Book" {
			return loading.Fatal(errors.New("connection reset"))
		}
		return nil
	}
	backend := newMemBackend()
	cfg := testConfig()
	cfg.TypesToIndexInParallel = 2
	mi := newTestIndexer(t, cfg, src, backend, "Book", "Author")

	report, err := mi.StartAndWait(context.Background())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, types.RunFailed, runErr.State)
	assert.ErrorIs(t, err, types.ErrGroupFailed)
	assert.Equal(t, types.RunFailed, report.State)

	states := map[string]types.StageState{}
	for _, g := range report.Groups {
		states[g.Name] = g.State
	}
	assert.Equal(t, types.StageFailed, states["Book"])
	assert.Equal(t, types.StageCompleted, states["Author"])

	assert.Equal(t, int32(1), backend.commits.Load())
	assert.Equal(t, 30, backend.visibleCount())
}

func TestMassIndexer_SnapshotLostFailsGroup(t *testing.T) {
	src := newMemSource()
	src.add("Book", 25)
	src.add("Author", 30)
	src.scanErr = func(names []string) error {
		if names[0] == "Book" {
			return loading.ErrSnapshotLost
		}
		return nil
	}
	backend := newMemBackend()
	var handler recordingHandler
	cfg := testConfig()
	cfg.TypesToIndexInParallel = 2
	cfg.BatchSizeToLoadObjects = 10
	mi, err := New(cfg, src.types("Book", "Author"), backend, WithLogger(testLogger()), WithFailureHandler(&handler))
	require.NoError(t, err)

	report, err := mi.StartAndWait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrGroupFailed)
	assert.ErrorIs(t, err, loading.ErrSnapshotLost)
	assert.Equal(t, types.RunFailed, report.State)

	states := map[string]types.StageState{}
	for _, g := range report.Groups {
		states[g.Name] = g.State
	}
	assert.Equal(t, types.StageFailed, states["Book"])
	assert.Equal(t, types.StageCompleted, states["Author"])

	var scanFailures int
	for _, f := range handler.failures() {
		if f.Operation == progress.OpScan {
			scanFailures++
			assert.Equal(t, "Book", f.Group)
			assert.ErrorIs(t, f.Err, loading.ErrSnapshotLost)
		}
	}
	assert.Equal(t, 1, scanFailures)

	// Every scanned Book id is either indexed or reported abandoned,
	// including the partial batch that was never pushed.
	p := report.Progress
	assert.Equal(t, int64(55), p.Total)
	assert.Equal(t, int64(55), p.Indexed+p.Abandoned)
	assert.GreaterOrEqual(t, p.Abandoned, int64(5))

	assert.Equal(t, int32(1), backend.commits.Load())
	assert.GreaterOrEqual(t, backend.visibleCount(), 30)
}

func TestMassIndexer_CancelRun(t *testing.T) {
	src := newMemSource()
	src.add("Book", 10)
	started := make(chan struct{})
	src.hold = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	backend := newMemBackend()
	mi := newTestIndexer(t, testConfig(), src, backend, "Book")

	run := mi.Start(context.Background())
	<-started
	assert.Equal(t, types.RunIndexing, run.State())
	run.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := run.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.RunCancelled, report.State)
	assert.Equal(t, types.RunCancelled, run.State())
	assert.Zero(t, backend.commits.Load())
	assert.True(t, report.Failures.Empty())
}

func TestMassIndexer_ParentContextCancelled(t *testing.T) {
	src := newMemSource()
	src.add("Book", 200)
	backend := newMemBackend()
	backend.addDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	mi := newTestIndexer(t, testConfig(), src, backend, "Book")
	run := mi.Start(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	report, err := run.Result()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.RunCancelled, report.State)
	assert.Less(t, report.Progress.Indexed, int64(200))
}

func TestMassIndexer_CancelAfterCommitCompletes(t *testing.T) {
	src := newMemSource()
	src.add("Book", 10)
	backend := newMemBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend.afterCommit = cancel

	mi := newTestIndexer(t, testConfig(), src, backend, "Book")
	report, err := mi.StartAndWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, report.State)
	assert.Equal(t, 10, backend.visibleCount())
}

func TestMassIndexer_ParallelismBound(t *testing.T) {
	src := newMemSource()
	names := []string{"A", "B", "C", "D", "E"}
	for _, n := range names {
		src.add(n, 5)
	}
	src.scanHold = 30 * time.Millisecond
	backend := newMemBackend()

	cfg := testConfig()
	cfg.TypesToIndexInParallel = 2
	mi := newTestIndexer(t, cfg, src, backend, names...)
	require.Len(t, mi.Groups(), 5)

	report, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(25), report.Progress.Indexed)
	assert.Equal(t, int32(5), src.scans.Load())
	assert.LessOrEqual(t, src.maxActive.Load(), int32(2))
}

func TestMassIndexer_ObjectsLimit(t *testing.T) {
	src := newMemSource()
	src.add("Book", 50)
	backend := newMemBackend()

	cfg := testConfig()
	cfg.ObjectsLimit = 15
	mi := newTestIndexer(t, cfg, src, backend, "Book")

	report, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, report.State)
	assert.Equal(t, int64(15), report.Progress.Total)
	assert.Equal(t, int64(15), report.Progress.Indexed)
}

func TestMassIndexer_RepeatedRunsAreIdempotent(t *testing.T) {
	src := newMemSource()
	src.add("Book", 33)
	backend := newMemBackend()
	mi := newTestIndexer(t, testConfig(), src, backend, "Book")

	first, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	firstDocs := backend.visibleCount()

	second, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, firstDocs, backend.visibleCount())
	assert.Equal(t, first.Progress.Indexed, second.Progress.Indexed)
}

func TestMassIndexer_FailureThresholdAborts(t *testing.T) {
	src := newMemSource()
	src.add("Book", 100)
	backend := newMemBackend()
	backend.reject = func(string, string) error { return errors.New("mapping error") }

	cfg := testConfig()
	cfg.FailureThreshold = 3
	mi := newTestIndexer(t, cfg, src, backend, "Book")

	report, err := mi.StartAndWait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTooManyFailures)
	assert.NotErrorIs(t, err, types.ErrCancelled)
	assert.Equal(t, types.RunFailed, report.State)
	assert.Greater(t, report.Failures.Total, int64(3))
	assert.Zero(t, backend.commits.Load())
}

func TestMassIndexer_PurgeFailureFailsRun(t *testing.T) {
	src := newMemSource()
	src.add("Book", 5)
	backend := newMemBackend()
	backend.purgeErr = errors.New("index locked")
	mi := newTestIndexer(t, testConfig(), src, backend, "Book")

	report, err := mi.StartAndWait(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.RunFailed, report.State)
	assert.Empty(t, report.Groups)
	assert.Zero(t, src.scans.Load())
	assert.Equal(t, progress.OpPrepare, report.Failures.First.Operation)
}

func TestMassIndexer_DropAndCreateSchema(t *testing.T) {
	src := newMemSource()
	src.add("Book", 5)
	backend := newMemBackend()

	cfg := testConfig()
	cfg.DropAndCreateSchemaOnStart = true
	cfg.PurgeAllOnStart = false
	mi := newTestIndexer(t, cfg, src, backend, "Book")

	_, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), backend.drops.Load())
	assert.Zero(t, backend.purges.Load())
	assert.Zero(t, backend.merges.Load())
}

func TestMassIndexer_SlowBackendAppliesBackpressure(t *testing.T) {
	src := newMemSource()
	src.add("Book", 40)
	backend := newMemBackend()
	backend.addDelay = time.Millisecond

	cfg := testConfig()
	cfg.QueueCapacity = 1
	cfg.ThreadsToLoadObjects = 1
	cfg.BatchSizeToLoadObjects = 4
	mi := newTestIndexer(t, cfg, src, backend, "Book")

	report, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(40), report.Progress.Indexed)
}

func TestMassIndexer_PanickingMonitorIsContained(t *testing.T) {
	src := newMemSource()
	src.add("Book", 12)
	backend := newMemBackend()
	mi, err := New(testConfig(), src.types("Book"), backend, WithLogger(testLogger()), WithMonitor(panickyMonitor{}))
	require.NoError(t, err)

	report, err := mi.StartAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), report.Progress.Indexed)
}

func TestRunLock(t *testing.T) {
	var l RunLock
	assert.True(t, l.TryAcquire("a"))
	assert.False(t, l.TryAcquire("b"))
	assert.Equal(t, "a", l.Holder())

	l.Release("b")
	assert.Equal(t, "a", l.Holder())

	l.Release("a")
	assert.Empty(t, l.Holder())
	assert.True(t, l.TryAcquire("b"))
}
