// Package runs manages mass indexing runs started on behalf of the HTTP
// and MCP surfaces: at most one run at a time, each one registered by id
// until it is evicted from the history.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/massindex/internal/config"
	"github.com/dshills/massindex/internal/indexer"
	"github.com/dshills/massindex/internal/loading"
	"github.com/dshills/massindex/internal/progress"
	"github.com/dshills/massindex/pkg/types"
)

// DefaultHistory is the number of finished runs kept for inspection.
const DefaultHistory = 50

var (
	ErrRunNotFound = errors.New("run not found")
	ErrShutdown    = errors.New("run manager is shut down")
)

// Request describes a run to start. Nil overrides keep the configured value.
type Request struct {
	Types               []string `json:"types,omitempty"` // Glob patterns over declared type names
	ObjectsLimit        *int64   `json:"objects_limit,omitempty"`
	PurgeOnStart        *bool    `json:"purge_on_start,omitempty"`
	DropAndCreateSchema *bool    `json:"drop_and_create_schema,omitempty"`
	MergeOnFinish       *bool    `json:"merge_on_finish,omitempty"`
}

// Invalidator is told when a run has finished and the index may have
// changed.
type Invalidator interface {
	Invalidate()
}

// Environment holds what every run is built from.
type Environment struct {
	Config   *config.Config
	Strategy loading.Strategy // Loading strategy of the configured source
	Backend  indexer.Backend
	// Monitors returns extra monitors for the run with the given id.
	Monitors    func(runID string) []progress.Monitor
	Invalidator Invalidator
	Logger      *slog.Logger
	History     int
}

// Status is a point-in-time view of a run.
type Status struct {
	ID        string            `json:"id"`
	State     types.RunState    `json:"state"`
	Types     []string          `json:"types"`
	StartedAt time.Time         `json:"started_at"`
	Progress  progress.Snapshot `json:"progress"`
	Failures  progress.Summary  `json:"failures"`
	Report    *indexer.Report   `json:"report,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type entry struct {
	run   *indexer.Run
	types []string
}

// Manager starts runs and keeps track of them.
type Manager struct {
	env    Environment
	logger *slog.Logger
	lock   indexer.RunLock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	runs     map[string]*entry
	shutdown bool
}

// NewManager returns a manager whose runs outlive the requests that start
// them. Shutdown cancels whatever is still running.
func NewManager(env Environment) (*Manager, error) {
	if env.Config == nil || env.Strategy == nil || env.Backend == nil {
		return nil, fmt.Errorf("%w: run manager needs a configuration, a loading strategy and a backend", types.ErrInvalidConfig)
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.History <= 0 {
		env.History = DefaultHistory
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		env:    env,
		logger: env.Logger,
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*entry),
	}, nil
}

// Start builds a mass indexer for req and starts it. It fails with
// types.ErrRunInProgress while another run is active.
func (m *Manager) Start(req Request) (Status, error) {
	runID := uuid.NewString()
	mi, names, err := m.build(req, runID)
	if err != nil {
		return Status{}, err
	}

	if !m.lock.TryAcquire(runID) {
		return Status{}, fmt.Errorf("%w: run %s", types.ErrRunInProgress, m.lock.Holder())
	}

	// The shutdown check and wg.Add share m.mu with Shutdown, so Shutdown
	// never waits on a group that is still growing.
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.lock.Release(runID)
		return Status{}, ErrShutdown
	}
	m.wg.Add(1)
	m.mu.Unlock()

	run := mi.StartRun(m.ctx, runID)
	m.register(runID, &entry{run: run, types: names})

	go func() {
		defer m.wg.Done()
		<-run.Done()
		if m.env.Invalidator != nil {
			m.env.Invalidator.Invalidate()
		}
		m.lock.Release(runID)
	}()

	m.logger.Info("run started", slog.String("run_id", runID), slog.Any("types", names))
	return m.status(runID)
}

func (m *Manager) build(req Request, runID string) (*indexer.MassIndexer, []string, error) {
	cfg := m.env.Config
	names, err := cfg.SelectTypes(req.Types)
	if err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, types.ErrNoTypes)
	}

	icfg := cfg.IndexerConfig()
	if req.ObjectsLimit != nil {
		icfg.ObjectsLimit = *req.ObjectsLimit
	}
	if req.PurgeOnStart != nil {
		icfg.PurgeAllOnStart = *req.PurgeOnStart
	}
	if req.DropAndCreateSchema != nil {
		icfg.DropAndCreateSchemaOnStart = *req.DropAndCreateSchema
	}
	if req.MergeOnFinish != nil {
		icfg.MergeSegmentsOnFinish = *req.MergeOnFinish
	}

	indexed := make([]loading.IndexedType, len(names))
	for i, name := range names {
		indexed[i] = loading.NewType(name, m.env.Strategy)
	}

	logger := m.logger.With(slog.String("run_id", runID))
	monitors := []progress.Monitor{progress.NewLoggingMonitor(logger, progress.DefaultLogPeriod)}
	if m.env.Monitors != nil {
		monitors = append(monitors, m.env.Monitors(runID)...)
	}

	mi, err := indexer.New(icfg, indexed, m.env.Backend,
		indexer.WithMonitor(progress.Monitors(monitors...)),
		indexer.WithFailureHandler(progress.NewLoggingFailureHandler(logger)),
		indexer.WithLogger(m.logger))
	if err != nil {
		return nil, nil, err
	}
	return mi, names, nil
}

// register adds a run and evicts the oldest finished runs beyond the
// history size.
func (m *Manager) register(id string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id] = e

	if len(m.runs) <= m.env.History {
		return
	}
	finished := make([]*entry, 0, len(m.runs))
	for _, r := range m.runs {
		if r.run.State().IsTerminal() {
			finished = append(finished, r)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].run.StartedAt().Before(finished[j].run.StartedAt())
	})
	for _, r := range finished {
		if len(m.runs) <= m.env.History {
			break
		}
		delete(m.runs, r.run.ID())
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return e, nil
}

func (m *Manager) status(id string) (Status, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Status{}, err
	}
	return statusOf(e), nil
}

func statusOf(e *entry) Status {
	run := e.run
	s := Status{
		ID:        run.ID(),
		State:     run.State(),
		Types:     e.types,
		StartedAt: run.StartedAt(),
		Progress:  run.Progress(),
		Failures:  run.Failures(),
	}
	if report, err := run.Result(); report != nil {
		s.Report = report
		s.State = report.State
		if err != nil {
			s.Error = err.Error()
		}
	}
	return s
}

// Get returns the status of run id.
func (m *Manager) Get(id string) (Status, error) {
	return m.status(id)
}

// Run returns the run itself, for callers that wait on it.
func (m *Manager) Run(id string) (*indexer.Run, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.run, nil
}

// List returns every known run, newest first.
func (m *Manager) List() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.runs))
	for _, e := range m.runs {
		out = append(out, statusOf(e))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Active returns the id of the running run, or "".
func (m *Manager) Active() string {
	return m.lock.Holder()
}

// Cancel asks run id to stop and returns its status. Cancelling a finished
// run has no effect.
func (m *Manager) Cancel(id string) (Status, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Status{}, err
	}
	if !e.run.State().IsTerminal() {
		m.logger.Info("cancelling run", slog.String("run_id", id))
		e.run.Cancel()
	}
	return statusOf(e), nil
}

// Shutdown cancels active runs and waits for them to stop or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
