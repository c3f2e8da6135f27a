package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Event is one progress message on the stream.
type Event struct {
	Kind    string    `json:"kind"`
	RunID   string    `json:"run_id"`
	Total   int64     `json:"total"`
	Loaded  int64     `json:"loaded"`
	Built   int64     `json:"built"`
	Indexed int64     `json:"indexed"`
	At      time.Time `json:"at"`
}

// Event kinds.
const (
	KindTotal     = "total"
	KindProgress  = "progress"
	KindCompleted = "completed"
)

// Publish appends one event to stream and returns its stream id.
func Publish(ctx context.Context, client valkey.Client, stream string, ev Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	resp := client.Do(ctx, client.B().Xadd().
		Key(stream).Id("*").
		FieldValue().FieldValue("data", string(data)).
		Build())
	if err := resp.Error(); err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	id, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("parse xadd response: %w", err)
	}
	return id, nil
}

type publishFunc func(ctx context.Context, ev Event) error

// eventBuffer is the number of events waiting for the publisher before new
// progress events are dropped.
const eventBuffer = 64

// StreamMonitor is a progress monitor appending an event to a stream every
// period indexed documents, on total updates and on completion. Events are
// published by a background goroutine so a slow stream never stalls the
// indexing workers.
type StreamMonitor struct {
	publish publishFunc
	runID   string
	period  int64
	timeout time.Duration
	logger  *slog.Logger

	total   atomic.Int64
	loaded  atomic.Int64
	built   atomic.Int64
	indexed atomic.Int64
	dropped atomic.Int64

	startOnce sync.Once
	mu        sync.Mutex
	closed    bool
	events    chan Event
	done      chan struct{}
}

// NewStreamMonitor publishes the progress of run runID to cfg.Stream
// through client.
func NewStreamMonitor(client valkey.Client, cfg Config, runID string, period int, logger *slog.Logger) *StreamMonitor {
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	return newStreamMonitor(func(ctx context.Context, ev Event) error {
		_, err := Publish(ctx, client, stream, ev)
		return err
	}, runID, period, logger)
}

func newStreamMonitor(publish publishFunc, runID string, period int, logger *slog.Logger) *StreamMonitor {
	if period < 1 {
		period = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamMonitor{
		publish: publish,
		runID:   runID,
		period:  int64(period),
		timeout: 2 * time.Second,
		logger:  logger,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

func (m *StreamMonitor) AddToTotalCount(n int64) {
	m.total.Add(n)
	m.emit(KindTotal)
}

func (m *StreamMonitor) EntitiesLoaded(n int64) { m.loaded.Add(n) }

func (m *StreamMonitor) DocumentsBuilt(n int64) { m.built.Add(n) }

func (m *StreamMonitor) DocumentsAdded(n int64) {
	current := m.indexed.Add(n)
	if current/m.period != (current-n)/m.period {
		m.emit(KindProgress)
	}
}

// IndexingCompleted queues the completion event and stops the publisher
// once the queue is drained. Later notifications are ignored.
func (m *StreamMonitor) IndexingCompleted() {
	m.startOnce.Do(m.start)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	ev := m.event(KindCompleted)
	select {
	case m.events <- ev:
	default:
		// Make room by dropping the oldest queued event.
		select {
		case <-m.events:
			m.dropped.Add(1)
		default:
		}
		select {
		case m.events <- ev:
		default:
			m.dropped.Add(1)
		}
	}
	m.closed = true
	close(m.events)
}

// Done is closed once the publisher has handled the completion event.
func (m *StreamMonitor) Done() <-chan struct{} { return m.done }

// Dropped returns the number of events discarded because the stream could
// not keep up.
func (m *StreamMonitor) Dropped() int64 { return m.dropped.Load() }

func (m *StreamMonitor) event(kind string) Event {
	return Event{
		Kind:    kind,
		RunID:   m.runID,
		Total:   m.total.Load(),
		Loaded:  m.loaded.Load(),
		Built:   m.built.Load(),
		Indexed: m.indexed.Load(),
		At:      time.Now().UTC(),
	}
}

// emit queues an event without blocking; it is dropped when the buffer is
// full.
func (m *StreamMonitor) emit(kind string) {
	m.startOnce.Do(m.start)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.events <- m.event(kind):
	default:
		m.dropped.Add(1)
	}
}

func (m *StreamMonitor) start() {
	go m.run()
}

// run publishes queued events until the queue is closed. A lost progress
// event is only logged.
func (m *StreamMonitor) run() {
	defer close(m.done)
	for ev := range m.events {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		err := m.publish(ctx, ev)
		cancel()
		if err != nil {
			m.logger.Warn("failed to publish progress event", slog.String("kind", ev.Kind), slog.String("error", err.Error()))
		}
	}
	if n := m.dropped.Load(); n > 0 {
		m.logger.Warn("progress events dropped", slog.String("run_id", m.runID), slog.Int64("dropped", n))
	}
}
