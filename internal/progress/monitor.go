package progress

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Monitor receives progress notifications. Implementations are called from
// many goroutines at once.
type Monitor interface {
	AddToTotalCount(n int64)
	EntitiesLoaded(n int64)
	DocumentsBuilt(n int64)
	DocumentsAdded(n int64)
	IndexingCompleted()
}

// DefaultLogPeriod is the number of indexed documents between two progress
// log lines.
const DefaultLogPeriod = 50

// LoggingMonitor logs progress every period indexed documents.
type LoggingMonitor struct {
	logger *slog.Logger
	period int64
	start  time.Time

	total   atomic.Int64
	loaded  atomic.Int64
	built   atomic.Int64
	indexed atomic.Int64
}

// NewLoggingMonitor creates a monitor logging through logger; a nil logger
// uses slog.Default and a period below one uses DefaultLogPeriod.
func NewLoggingMonitor(logger *slog.Logger, period int) *LoggingMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if period < 1 {
		period = DefaultLogPeriod
	}
	return &LoggingMonitor{logger: logger, period: int64(period), start: time.Now()}
}

func (m *LoggingMonitor) AddToTotalCount(n int64) {
	total := m.total.Add(n)
	m.logger.Info("mass indexing total updated", slog.Int64("total", total))
}

func (m *LoggingMonitor) EntitiesLoaded(n int64) { m.loaded.Add(n) }

func (m *LoggingMonitor) DocumentsBuilt(n int64) { m.built.Add(n) }

func (m *LoggingMonitor) DocumentsAdded(n int64) {
	current := m.indexed.Add(n)
	previous := current - n
	if current/m.period != previous/m.period {
		m.logStatus(current)
	}
}

func (m *LoggingMonitor) IndexingCompleted() {
	elapsed := time.Since(m.start)
	m.logger.Info("mass indexing completed",
		slog.Int64("indexed", m.indexed.Load()),
		slog.Int64("loaded", m.loaded.Load()),
		slog.Duration("elapsed", elapsed))
}

func (m *LoggingMonitor) logStatus(indexed int64) {
	s := Snapshot{
		Total:   m.total.Load(),
		Loaded:  m.loaded.Load(),
		Built:   m.built.Load(),
		Indexed: indexed,
		Elapsed: time.Since(m.start),
	}
	attrs := []any{
		slog.Int64("indexed", s.Indexed),
		slog.Int64("built", s.Built),
		slog.String("rate", fmt.Sprintf("%.2f/s", s.Rate())),
		slog.Duration("elapsed", s.Elapsed),
	}
	if pct := s.Percent(); pct >= 0 {
		attrs = append(attrs, slog.String("progress", fmt.Sprintf("%.2f%%", pct)), slog.Int64("total", s.Total))
	}
	m.logger.Info("mass indexing progress", attrs...)
}

// Monitors fans notifications out to every non-nil monitor. Each monitor is
// guarded on its own, so a panicking one does not starve the others.
func Monitors(monitors ...Monitor) Monitor {
	out := make(multiMonitor, 0, len(monitors))
	for _, m := range monitors {
		switch m := m.(type) {
		case nil:
		case *FailSafeMonitor:
			out = append(out, m)
		default:
			out = append(out, NewFailSafeMonitor(m, nil))
		}
	}
	return out
}

type multiMonitor []Monitor

func (mm multiMonitor) AddToTotalCount(n int64) {
	for _, m := range mm {
		m.AddToTotalCount(n)
	}
}

func (mm multiMonitor) EntitiesLoaded(n int64) {
	for _, m := range mm {
		m.EntitiesLoaded(n)
	}
}

func (mm multiMonitor) DocumentsBuilt(n int64) {
	for _, m := range mm {
		m.DocumentsBuilt(n)
	}
}

func (mm multiMonitor) DocumentsAdded(n int64) {
	for _, m := range mm {
		m.DocumentsAdded(n)
	}
}

func (mm multiMonitor) IndexingCompleted() {
	for _, m := range mm {
		m.IndexingCompleted()
	}
}

// FailSafeMonitor shields the pipeline from a monitor that panics.
type FailSafeMonitor struct {
	delegate Monitor
	logger   *slog.Logger
}

// NewFailSafeMonitor wraps delegate.
func NewFailSafeMonitor(delegate Monitor, logger *slog.Logger) *FailSafeMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailSafeMonitor{delegate: delegate, logger: logger}
}

func (m *FailSafeMonitor) guard(call string) {
	if r := recover(); r != nil {
		m.logger.Error("progress monitor panicked", slog.String("call", call), slog.Any("panic", r))
	}
}

func (m *FailSafeMonitor) AddToTotalCount(n int64) {
	defer m.guard("AddToTotalCount")
	m.delegate.AddToTotalCount(n)
}

func (m *FailSafeMonitor) EntitiesLoaded(n int64) {
	defer m.guard("EntitiesLoaded")
	m.delegate.EntitiesLoaded(n)
}

func (m *FailSafeMonitor) DocumentsBuilt(n int64) {
	defer m.guard("DocumentsBuilt")
	m.delegate.DocumentsBuilt(n)
}

func (m *FailSafeMonitor) DocumentsAdded(n int64) {
	defer m.guard("DocumentsAdded")
	m.delegate.DocumentsAdded(n)
}

func (m *FailSafeMonitor) IndexingCompleted() {
	defer m.guard("IndexingCompleted")
	m.delegate.IndexingCompleted()
}
