package main

import (
	"context"
	"fmt"
	"log/slog"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/dshills/massindex/internal/config"
	"github.com/dshills/massindex/internal/loading"
	"github.com/dshills/massindex/internal/progress"
	"github.com/dshills/massindex/internal/runs"
	"github.com/dshills/massindex/internal/storage"
	"github.com/dshills/massindex/internal/store/postgres"
	"github.com/dshills/massindex/internal/store/valkey"
)

// stack is the index, the system of record and the optional progress
// stream of one configuration.
type stack struct {
	cfg      *config.Config
	logger   *slog.Logger
	index    *storage.SQLiteIndex
	strategy loading.Strategy
	valkey   valkeygo.Client
	closers  []func()
}

func openIndex(cfg *config.Config) (*storage.SQLiteIndex, error) {
	idx, err := storage.NewSQLiteIndex(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", cfg.Index.Path, err)
	}
	return idx, nil
}

func openStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger}

	idx, err := openIndex(cfg)
	if err != nil {
		return nil, err
	}
	s.index = idx
	s.closers = append(s.closers, func() { _ = idx.Close() })

	h, err := cfg.Hierarchy()
	if err != nil {
		s.Close()
		return nil, err
	}

	switch cfg.Source.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.Source.DSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		table := postgres.DefaultTable()
		if cfg.Source.Table != "" {
			table.Name = cfg.Source.Table
		}
		src, err := postgres.NewSource(pool, table)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.strategy = src.Strategy(h)
	default:
		src, err := storage.NewSQLiteSource(cfg.Source.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = src.Close() })
		s.strategy = src.Strategy(h)
	}

	if cfg.Valkey.Enabled() {
		client, err := valkey.NewClient(valkey.Config{
			Addr:     cfg.Valkey.Addr,
			Password: cfg.Valkey.Password,
			Stream:   cfg.Valkey.Stream,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.valkey = client
		s.closers = append(s.closers, client.Close)
		logger.Info("publishing progress to valkey", slog.String("addr", cfg.Valkey.Addr))
	}

	logger.Debug("stack ready",
		slog.String("source", cfg.Source.Driver),
		slog.String("index", cfg.Index.Path),
		slog.String("build_mode", storage.BuildMode))
	return s, nil
}

// monitors returns the extra monitors of run runID.
func (s *stack) monitors(runID string) []progress.Monitor {
	if s.valkey == nil {
		return nil
	}
	vcfg := valkey.Config{Stream: s.cfg.Valkey.Stream}
	return []progress.Monitor{
		valkey.NewStreamMonitor(s.valkey, vcfg, runID, s.cfg.Valkey.Period, s.logger),
	}
}

// indexedTypes returns the types selected by patterns, all when empty.
func (s *stack) indexedTypes(patterns []string) ([]loading.IndexedType, error) {
	names, err := s.cfg.SelectTypes(patterns)
	if err != nil {
		return nil, err
	}
	out := make([]loading.IndexedType, len(names))
	for i, n := range names {
		out[i] = loading.NewType(n, s.strategy)
	}
	return out, nil
}

func (s *stack) environment(inv runs.Invalidator) runs.Environment {
	return runs.Environment{
		Config:      s.cfg,
		Strategy:    s.strategy,
		Backend:     s.index,
		Monitors:    s.monitors,
		Invalidator: inv,
		Logger:      s.logger,
	}
}

// Close releases resources in reverse opening order.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
