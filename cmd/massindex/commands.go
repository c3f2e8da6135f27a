package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dshills/massindex/internal/api"
	"github.com/dshills/massindex/internal/config"
	"github.com/dshills/massindex/internal/indexer"
	"github.com/dshills/massindex/internal/mcp"
	"github.com/dshills/massindex/internal/progress"
	"github.com/dshills/massindex/internal/runs"
	"github.com/dshills/massindex/internal/searcher"
	"github.com/dshills/massindex/internal/storage"
)

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "type",
			Aliases: []string{"t"},
			Usage:   "Glob pattern selecting types to reindex (repeatable, default: all)",
		},
		&cli.IntFlag{Name: "parallel", Usage: "Type groups indexed at once"},
		&cli.IntFlag{Name: "threads", Usage: "Load-and-index workers per group"},
		&cli.IntFlag{Name: "batch-size", Usage: "Identifiers per batch"},
		&cli.IntFlag{Name: "fetch-size", Usage: "Identifier scan fetch size"},
		&cli.Int64Flag{Name: "limit", Usage: "Maximum records per type group, 0 for no limit"},
		&cli.Int64Flag{Name: "failure-threshold", Usage: "Abort after this many failures, 0 never aborts"},
		&cli.BoolFlag{Name: "purge", Usage: "Purge the selected types first", Value: true},
		&cli.BoolFlag{Name: "drop-schema", Usage: "Drop and recreate the index schema first"},
		&cli.BoolFlag{Name: "merge-on-finish", Usage: "Optimize the index after the commit"},
		&cli.BoolFlag{Name: "json", Usage: "Print the report as JSON"},
	}
}

// applyRunFlags overrides the [indexer] table with the flags that were set.
func applyRunFlags(c *cli.Context, cfg *config.Config) {
	in := &cfg.Indexer
	if c.IsSet("parallel") {
		in.TypesInParallel = c.Int("parallel")
	}
	if c.IsSet("threads") {
		in.Threads = c.Int("threads")
	}
	if c.IsSet("batch-size") {
		in.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("fetch-size") {
		in.IDFetchSize = c.Int("fetch-size")
	}
	if c.IsSet("limit") {
		in.ObjectsLimit = c.Int64("limit")
	}
	if c.IsSet("failure-threshold") {
		in.FailureThreshold = c.Int64("failure-threshold")
	}
	if c.IsSet("purge") {
		in.PurgeOnStart = c.Bool("purge")
	}
	if c.IsSet("drop-schema") {
		in.DropAndCreateSchema = c.Bool("drop-schema")
	}
	if c.IsSet("merge-on-finish") {
		in.MergeOnFinish = c.Bool("merge-on-finish")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	applyRunFlags(c, cfg)
	logger := newLogger(cfg.Log)

	ctx, stop := signalContext()
	defer stop()

	st, err := openStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	indexed, err := st.indexedTypes(c.StringSlice("type"))
	if err != nil {
		return err
	}

	runID := newRunID()
	streams := st.monitors(runID)
	monitors := append([]progress.Monitor{progress.NewLoggingMonitor(logger, progress.DefaultLogPeriod)}, streams...)
	mi, err := indexer.New(cfg.IndexerConfig(), indexed, st.index,
		indexer.WithMonitor(progress.Monitors(monitors...)),
		indexer.WithFailureHandler(progress.NewLoggingFailureHandler(logger)),
		indexer.WithLogger(logger))
	if err != nil {
		return err
	}

	for _, g := range mi.Groups() {
		logger.Info("type group planned", slog.String("group", g.String()))
	}

	run := mi.StartRun(ctx, runID)
	<-run.Done()
	report, runErr := run.Result()
	waitForStreams(streams, 5*time.Second)

	if c.Bool("json") {
		printJSON(report)
	} else {
		printReport(report)
	}
	return runErr
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signalContext()
	defer stop()

	st, err := openStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	srch := searcher.New(st.index, searcher.DefaultCacheSize)
	manager, err := runs.NewManager(st.environment(srch))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(logger, api.RouterDeps{Manager: manager, Searcher: srch, Index: st.index}),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	return manager.Shutdown(shutdownCtx)
}

func mcpCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signalContext()
	defer stop()

	st, err := openStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	srch := searcher.New(st.index, searcher.DefaultCacheSize)
	manager, err := runs.NewManager(st.environment(srch))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	server, err := mcp.NewServer(mcp.Deps{Manager: manager, Searcher: srch, Index: st.index, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("MCP server ready, listening on stdio", slog.String("version", version))
		errCh <- server.Serve(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		return nil
	}
}

func searchCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: massindex search <query>")
	}
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	idx, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	resp, err := searcher.New(idx, 1).Search(c.Context, searcher.SearchRequest{
		Query: c.Args().First(),
		Types: c.StringSlice("type"),
		Limit: c.Int("limit"),
	})
	if err != nil {
		return err
	}

	if c.Bool("json") {
		printJSON(resp)
		return nil
	}
	if resp.Total == 0 {
		fmt.Println("No results")
		return nil
	}
	for i, h := range resp.Hits {
		fmt.Printf("%2d. [%s#%s] %s (score %.2f)\n", i+1, h.TypeName, h.DocID, h.Title, h.Score)
		if h.Snippet != "" {
			fmt.Printf("    %s\n", h.Snippet)
		}
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	idx, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer idx.Close()

	status, err := idx.Status(c.Context)
	if err != nil {
		return err
	}
	printJSON(status)
	return nil
}

func importCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: massindex import <file.json>")
	}
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	if cfg.Source.Driver != config.DriverSQLite {
		return fmt.Errorf("import writes to the sqlite source only, configured driver is %q", cfg.Source.Driver)
	}

	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	var records []*storage.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse records: %w", err)
	}

	src, err := storage.NewSQLiteSource(cfg.Source.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := src.PutRecords(c.Context, records); err != nil {
		return err
	}
	fmt.Printf("Imported %d records into %s\n", len(records), cfg.Source.Path)
	return nil
}

func versionCommand(c *cli.Context) error {
	fmt.Printf("massindex\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Build Mode: %s\n", storage.BuildMode)
	fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
	return nil
}

// waitForStreams gives stream monitors time to publish their last events
// before the client is closed.
func waitForStreams(monitors []progress.Monitor, timeout time.Duration) {
	deadline := time.After(timeout)
	for _, m := range monitors {
		d, ok := m.(interface{ Done() <-chan struct{} })
		if !ok {
			continue
		}
		select {
		case <-d.Done():
		case <-deadline:
			return
		}
	}
}
