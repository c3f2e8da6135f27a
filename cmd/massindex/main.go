package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dshills/massindex/internal/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// loadConfigWithOverrides loads configuration and applies global flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout is reserved for command output and
// the MCP protocol.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	app := &cli.App{
		Name:    "massindex",
		Usage:   "Rebuild a search index in bulk from a system of record",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML config file path",
				EnvVars: []string{"MASSINDEX_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json (overrides config)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Reindex the selected types and wait for the run to finish",
				Flags:  runFlags(),
				Action: runCommand,
			},
			{
				Name:  "serve",
				Usage: "Serve the HTTP API for triggering runs and searching",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides config)",
					},
				},
				Action: serveCommand,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdio",
				Action: mcpCommand,
			},
			{
				Name:      "search",
				Usage:     "Search the committed index",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "type",
						Aliases: []string{"t"},
						Usage:   "Restrict hits to a type (repeatable)",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of hits",
						Value:   10,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print hits as JSON",
					},
				},
				Action: searchCommand,
			},
			{
				Name:   "status",
				Usage:  "Show documents per type and commit history of the index",
				Action: statusCommand,
			},
			{
				Name:      "import",
				Usage:     "Load JSON records into the SQLite system of record",
				ArgsUsage: "<file.json>",
				Action:    importCommand,
			},
			{
				Name:   "version",
				Usage:  "Show version and build information",
				Action: versionCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
