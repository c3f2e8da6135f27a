// Package config loads massindex settings from a TOML file, an optional
// .env file and MASSINDEX_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/massindex/internal/indexer"
	"github.com/dshills/massindex/pkg/types"
)

// Source drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Indexer IndexerConfig `toml:"indexer"`
	Source  SourceConfig  `toml:"source"`
	Index   IndexConfig   `toml:"index"`
	Server  ServerConfig  `toml:"server"`
	Valkey  ValkeyConfig  `toml:"valkey"`
	Log     LogConfig     `toml:"log"`
	Types   []TypeConfig  `toml:"types"`
}

type IndexerConfig struct {
	TypesInParallel     int   `toml:"types_in_parallel"`
	Threads             int   `toml:"threads"`
	BatchSize           int   `toml:"batch_size"`
	IDFetchSize         int   `toml:"id_fetch_size"`
	ObjectsLimit        int64 `toml:"objects_limit"`
	QueueCapacity       int   `toml:"queue_capacity"`
	DropAndCreateSchema bool  `toml:"drop_and_create_schema"`
	PurgeOnStart        bool  `toml:"purge_on_start"`
	MergeAfterPurge     bool  `toml:"merge_after_purge"`
	MergeOnFinish       bool  `toml:"merge_on_finish"`
	FailureThreshold    int64 `toml:"failure_threshold"`
	FailureSampleSize   int   `toml:"failure_sample_size"`
}

type SourceConfig struct {
	Driver string `toml:"driver"` // sqlite or postgres
	Path   string `toml:"path"`   // sqlite database file
	DSN    string `toml:"dsn"`    // postgres connection string
	Table  string `toml:"table"`  // postgres table, default "records"
}

type IndexConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Addr             string `toml:"addr"`
	ReadTimeoutSecs  int    `toml:"read_timeout_secs"`
	WriteTimeoutSecs int    `toml:"write_timeout_secs"`
}

func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSecs) * time.Second
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSecs) * time.Second
}

// ValkeyConfig enables the progress stream when Addr is set.
type ValkeyConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	Stream   string `toml:"stream"`
	Period   int    `toml:"period"`
}

func (v ValkeyConfig) Enabled() bool { return v.Addr != "" }

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// TypeConfig declares one indexed type and its optional supertype.
type TypeConfig struct {
	Name  string `toml:"name"`
	Super string `toml:"super"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	d := indexer.DefaultConfig()
	return &Config{
		Indexer: IndexerConfig{
			TypesInParallel:     d.TypesToIndexInParallel,
			Threads:             d.ThreadsToLoadObjects,
			BatchSize:           d.BatchSizeToLoadObjects,
			IDFetchSize:         d.IDFetchSize,
			ObjectsLimit:        d.ObjectsLimit,
			QueueCapacity:       d.QueueCapacity,
			DropAndCreateSchema: d.DropAndCreateSchemaOnStart,
			PurgeOnStart:        d.PurgeAllOnStart,
			MergeAfterPurge:     d.MergeSegmentsAfterPurge,
			MergeOnFinish:       d.MergeSegmentsOnFinish,
			FailureThreshold:    d.FailureThreshold,
			FailureSampleSize:   d.FailureSampleSize,
		},
		Source: SourceConfig{
			Driver: DriverSQLite,
			Path:   "records.db",
			Table:  "records",
		},
		Index: IndexConfig{Path: "index.db"},
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 60,
		},
		Valkey: ValkeyConfig{Period: 1000},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path when it is not empty, then .env files when present, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", types.ErrInvalidConfig, path, err)
		}
	}

	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	in := &c.Indexer
	in.TypesInParallel = getEnvInt("MASSINDEX_TYPES_IN_PARALLEL", in.TypesInParallel)
	in.Threads = getEnvInt("MASSINDEX_THREADS", in.Threads)
	in.BatchSize = getEnvInt("MASSINDEX_BATCH_SIZE", in.BatchSize)
	in.IDFetchSize = getEnvInt("MASSINDEX_ID_FETCH_SIZE", in.IDFetchSize)
	in.ObjectsLimit = int64(getEnvInt("MASSINDEX_OBJECTS_LIMIT", int(in.ObjectsLimit)))
	in.QueueCapacity = getEnvInt("MASSINDEX_QUEUE_CAPACITY", in.QueueCapacity)
	in.DropAndCreateSchema = getEnvBool("MASSINDEX_DROP_AND_CREATE_SCHEMA", in.DropAndCreateSchema)
	in.PurgeOnStart = getEnvBool("MASSINDEX_PURGE_ON_START", in.PurgeOnStart)
	in.MergeAfterPurge = getEnvBool("MASSINDEX_MERGE_AFTER_PURGE", in.MergeAfterPurge)
	in.MergeOnFinish = getEnvBool("MASSINDEX_MERGE_ON_FINISH", in.MergeOnFinish)
	in.FailureThreshold = int64(getEnvInt("MASSINDEX_FAILURE_THRESHOLD", int(in.FailureThreshold)))
	in.FailureSampleSize = getEnvInt("MASSINDEX_FAILURE_SAMPLE_SIZE", in.FailureSampleSize)

	c.Source.Driver = getEnv("MASSINDEX_SOURCE_DRIVER", c.Source.Driver)
	c.Source.Path = getEnv("MASSINDEX_SOURCE_PATH", c.Source.Path)
	c.Source.DSN = getEnv("MASSINDEX_SOURCE_DSN", c.Source.DSN)
	c.Source.Table = getEnv("MASSINDEX_SOURCE_TABLE", c.Source.Table)
	c.Index.Path = getEnv("MASSINDEX_INDEX_PATH", c.Index.Path)

	c.Server.Addr = getEnv("MASSINDEX_SERVER_ADDR", c.Server.Addr)
	c.Server.ReadTimeoutSecs = getEnvInt("MASSINDEX_SERVER_READ_TIMEOUT_SECS", c.Server.ReadTimeoutSecs)
	c.Server.WriteTimeoutSecs = getEnvInt("MASSINDEX_SERVER_WRITE_TIMEOUT_SECS", c.Server.WriteTimeoutSecs)

	c.Valkey.Addr = getEnv("MASSINDEX_VALKEY_ADDR", c.Valkey.Addr)
	c.Valkey.Password = getEnv("MASSINDEX_VALKEY_PASSWORD", c.Valkey.Password)
	c.Valkey.Stream = getEnv("MASSINDEX_VALKEY_STREAM", c.Valkey.Stream)
	c.Valkey.Period = getEnvInt("MASSINDEX_VALKEY_PERIOD", c.Valkey.Period)

	c.Log.Level = getEnv("MASSINDEX_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("MASSINDEX_LOG_FORMAT", c.Log.Format)
}

// IndexerConfig converts the [indexer] table to the coordinator settings.
func (c *Config) IndexerConfig() indexer.Config {
	in := c.Indexer
	return indexer.Config{
		TypesToIndexInParallel:     in.TypesInParallel,
		ThreadsToLoadObjects:       in.Threads,
		BatchSizeToLoadObjects:     in.BatchSize,
		IDFetchSize:                in.IDFetchSize,
		ObjectsLimit:               in.ObjectsLimit,
		QueueCapacity:              in.QueueCapacity,
		DropAndCreateSchemaOnStart: in.DropAndCreateSchema,
		PurgeAllOnStart:            in.PurgeOnStart,
		MergeSegmentsAfterPurge:    in.MergeAfterPurge,
		MergeSegmentsOnFinish:      in.MergeOnFinish,
		FailureThreshold:           in.FailureThreshold,
		FailureSampleSize:          in.FailureSampleSize,
	}
}

// Validate checks the whole configuration. Errors wrap types.ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.IndexerConfig().Validate(); err != nil {
		return err
	}

	switch c.Source.Driver {
	case DriverSQLite:
		if c.Source.Path == "" {
			return invalid("source.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Source.DSN == "" {
			return invalid("source.dsn is required for the postgres driver")
		}
	default:
		return invalid("source.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Source.Driver)
	}

	if c.Index.Path == "" {
		return invalid("index.path is required")
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 {
		return invalid("server timeouts must not be negative")
	}
	if c.Valkey.Enabled() && c.Valkey.Period < 1 {
		return invalid("valkey.period must be at least 1, got %d", c.Valkey.Period)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}

	if _, err := c.Hierarchy(); err != nil {
		return err
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
