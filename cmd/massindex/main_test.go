package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/dshills/massindex/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(config.LogConfig{Level: tt.level, Format: "json"})
			ctx := context.Background()
			assert.True(t, logger.Enabled(ctx, tt.want))
			if tt.want > slog.LevelDebug {
				assert.False(t, logger.Enabled(ctx, tt.want-1))
			}
		})
	}
}

func TestApplyRunFlags(t *testing.T) {
	cfg := config.Default()
	app := &cli.App{
		Flags: runFlags(),
		Action: func(c *cli.Context) error {
			applyRunFlags(c, cfg)
			return nil
		},
	}
	err := app.Run([]string{"massindex", "--threads", "3", "--limit", "50", "--purge=false", "--merge-on-finish"})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Indexer.Threads)
	assert.Equal(t, int64(50), cfg.Indexer.ObjectsLimit)
	assert.False(t, cfg.Indexer.PurgeOnStart)
	assert.True(t, cfg.Indexer.MergeOnFinish)
	assert.Equal(t, config.Default().Indexer.BatchSize, cfg.Indexer.BatchSize, "unset flags keep the config value")
}
