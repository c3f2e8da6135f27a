package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/massindex/internal/runs"
	"github.com/dshills/massindex/internal/runs/runstest"
	"github.com/dshills/massindex/internal/searcher"
	"github.com/dshills/massindex/pkg/types"
)

func newTestServer(t *testing.T, records int) (*Server, *runstest.Env) {
	t.Helper()
	env := runstest.New(t, records)
	srch := searcher.New(env.Index, 10)
	m, err := runs.NewManager(env.Environment(t, srch))
	require.NoError(t, err)
	t.Cleanup(func() {
		env.Backend.Release()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	s, err := NewServer(Deps{Manager: m, Searcher: srch, Index: env.Index, Logger: env.Logger})
	require.NoError(t, err)
	return s, env
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args != nil {
		req.Params.Arguments = args
	}
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", result.Content[0])
	return ""
}

func decodeResult[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &v))
	return v
}

func requireMCPError(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestStartReindex_Wait(t *testing.T) {
	s, _ := newTestServer(t, 16)
	ctx := context.Background()

	result, err := s.handleStartReindex(ctx, callRequest(map[string]interface{}{"wait": true}))
	require.NoError(t, err)
	status := decodeResult[runs.Status](t, result)
	assert.Equal(t, types.RunCompleted, status.State)
	assert.Equal(t, int64(16), status.Progress.Indexed)

	result, err = s.handleGetRunStatus(ctx, callRequest(map[string]interface{}{"run_id": status.ID}))
	require.NoError(t, err)
	again := decodeResult[runs.Status](t, result)
	assert.Equal(t, status.ID, again.ID)

	require.Eventually(t, func() bool { return s.manager.Active() == "" }, 5*time.Second, 5*time.Millisecond)
	result, err = s.handleSearchIndex(ctx, callRequest(map[string]interface{}{
		"query": "gophers",
		"types": []interface{}{"Author"},
		"limit": float64(50),
	}))
	require.NoError(t, err)
	search := decodeResult[map[string]interface{}](t, result)
	assert.EqualValues(t, 4, search["total"])

	result, err = s.handleGetIndexStatus(ctx, callRequest(nil))
	require.NoError(t, err)
	idx := decodeResult[map[string]interface{}](t, result)
	assert.Equal(t, true, idx["indexed"])
}

func TestStartReindex_Options(t *testing.T) {
	s, _ := newTestServer(t, 16)

	result, err := s.handleStartReindex(context.Background(), callRequest(map[string]interface{}{
		"types":          []interface{}{"Book", "Article"},
		"objects_limit":  float64(3),
		"purge_on_start": false,
		"wait":           true,
	}))
	require.NoError(t, err)
	status := decodeResult[runs.Status](t, result)
	assert.Equal(t, []string{"Book", "Article"}, status.Types)
	// Siblings without their supertype form two groups, each capped at 3.
	assert.Equal(t, int64(6), status.Progress.Indexed)
}

func TestStartReindex_Errors(t *testing.T) {
	s, env := newTestServer(t, 8)
	ctx := context.Background()

	_, err := s.handleStartReindex(ctx, callRequest(map[string]interface{}{"types": []interface{}{"Invoice"}}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	var bad mcp.CallToolRequest
	bad.Params.Arguments = "not an object"
	_, err = s.handleStartReindex(ctx, bad)
	requireMCPError(t, err, ErrorCodeInvalidParams)

	env.Backend.Hold()
	result, err := s.handleStartReindex(ctx, callRequest(nil))
	require.NoError(t, err)
	running := decodeResult[runs.Status](t, result)

	_, err = s.handleStartReindex(ctx, callRequest(nil))
	requireMCPError(t, err, ErrorCodeIndexingInProgress)

	result, err = s.handleGetRunStatus(ctx, callRequest(nil))
	require.NoError(t, err)
	list := decodeResult[map[string]interface{}](t, result)
	assert.Equal(t, running.ID, list["active"])
}

func TestCancelRun(t *testing.T) {
	s, env := newTestServer(t, 8)
	ctx := context.Background()
	env.Backend.Hold()

	result, err := s.handleStartReindex(ctx, callRequest(nil))
	require.NoError(t, err)
	started := decodeResult[runs.Status](t, result)

	_, err = s.handleCancelRun(ctx, callRequest(map[string]interface{}{"run_id": started.ID}))
	require.NoError(t, err)

	run, err := s.manager.Run(started.ID)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, _ = run.Wait(waitCtx)
	assert.Equal(t, types.RunCancelled, run.State())

	_, err = s.handleCancelRun(ctx, callRequest(nil))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleCancelRun(ctx, callRequest(map[string]interface{}{"run_id": "unknown"}))
	requireMCPError(t, err, ErrorCodeRunNotFound)
}

func TestSearchIndex_Validation(t *testing.T) {
	s, _ := newTestServer(t, 1)
	ctx := context.Background()

	_, err := s.handleSearchIndex(ctx, callRequest(map[string]interface{}{}))
	requireMCPError(t, err, ErrorCodeEmptyQuery)

	_, err = s.handleSearchIndex(ctx, callRequest(map[string]interface{}{"query": "go", "limit": float64(500)}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleSearchIndex(ctx, callRequest(map[string]interface{}{"query": "   "}))
	requireMCPError(t, err, ErrorCodeEmptyQuery)
}

func TestGetIndexStatus_NeverCommitted(t *testing.T) {
	s, _ := newTestServer(t, 1)

	result, err := s.handleGetIndexStatus(context.Background(), callRequest(nil))
	require.NoError(t, err)
	idx := decodeResult[map[string]interface{}](t, result)
	assert.Equal(t, false, idx["indexed"])
	assert.NotEmpty(t, idx["message"])
}

func TestGetStringSlice(t *testing.T) {
	args := map[string]interface{}{
		"list":   []interface{}{"a", 3, "", "b"},
		"single": "c",
		"typed":  []string{"d"},
	}
	assert.Equal(t, []string{"a", "b"}, getStringSlice(args, "list"))
	assert.Equal(t, []string{"c"}, getStringSlice(args, "single"))
	assert.Equal(t, []string{"d"}, getStringSlice(args, "typed"))
	assert.Nil(t, getStringSlice(args, "missing"))
}
