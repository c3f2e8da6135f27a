package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/massindex/internal/runs"
	"github.com/dshills/massindex/internal/searcher"
	"github.com/dshills/massindex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeRunNotFound        = -32001 // No run with the given id
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleStartReindex handles the start_reindex tool invocation
func (s *Server) handleStartReindex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	req := runs.Request{
		Types:               getStringSlice(args, "types"),
		PurgeOnStart:        getOptionalBool(args, "purge_on_start"),
		DropAndCreateSchema: getOptionalBool(args, "drop_and_create_schema"),
		MergeOnFinish:       getOptionalBool(args, "merge_on_finish"),
	}
	if _, ok := args["objects_limit"]; ok {
		limit := int64(getIntDefault(args, "objects_limit", 0))
		req.ObjectsLimit = &limit
	}

	status, err := s.manager.Start(req)
	if err != nil {
		return nil, runError(err)
	}

	if getBoolDefault(args, "wait", false) {
		run, err := s.manager.Run(status.ID)
		if err != nil {
			return nil, runError(err)
		}
		if _, err := run.Wait(ctx); err != nil && ctx.Err() != nil {
			// The run goes on; the caller can poll get_run_status.
			s.logger.Warn("stopped waiting for run", slog.String("run_id", status.ID), slog.String("error", ctx.Err().Error()))
		}
		if status, err = s.manager.Get(status.ID); err != nil {
			return nil, runError(err)
		}
	}

	return mcp.NewToolResultText(formatJSON(status)), nil
}

// handleGetRunStatus handles the get_run_status tool invocation
func (s *Server) handleGetRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	runID := getStringDefault(args, "run_id", "")
	if runID == "" {
		list := s.manager.List()
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"active": s.manager.Active(),
			"runs":   list,
			"total":  len(list),
		})), nil
	}

	status, err := s.manager.Get(runID)
	if err != nil {
		return nil, runError(err)
	}
	return mcp.NewToolResultText(formatJSON(status)), nil
}

// handleCancelRun handles the cancel_run tool invocation
func (s *Server) handleCancelRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "run_id parameter is required", map[string]interface{}{
			"param":  "run_id",
			"reason": "missing or empty",
		})
	}

	status, err := s.manager.Cancel(runID)
	if err != nil {
		return nil, runError(err)
	}
	return mcp.NewToolResultText(formatJSON(status)), nil
}

// handleSearchIndex handles the search_index tool invocation
func (s *Server) handleSearchIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Types:    getStringSlice(args, "types"),
		Limit:    limit,
		UseCache: true,
	})
	if err != nil {
		if errors.Is(err, searcher.ErrInvalidRequest) {
			return nil, newMCPError(ErrorCodeEmptyQuery, err.Error(), map[string]interface{}{
				"param": "query",
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"query":       query,
		"results":     resp.Hits,
		"total":       resp.Total,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	})), nil
}

// handleGetIndexStatus handles the get_index_status tool invocation
func (s *Server) handleGetIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.index.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get index status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed": status.Commits > 0,
		"status":  status,
	}
	if status.Commits == 0 {
		response["message"] = "Index never committed. Use start_reindex to build it."
	}
	if active := s.manager.Active(); active != "" {
		response["active_run"] = active
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// runError maps run manager errors to MCP errors.
func runError(err error) error {
	switch {
	case errors.Is(err, types.ErrRunInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "a reindexing run is already in progress", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, runs.ErrRunNotFound):
		return newMCPError(ErrorCodeRunNotFound, "run not found", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, types.ErrUnknownType), errors.Is(err, types.ErrInvalidConfig):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, "run failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// arguments returns the tool arguments; absent arguments are empty.
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getOptionalBool returns nil when the parameter is absent
func getOptionalBool(args map[string]interface{}, key string) *bool {
	if val, ok := args[key].(bool); ok {
		return &val
	}
	return nil
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter, skipping non-strings
func getStringSlice(args map[string]interface{}, key string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if val != "" {
			return []string{val}
		}
	}
	return nil
}
