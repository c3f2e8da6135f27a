package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/massindex/internal/searcher"
)

// startReindexTool returns the tool definition for start_reindex
func startReindexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "start_reindex",
		Description: "Rebuild the search index from the system of record, for every configured type or a selection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"types": map[string]interface{}{
					"type":        "array",
					"description": "Glob patterns selecting the types to reindex (default: all configured types)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"objects_limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of records indexed per type group, 0 for no limit",
					"minimum":     0,
				},
				"purge_on_start": map[string]interface{}{
					"type":        "boolean",
					"description": "Remove the selected types from the index before reindexing",
				},
				"drop_and_create_schema": map[string]interface{}{
					"type":        "boolean",
					"description": "Drop and recreate the whole index schema before reindexing",
				},
				"merge_on_finish": map[string]interface{}{
					"type":        "boolean",
					"description": "Optimize the index after the final commit",
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, return only once the run has finished",
					"default":     false,
				},
			},
		},
	}
}

// getRunStatusTool returns the tool definition for get_run_status
func getRunStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_run_status",
		Description: "Report the state, progress and failures of a reindexing run, or list recent runs",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Run identifier returned by start_reindex; omit to list recent runs",
				},
			},
		},
	}
}

// cancelRunTool returns the tool definition for cancel_run
func cancelRunTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_run",
		Description: "Cancel a reindexing run; nothing is committed for a cancelled run",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Run identifier returned by start_reindex",
				},
			},
			Required: []string{"run_id"},
		},
	}
}

// searchIndexTool returns the tool definition for search_index
func searchIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_index",
		Description: "Keyword search over the committed index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Keywords to search for",
				},
				"types": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these indexed types",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getIndexStatusTool returns the tool definition for get_index_status
func getIndexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_index_status",
		Description: "Documents per type, commits and schema version of the index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
