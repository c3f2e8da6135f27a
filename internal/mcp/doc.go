// Package mcp implements the Model Context Protocol (MCP) server for massindex.
//
// The MCP server exposes reindexing and search to AI assistants:
//   - start_reindex: Start a mass indexing run over all or some types
//   - get_run_status: Progress, failures and final report of a run
//   - cancel_run: Cancel a running run
//   - search_index: Keyword search over the committed index
//   - get_index_status: Documents per type and commit history
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the mcp command:
//
//	massindex mcp --config massindex.toml
//
// # Tool: start_reindex
//
// Runs are asynchronous. Without "wait" the tool returns as soon as the run
// is registered:
//
//	Request:
//	{
//	  "name": "start_reindex",
//	  "arguments": {
//	    "types": ["Book", "catalog/*"],
//	    "objects_limit": 1000,
//	    "wait": false
//	  }
//	}
//
//	Response:
//	{
//	  "id": "0b0c5c1e-...",
//	  "state": "INIT",
//	  "types": ["Book", "catalog/Magazine"],
//	  "progress": {"total": 0, "indexed": 0, ...}
//	}
//
// Only one run may be active. A second start_reindex fails with
// -32002 until the first one has finished.
//
// # Tool: get_run_status
//
// With a run_id the tool returns the same status object, including the
// final report and the failure summary once the run has finished. Without
// one it lists recent runs and the active run id.
//
// # Tool: search_index
//
//	Request:
//	{
//	  "name": "search_index",
//	  "arguments": {"query": "distributed systems", "types": ["Book"], "limit": 10}
//	}
//
//	Response:
//	{
//	  "query": "distributed systems",
//	  "results": [{"type": "Book", "id": "42", "title": "...", "snippet": "...", "score": 7.1}],
//	  "total": 1
//	}
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments, unknown type)
//   - -32603: Internal error (database, index)
//   - -32001: Run not found
//   - -32002: Indexing in progress
//   - -32004: Empty query
//
// # Logging
//
// The MCP server logs to stderr; stdout is reserved for the protocol.
package mcp
