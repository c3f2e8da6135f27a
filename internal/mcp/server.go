package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/massindex/internal/runs"
	"github.com/dshills/massindex/internal/searcher"
	"github.com/dshills/massindex/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "massindex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// StatusReporter summarizes the committed index.
type StatusReporter interface {
	Status(ctx context.Context) (*storage.IndexStatus, error)
}

// Deps are the services exposed as tools.
type Deps struct {
	Manager  *runs.Manager
	Searcher *searcher.Searcher
	Index    StatusReporter
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	manager  *runs.Manager
	searcher *searcher.Searcher
	index    StatusReporter
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Manager == nil || deps.Searcher == nil || deps.Index == nil {
		return nil, errors.New("mcp server needs a run manager, a searcher and an index")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		manager:  deps.Manager,
		searcher: deps.Searcher,
		index:    deps.Index,
		logger:   deps.Logger,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(startReindexTool(), s.handleStartReindex)
	s.mcp.AddTool(getRunStatusTool(), s.handleGetRunStatus)
	s.mcp.AddTool(cancelRunTool(), s.handleCancelRun)
	s.mcp.AddTool(searchIndexTool(), s.handleSearchIndex)
	s.mcp.AddTool(getIndexStatusTool(), s.handleGetIndexStatus)
}
