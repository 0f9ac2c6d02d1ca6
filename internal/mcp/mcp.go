// Package mcp implements the Model Context Protocol server for Plume.
//
// The MCP server exposes the contest platform to MCP-compatible AI agents:
// running writer and judge agents, estimating costs, browsing contests,
// and checking credit balances. Tool handlers delegate to the same
// services as the HTTP API, so authorization and settlement behave
// identically on both surfaces.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/plumelit/plume/internal/catalog"
	"github.com/plumelit/plume/internal/service/credits"
	"github.com/plumelit/plume/internal/service/execution"
	"github.com/plumelit/plume/internal/storage"
)

// Server wraps the MCP server with Plume's service layer.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	db           *storage.DB
	executionSvc *execution.Service
	creditsSvc   *credits.Service
	catalog      *catalog.Catalog
	logger       *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(db *storage.DB, executionSvc *execution.Service, creditsSvc *credits.Service, cat *catalog.Catalog, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:           db,
		executionSvc: executionSvc,
		creditsSvc:   creditsSvc,
		catalog:      cat,
		logger:       logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"plume",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// jsonResult marshals v as indented JSON into a text tool result.
func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
