package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/plumelit/plume/internal/ctxutil"
	"github.com/plumelit/plume/internal/model"
)

func (s *Server) registerResources() {
	// plume://models — the model catalog with per-token pricing.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"plume://models",
			"Model Catalog",
			mcplib.WithResourceDescription("Available LLM models with context windows and credit pricing"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleModelsResource,
	)

	// plume://contests/open — contests currently accepting submissions.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"plume://contests/open",
			"Open Contests",
			mcplib.WithResourceDescription("Contests currently accepting submissions, visible to the caller"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleOpenContestsResource,
	)
}

func (s *Server) handleModelsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.catalog.List(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal catalog: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "plume://models",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleOpenContestsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	// Without claims (stdio transport, no auth) only publicly listed
	// contests are visible.
	viewerID, isAdmin := uuid.Nil, false
	if p, ok := ctxutil.PrincipalFromContext(ctx); ok {
		viewerID, isAdmin = p.UserID, p.IsAdmin
	}

	status := model.ContestOpen
	contests, err := s.db.ListContests(ctx, viewerID, isAdmin, &status)
	if err != nil {
		return nil, fmt.Errorf("mcp: open contests: %w", err)
	}

	data, err := json.MarshalIndent(contests, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal contests: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "plume://contests/open",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
