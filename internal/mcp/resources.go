package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/civitas-io/agora/internal/queue"
	"github.com/civitas-io/agora/internal/store"
)

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"agora://stats",
		"Agora Statistics",
		mcp.WithResourceDescription("Database statistics: poll, statement, vote, snapshot, and job counts plus storage size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading stats resource: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerQueueResource(s *server.MCPServer, svc *queue.Service) {
	resource := mcp.NewResource(
		"agora://queue",
		"Clustering Job Queue",
		mcp.WithResourceDescription("Job counts by status for the background clustering queue."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := svc.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading queue resource: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
