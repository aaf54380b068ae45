// Package mcp provides a Model Context Protocol server for Agora.
//
// It exposes the clustering engine (eligibility checks, landscape
// computation, job queue management) as MCP tools, and queue/database
// statistics as MCP resources. Supports stdio transport for agent
// hosts and optional HTTP+SSE transport for remote access.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/civitas-io/agora/internal/engine"
	"github.com/civitas-io/agora/internal/queue"
	"github.com/civitas-io/agora/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   store.Store
	Engine  *engine.Engine
	Queue   *queue.Service
	Version string // version string for MCP server info
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines.
// SQLite (even with WAL) supports only one writer at a time, and the
// queue's claim/transition updates must not interleave with compute
// runs triggered from another tool call.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all Agora tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Agora",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerEligibilityTool(s, cfg.Engine)
	registerComputeTool(s, cfg.Engine)
	registerLandscapeTool(s, cfg.Engine)
	registerEnqueueTool(s, cfg.Queue)
	registerQueueStatsTool(s, cfg.Queue)
	registerProcessQueueTool(s, cfg.Queue)

	registerStatsResource(s, cfg.Store)
	registerQueueResource(s, cfg.Queue)

	return s
}

// --- Tools ---

func registerEligibilityTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("agora_eligibility",
		mcp.WithDescription("Check whether a poll has enough participation to be clustered (minimum voting users and approved statements). Returns the counts and, when ineligible, a human-readable reason."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("poll_id",
			mcp.Required(),
			mcp.Description("ID of the poll to check"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		pollID, err := req.RequireString("poll_id")
		if err != nil || strings.TrimSpace(pollID) == "" {
			return mcp.NewToolResultError("poll_id is required"), nil
		}

		elig, err := eng.IsEligible(ctx, pollID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("eligibility error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(elig, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerComputeTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("agora_compute",
		mcp.WithDescription("Run the full opinion landscape pipeline for a poll synchronously: vote matrix, PCA projection, two-stage clustering, statement classification, and coalition analysis. Persists a snapshot. For background processing use agora_enqueue instead."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("poll_id",
			mcp.Required(),
			mcp.Description("ID of the poll to cluster"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		pollID, err := req.RequireString("poll_id")
		if err != nil || strings.TrimSpace(pollID) == "" {
			return mcp.NewToolResultError("poll_id is required"), nil
		}

		landscape, err := eng.ComputeLandscape(ctx, pollID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("compute error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(landscape, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerLandscapeTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("agora_landscape",
		mcp.WithDescription("Fetch the most recently computed opinion landscape for a poll without recomputing. Served from the in-memory cache when fresh, otherwise from the latest persisted snapshot."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("poll_id",
			mcp.Required(),
			mcp.Description("ID of the poll"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		pollID, err := req.RequireString("poll_id")
		if err != nil || strings.TrimSpace(pollID) == "" {
			return mcp.NewToolResultError("poll_id is required"), nil
		}

		landscape, err := eng.LatestLandscape(ctx, pollID)
		if errors.Is(err, store.ErrNoSnapshot) {
			return mcp.NewToolResultError(fmt.Sprintf("no landscape computed yet for poll %s", pollID)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("landscape error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(landscape, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerEnqueueTool(s *server.MCPServer, svc *queue.Service) {
	tool := mcp.NewTool("agora_enqueue",
		mcp.WithDescription("Enqueue a background clustering job for a poll. Deduplicates: a poll with a pending or processing job is not enqueued twice."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("poll_id",
			mcp.Required(),
			mcp.Description("ID of the poll to enqueue"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		pollID, err := req.RequireString("poll_id")
		if err != nil || strings.TrimSpace(pollID) == "" {
			return mcp.NewToolResultError("poll_id is required"), nil
		}

		enqueued, err := svc.Enqueue(ctx, pollID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("enqueue error: %v", err)), nil
		}

		result := map[string]interface{}{
			"poll_id":  pollID,
			"enqueued": enqueued,
		}
		if !enqueued {
			result["message"] = "a job for this poll is already pending or processing"
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerQueueStatsTool(s *server.MCPServer, svc *queue.Service) {
	tool := mcp.NewTool("agora_queue_stats",
		mcp.WithDescription("Get clustering job queue statistics: counts of pending, processing, completed, and failed jobs."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := svc.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("queue stats error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerProcessQueueTool(s *server.MCPServer, svc *queue.Service) {
	tool := mcp.NewTool("agora_process_queue",
		mcp.WithDescription("Drain pending clustering jobs. Each job runs the full pipeline; failed computations are retried up to the job's attempt budget. Returns a processing report."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("max_jobs",
			mcp.Description("Maximum number of jobs to process (default: all pending)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		maxJobs := 0
		if v, err := req.RequireFloat("max_jobs"); err == nil && v > 0 {
			maxJobs = int(v)
		}

		report, err := svc.ProcessQueue(ctx, maxJobs)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("queue processing error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(report, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}
