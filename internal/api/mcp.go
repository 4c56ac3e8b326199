package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/rankwatch/internal/storage"
	"github.com/kalambet/rankwatch/internal/tracker"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tracker *tracker.Controller
	Store   *storage.Store
}

// NewMCPServer creates an MCP server exposing the operator commands as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"rankwatch",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rankwatch tracks search ranking positions for generated keyword/location queries."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("pipeline_status",
			mcp.WithDescription("Show the submit cursor, last status line, registered ticks and ledger counts."),
		),
		mcpPipelineStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("start_pipeline",
			mcp.WithDescription("Run one submit pass now and install the submit and fetch ticks."),
		),
		mcpStartPipeline(deps),
	)

	s.AddTool(
		mcp.NewTool("stop_schedulers",
			mcp.WithDescription("Remove the submit and fetch ticks. Jobs already submitted are not cancelled."),
		),
		mcpStopSchedulers(deps),
	)

	s.AddTool(
		mcp.NewTool("list_results",
			mcp.WithDescription("List ranking results ordered by source position."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of rows (default 20)")),
			mcp.WithNumber("offset", mcp.Description("Rows to skip")),
		),
		mcpListResults(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"rankwatch://settings",
			"Tick Settings",
			mcp.WithResourceDescription("Current batch size, tick intervals and poll round limit as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSettings(deps),
	)

	return s
}

func mcpPipelineStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Tracker.Status(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read status: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpStartPipeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := deps.Tracker.Start(ctx)
		if errors.Is(err, tracker.ErrConfiguration) {
			return mcpError("provider credentials are not configured; nothing was started"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ticks installed but the first submit pass failed: %v", err)), nil
		}
		if report.Submitted == 0 {
			return mcpText("No work left to submit; fetch tick installed."), nil
		}
		return mcpText(fmt.Sprintf("Submitted %d jobs for positions %d-%d; ticks installed.",
			report.Submitted, report.FirstPosition, report.LastPosition)), nil
	}
}

func mcpStopSchedulers(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Tracker.StopAll(ctx); err != nil {
			return mcpError(fmt.Sprintf("failed to stop ticks: %v", err)), nil
		}
		return mcpText("All ticks stopped."), nil
	}
}

func mcpListResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 500 {
			limit = 500
		}
		offset := req.GetInt("offset", 0)
		if offset < 0 {
			offset = 0
		}

		records, err := deps.Store.ListResults(limit, offset)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list results: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		views := make([]ResultView, len(records))
		for i, r := range records {
			views[i] = newResultView(r)
		}
		return mcpJSON(views)
	}
}

func mcpResourceSettings(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		s, err := tracker.LoadSettings(deps.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}

		b, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
