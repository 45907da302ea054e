// Package mcp exposes the pipeline as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/danielolaszy/autopr/pkg/models"
)

// Pipeline is the subset of the orchestrator the tools call.
type Pipeline interface {
	Refresh(ctx context.Context) ([]models.ProcessingResult, error)
	GetAll(ctx context.Context) ([]models.ProcessingResult, error)
	FindByNumber(ctx context.Context, number int) (models.ProcessingResult, error)
	ProcessOne(ctx context.Context, issueID int64) (models.ProcessingResult, error)
}

// Server wraps the pipeline and exposes it as MCP tools.
type Server struct {
	pipeline Pipeline
	version  string
}

// NewServer creates the MCP server wrapper.
func NewServer(p Pipeline, version string) *Server {
	return &Server{pipeline: p, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("autopr", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.refreshTool())
	srv.AddTool(s.listTool())
	srv.AddTool(s.processTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// autopr_refresh
func (s *Server) refreshTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autopr_refresh",
		mcp.WithDescription("Fetch open issues and record new ones as pending. Returns a JSON array of all processing results."),
	)
	return tool, s.handleRefresh
}

func (s *Server) handleRefresh(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	results, err := s.pipeline.Refresh(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to refresh issues: %v", err)), nil
	}
	return jsonResult(results)
}

// autopr_list
func (s *Server) listTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autopr_list",
		mcp.WithDescription("List processing results without contacting any backend. Returns a JSON array ordered by issue ID."),
		mcp.WithString("status",
			mcp.Description("Filter by status"),
			mcp.Enum(string(models.StatusPending), string(models.StatusProcessing), string(models.StatusCompleted), string(models.StatusFailed)),
		),
	)
	return tool, s.handleList
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := models.Status(request.GetString("status", ""))
	if status != "" && !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", status)), nil
	}

	results, err := s.pipeline.GetAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list results: %v", err)), nil
	}

	out := make([]models.ProcessingResult, 0, len(results))
	for _, r := range results {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return jsonResult(out)
}

// autopr_process
func (s *Server) processTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("autopr_process",
		mcp.WithDescription("Generate a fix for one tracked issue and open a pull request. Returns the resulting processing result as JSON."),
		mcp.WithNumber("number", mcp.Required(), mcp.Description("Issue number as shown by autopr_list")),
	)
	return tool, s.handleProcess
}

func (s *Server) handleProcess(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number, err := request.RequireInt("number")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	found, err := s.pipeline.FindByNumber(ctx, number)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pipeline.ProcessOne(ctx, found.Issue.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("processing issue %s failed: %v", found.Issue.Reference(), err)), nil
	}
	return jsonResult(result)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
