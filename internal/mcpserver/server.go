// Package mcpserver exposes the engine to external proposers over the Model
// Context Protocol. Proposers get exactly the operations the lifecycle
// permits; there is no tool that bypasses validation or the gate.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/changegate/changegate/internal/engine"
	"github.com/changegate/changegate/internal/ledger"
)

// New builds the MCP server over the engine.
func New(eng *engine.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer("changegate", version,
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("propose_change",
		mcp.WithDescription("Propose a modification to a target unit. The change is validated, risk-classified, and either applied, queued for review, or blocked."),
		mcp.WithString("target_path", mcp.Required(), mcp.Description("Target unit path, relative to the content root")),
		mcp.WithString("proposed_content", mcp.Required(), mcp.Description("Full proposed content of the unit")),
		mcp.WithString("test_surface", mcp.Description("Starlark test functions (test_*) pinning the behavior to preserve")),
		mcp.WithString("reason", mcp.Description("Why this change is being proposed")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, err := req.RequireString("target_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := req.RequireString("proposed_content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		res, err := eng.Propose(ctx, ledger.ProposeInput{
			TargetPath:      target,
			ProposedContent: content,
			TestSurface:     req.GetString("test_surface", ""),
			Reason:          req.GetString("reason", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	})

	s.AddTool(mcp.NewTool("get_modification",
		mcp.WithDescription("Fetch one modification record by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Modification id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		m, err := eng.Get(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(m)
	})

	s.AddTool(mcp.NewTool("list_pending",
		mcp.WithDescription("List modifications awaiting external review."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mods, err := eng.ListPending(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(mods)
	})

	s.AddTool(mcp.NewTool("submit_review",
		mcp.WithDescription("Record a reviewer verdict on a pending modification. Approval applies the change immediately."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Modification id")),
		mcp.WithBoolean("approve", mcp.Required(), mcp.Description("true to approve and apply, false to reject")),
		mcp.WithString("reviewer", mcp.Required(), mcp.Description("Reviewer identity")),
		mcp.WithString("note", mcp.Description("Optional review note")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reviewer, err := req.RequireString("reviewer")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		approve, err := req.RequireBool("approve")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		m, err := eng.SubmitReview(ctx, id, approve, reviewer, req.GetString("note", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(m)
	})

	s.AddTool(mcp.NewTool("rollback_change",
		mcp.WithDescription("Roll back an applied modification, restoring the original content verbatim."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Modification id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		m, err := eng.Rollback(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(m)
	})

	return s
}

// ServeStdio runs the MCP server over stdin/stdout until EOF.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
