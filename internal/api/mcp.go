package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/parity/internal/privileged"
	"github.com/kalambet/parity/internal/state"
)

const itemsResourceURI = "parity://items"

// NewMCPServer creates an MCP server exposing the reconciliation engine as
// tools and a resource.
func NewMCPServer(e Reconciler, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"parity",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("parity reconciles device settings between platform defaults, foreign-platform defaults and the user's own values."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_items",
			mcp.WithDescription("List every configuration item grouped by category, with live value, custom value and current state."),
		),
		mcpListItems(e),
	)

	s.AddTool(
		mcp.NewTool("get_item",
			mcp.WithDescription("Show one configuration item."),
			mcp.WithString("id", mcp.Description("Item id, e.g. animator_duration_scale"), mcp.Required()),
		),
		mcpGetItem(e),
	)

	s.AddTool(
		mcp.NewTool("apply_state",
			mcp.WithDescription("Write the value for a state to the device and remember the state."),
			mcp.WithString("id", mcp.Description("Item id"), mcp.Required()),
			mcp.WithString("state", mcp.Description("PLATFORM_DEFAULT, CUSTOM or FOREIGN_DEFAULT"), mcp.Required()),
		),
		mcpApplyState(e),
	)

	s.AddTool(
		mcp.NewTool("save_custom",
			mcp.WithDescription("Save the item's current live value as its custom value."),
			mcp.WithString("id", mcp.Description("Item id"), mcp.Required()),
		),
		mcpSaveCustom(e),
	)

	s.AddTool(
		mcp.NewTool("set_mode",
			mcp.WithDescription("Choose how privileged commands are run: auto, root, broker or bridge."),
			mcp.WithString("mode", mcp.Description("Backend mode"), mcp.Required()),
		),
		mcpSetMode(e),
	)

	s.AddTool(
		mcp.NewTool("refresh",
			mcp.WithDescription("Re-probe privileged backends and re-read every live value."),
		),
		mcpRefresh(e),
	)

	s.AddResource(
		mcp.NewResource(
			itemsResourceURI,
			"Configuration Items",
			mcp.WithResourceDescription("Every item grouped by category as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceItems(e),
	)

	return s
}

func mcpListItems(e Reconciler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(groupViews(e.Groups())), nil
	}
}

func mcpGetItem(e Reconciler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		rec, ok := e.Record(id)
		if !ok {
			return mcpError(fmt.Sprintf("unknown item %q", id)), nil
		}
		return mcpJSON(itemView(rec)), nil
	}
}

func mcpApplyState(e Reconciler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		raw, err := req.RequireString("state")
		if err != nil {
			return mcpError("state is required"), nil
		}
		target, err := state.ParseState(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := e.Apply(ctx, id, target); err != nil {
			return mcpError(fmt.Sprintf("apply failed: %v", err)), nil
		}
		rec, _ := e.Record(id)
		return mcpJSON(itemView(rec)), nil
	}
}

func mcpSaveCustom(e Reconciler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		if err := e.SaveCurrentAsCustom(ctx, id); err != nil {
			return mcpError(fmt.Sprintf("save failed: %v", err)), nil
		}
		rec, _ := e.Record(id)
		return mcpText(fmt.Sprintf("Saved %s custom value = %s", id, deref(rec.CustomValue))), nil
	}
}

func mcpSetMode(e Reconciler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("mode")
		if err != nil {
			return mcpError("mode is required"), nil
		}
		m, err := privileged.ParseMode(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := e.SetMode(ctx, m); err != nil {
			return mcpError(fmt.Sprintf("set mode failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Backend mode set to %s", m)), nil
	}
}

func mcpRefresh(e Reconciler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := e.Refresh(ctx); err != nil {
			return mcpError(fmt.Sprintf("refresh failed: %v", err)), nil
		}
		return mcpJSON(groupViews(e.Groups())), nil
	}
}

func mcpResourceItems(e Reconciler) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(groupViews(e.Groups()))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal items: %w", err)
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

func deref(s *string) string {
	if s == nil {
		return "(unknown)"
	}
	return *s
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
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
