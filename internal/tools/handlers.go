package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/remote-agent-hub/backend/internal/model"
)

func (t *toolset) listAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"agents": t.hub.Agents()}, false)
}

func (t *toolset) getState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.hub.State(req.GetString("agent_id", ""))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(st, false)
}

func (t *toolset) getContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := t.hub.Content(
		req.GetString("agent_id", ""),
		req.GetInt("chunk_size", t.hub.DefaultChunkSize()),
		req.GetInt("chunk_number", 1),
	)
	return jsonResult(res, res.Error != nil)
}

func (t *toolset) getMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msgs, err := t.hub.Messages(req.GetString("agent_id", ""), req.GetInt("limit", 0))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"messages": msgs}, false)
}

func (t *toolset) clearMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if err := t.hub.ClearMessages(agentID); err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"success": true, "message": "Cleared messages of " + agentID}, false)
}

func (t *toolset) navigateTo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return commandResult(t.hub.Navigate(ctx, targetOf(req), req.GetString("url", "")))
}

func (t *toolset) clickElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return commandResult(t.hub.Click(ctx, targetOf(req), req.GetString("selector", "")))
}

func (t *toolset) typeText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return commandResult(t.hub.TypeText(ctx, targetOf(req), req.GetString("selector", ""), req.GetString("text", "")))
}

func (t *toolset) fillForm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formData, ok := req.GetArguments()["form_data"].(map[string]any)
	if !ok {
		return errorResult(fmt.Errorf("%w: form_data must be an object", model.ErrMissingRequiredArgument))
	}
	return commandResult(t.hub.FillForm(ctx, targetOf(req), formData))
}

func (t *toolset) waitForElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return commandResult(t.hub.WaitForElement(ctx, targetOf(req), req.GetString("selector", ""), req.GetInt("timeout", 0)))
}

func (t *toolset) extractTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return commandResult(t.hub.ExtractTable(ctx, targetOf(req), req.GetString("selector", "")))
}

func (t *toolset) takeScreenshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return commandResult(t.hub.TakeScreenshot(ctx, targetOf(req), req.GetString("selector", "")))
}

func (t *toolset) getElementInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return commandResult(t.hub.GetElementInfo(ctx, targetOf(req), req.GetString("selector", "")))
}

func (t *toolset) changeBackground(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return commandResult(t.hub.ChangeBackground(ctx, targetOf(req), req.GetString("color", "")))
}

func (t *toolset) addToGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	group, agentID := req.GetString("group", ""), req.GetString("agent_id", "")
	if err := t.hub.AddToGroup(group, agentID); err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"success": true, "message": fmt.Sprintf("Added %s to group %s", agentID, group)}, false)
}

func (t *toolset) removeFromGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	group, agentID := req.GetString("group", ""), req.GetString("agent_id", "")
	if err := t.hub.RemoveFromGroup(group, agentID); err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"success": true, "message": fmt.Sprintf("Removed %s from group %s", agentID, group)}, false)
}

func (t *toolset) listGroups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"groups": t.hub.Groups()}, false)
}

func (t *toolset) listGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	group := req.GetString("group", "")
	members, err := t.hub.GroupMembers(group)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"group": group, "members": members}, false)
}
