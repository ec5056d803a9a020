// Package tools exposes the hub's command surface as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/remote-agent-hub/backend/internal/hub"
)

// Version is set at build time via ldflags.
var Version = "dev"

const instructions = `This server bridges to browser agents (tabs) connected over WebSocket.
Commands are one-way: a successful result means the command was delivered,
not that it took effect. Confirm effects by reading the agent's state or
content afterwards. Every command targets exactly one of agent_id, group or all.`

// NewServer creates an MCP server with every hub tool registered.
func NewServer(h *hub.Hub) *server.MCPServer {
	s := server.NewMCPServer(
		"agent-hub",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	Register(s, h)
	return s
}

// Register adds every hub tool to s.
func Register(s *server.MCPServer, h *hub.Hub) {
	t := &toolset{hub: h}

	s.AddTool(mcp.NewTool("list_agents",
		mcp.WithDescription("List every connected agent with its groups"),
	), t.listAgents)

	s.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Get the last URL and content reported by an agent"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent")),
	), t.getState)

	s.AddTool(mcp.NewTool("get_content",
		mcp.WithDescription("Get one chunk of the content last reported by an agent"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent")),
		mcp.WithNumber("chunk_size", mcp.Description("Characters per chunk"), mcp.DefaultNumber(float64(h.DefaultChunkSize()))),
		mcp.WithNumber("chunk_number", mcp.Description("1-based chunk number"), mcp.DefaultNumber(1)),
	), t.getContent)

	s.AddTool(mcp.NewTool("get_messages",
		mcp.WithDescription("Get the newest messages an agent sent besides state updates, such as command results"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of messages; 0 returns all kept")),
	), t.getMessages)

	s.AddTool(mcp.NewTool("clear_messages",
		mcp.WithDescription("Drop every message kept for an agent"),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent")),
	), t.clearMessages)

	s.AddTool(commandTool("navigate_to", "Navigate to a URL",
		mcp.WithString("url", mcp.Required(), mcp.Description("URL to load")),
	), t.navigateTo)

	s.AddTool(commandTool("click_element", "Click an element on the page",
		mcp.WithString("selector", mcp.Required(), mcp.Description("CSS selector of the element")),
	), t.clickElement)

	s.AddTool(commandTool("type_text", "Type text into an input element",
		mcp.WithString("selector", mcp.Required(), mcp.Description("CSS selector of the input")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to type")),
	), t.typeText)

	s.AddTool(commandTool("fill_form", "Fill a form with the provided data",
		mcp.WithObject("form_data", mcp.Required(), mcp.Description("Map of CSS selector to value")),
	), t.fillForm)

	s.AddTool(commandTool("wait_for_element", "Wait for an element to appear on the page",
		mcp.WithString("selector", mcp.Required(), mcp.Description("CSS selector to wait for")),
		mcp.WithNumber("timeout", mcp.Description("Maximum wait in milliseconds"), mcp.DefaultNumber(hub.DefaultWaitTimeoutMs)),
	), t.waitForElement)

	s.AddTool(commandTool("extract_table", "Extract headers and rows from a table element",
		mcp.WithString("selector", mcp.Required(), mcp.Description("CSS selector of the table")),
	), t.extractTable)

	s.AddTool(commandTool("take_screenshot", "Take a screenshot of the page or of one element",
		mcp.WithString("selector", mcp.Description("Optional CSS selector of the element")),
	), t.takeScreenshot)

	s.AddTool(commandTool("get_element_info", "Get dimensions, styles and visibility of an element",
		mcp.WithString("selector", mcp.Required(), mcp.Description("CSS selector of the element")),
	), t.getElementInfo)

	s.AddTool(commandTool("change_background", "Change the background color of the page",
		mcp.WithString("color", mcp.Description("CSS color"), mcp.DefaultString(hub.DefaultBackgroundColor)),
	), t.changeBackground)

	s.AddTool(mcp.NewTool("add_to_group",
		mcp.WithDescription("Add a connected agent to a group"),
		mcp.WithString("group", mcp.Required(), mcp.Description("Group name")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent")),
	), t.addToGroup)

	s.AddTool(mcp.NewTool("remove_from_group",
		mcp.WithDescription("Remove an agent from a group"),
		mcp.WithString("group", mcp.Required(), mcp.Description("Group name")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the agent")),
	), t.removeFromGroup)

	s.AddTool(mcp.NewTool("list_groups",
		mcp.WithDescription("List the names of every group"),
	), t.listGroups)

	s.AddTool(mcp.NewTool("list_group",
		mcp.WithDescription("List the members of a group"),
		mcp.WithString("group", mcp.Required(), mcp.Description("Group name")),
	), t.listGroup)
}

// commandTool declares a command tool with the shared target arguments.
func commandTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append([]mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithString("agent_id", mcp.Description("ID of the target agent")),
		mcp.WithString("group", mcp.Description("Send to every member of this group instead")),
		mcp.WithBoolean("all", mcp.Description("Send to every connected agent instead")),
		mcp.WithString("exclude", mcp.Description("Agent to skip when sending to a group or to all")),
	}, opts...)
	return mcp.NewTool(name, opts...)
}

// jsonResult marshals v as the tool's text content.
func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if isError {
		return mcp.NewToolResultError(string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"error": hub.NewErrorDetail(err)}, true)
}

func commandResult(res hub.CommandResult) (*mcp.CallToolResult, error) {
	return jsonResult(res, !res.Success)
}

func targetOf(req mcp.CallToolRequest) hub.Target {
	return hub.Target{
		AgentID: req.GetString("agent_id", ""),
		Group:   req.GetString("group", ""),
		All:     req.GetBool("all", false),
		Exclude: req.GetString("exclude", ""),
	}
}

type toolset struct {
	hub *hub.Hub
}

// ServeStdio serves s over in and out until ctx is cancelled or in closes.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	logger.Info("serving MCP over stdio")
	return stdio.Listen(ctx, in, out)
}
