package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-hub/backend/internal/hub"
	"github.com/remote-agent-hub/backend/internal/model"
)

// HistoryLister reads the connection journal.
type HistoryLister interface {
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*model.ConnectionRecord, error)
}

// AgentHandler handles HTTP requests for agents, groups and commands.
type AgentHandler struct {
	hub     *hub.Hub
	history HistoryLister
}

// NewAgentHandler creates a new AgentHandler. history may be nil when the
// journal is disabled.
func NewAgentHandler(h *hub.Hub, history HistoryLister) *AgentHandler {
	return &AgentHandler{
		hub:     h,
		history: history,
	}
}

// CommandRequest is the body of POST /api/commands/:action. Which fields
// are read depends on the action.
type CommandRequest struct {
	AgentID  string         `json:"agent_id"`
	Group    string         `json:"group"`
	All      bool           `json:"all"`
	Exclude  string         `json:"exclude"`
	URL      string         `json:"url"`
	Selector string         `json:"selector"`
	Text     string         `json:"text"`
	FormData map[string]any `json:"form_data"`
	Timeout  int            `json:"timeout"`
	Color    string         `json:"color"`
}

func (r CommandRequest) target() hub.Target {
	return hub.Target{AgentID: r.AgentID, Group: r.Group, All: r.All, Exclude: r.Exclude}
}

// ConnectionResponse represents a journal entry in API responses.
type ConnectionResponse struct {
	ID             int64  `json:"id"`
	AgentID        string `json:"agentId"`
	RemoteAddr     string `json:"remoteAddr,omitempty"`
	Addressing     string `json:"addressing"`
	Status         string `json:"status"`
	CloseReason    string `json:"closeReason,omitempty"`
	Duration       string `json:"duration"`
	ConnectedAt    string `json:"connectedAt"`
	DisconnectedAt string `json:"disconnectedAt,omitempty"`
}

func toConnectionResponse(rec *model.ConnectionRecord) *ConnectionResponse {
	resp := &ConnectionResponse{
		ID:          rec.ID,
		AgentID:     rec.AgentID,
		RemoteAddr:  rec.RemoteAddr,
		Addressing:  string(rec.Addressing),
		Status:      string(rec.Status),
		CloseReason: rec.CloseReason,
		Duration:    rec.Duration().Round(time.Second).String(),
		ConnectedAt: rec.ConnectedAt.Format(time.RFC3339),
	}
	if rec.DisconnectedAt != nil {
		resp.DisconnectedAt = rec.DisconnectedAt.Format(time.RFC3339)
	}
	return resp
}

// List handles GET /api/agents - lists connected agents.
func (h *AgentHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": h.hub.Agents()})
}

// State handles GET /api/agents/:id/state - the agent's last reported state.
func (h *AgentHandler) State(c *gin.Context) {
	st, err := h.hub.State(c.Param("id"))
	if err != nil {
		sendHubError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Content handles GET /api/agents/:id/content - one chunk of the agent's content.
func (h *AgentHandler) Content(c *gin.Context) {
	size, err := queryInt(c, "chunk_size", h.hub.DefaultChunkSize())
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid chunk_size: "+err.Error())
		return
	}
	number, err := queryInt(c, "chunk_number", 1)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid chunk_number: "+err.Error())
		return
	}

	res := h.hub.Content(c.Param("id"), size, number)
	if res.Error != nil {
		sendError(c, statusForDetail(res.Error), res.Error.Code, res.Error.Message)
		return
	}
	c.JSON(http.StatusOK, res.Chunk)
}

// Messages handles GET /api/agents/:id/messages - the agent's recent unhandled messages.
func (h *AgentHandler) Messages(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid limit: "+err.Error())
		return
	}
	msgs, err := h.hub.Messages(c.Param("id"), limit)
	if err != nil {
		sendHubError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// ClearMessages handles DELETE /api/agents/:id/messages - drops the agent's kept messages.
func (h *AgentHandler) ClearMessages(c *gin.Context) {
	if err := h.hub.ClearMessages(c.Param("id")); err != nil {
		sendHubError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// History handles GET /api/agents/:id/history - the agent's recent connections.
func (h *AgentHandler) History(c *gin.Context) {
	if h.history == nil {
		sendError(c, http.StatusNotFound, "JOURNAL_DISABLED", "Connection journal is disabled")
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid limit: "+err.Error())
		return
	}

	records, err := h.history.ListByAgent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list connections: "+err.Error())
		return
	}

	response := make([]*ConnectionResponse, len(records))
	for i, rec := range records {
		response[i] = toConnectionResponse(rec)
	}
	c.JSON(http.StatusOK, response)
}

// Command handles POST /api/commands/:action - issues one command.
func (h *AgentHandler) Command(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	t := req.target()

	var res hub.CommandResult
	switch action := c.Param("action"); action {
	case "navigate":
		res = h.hub.Navigate(ctx, t, req.URL)
	case "click":
		res = h.hub.Click(ctx, t, req.Selector)
	case "type":
		res = h.hub.TypeText(ctx, t, req.Selector, req.Text)
	case "fill-form":
		res = h.hub.FillForm(ctx, t, req.FormData)
	case "wait":
		res = h.hub.WaitForElement(ctx, t, req.Selector, req.Timeout)
	case "extract-table":
		res = h.hub.ExtractTable(ctx, t, req.Selector)
	case "screenshot":
		res = h.hub.TakeScreenshot(ctx, t, req.Selector)
	case "element-info":
		res = h.hub.GetElementInfo(ctx, t, req.Selector)
	case "background":
		res = h.hub.ChangeBackground(ctx, t, req.Color)
	default:
		sendError(c, http.StatusNotFound, "UNKNOWN_COMMAND", "Unknown command "+action)
		return
	}

	status := http.StatusOK
	if !res.Success && res.Error != nil {
		status = statusForDetail(res.Error)
	}
	c.JSON(status, res)
}

// Groups handles GET /api/groups - lists every group name.
func (h *AgentHandler) Groups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": h.hub.Groups()})
}

// GroupMembers handles GET /api/groups/:group - lists the group's members.
func (h *AgentHandler) GroupMembers(c *gin.Context) {
	group := c.Param("group")
	members, err := h.hub.GroupMembers(group)
	if err != nil {
		sendHubError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group, "members": members})
}

// Join handles PUT /api/groups/:group/members/:id - adds an agent to a group.
func (h *AgentHandler) Join(c *gin.Context) {
	if err := h.hub.AddToGroup(c.Param("group"), c.Param("id")); err != nil {
		sendHubError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Leave handles DELETE /api/groups/:group/members/:id - removes an agent from a group.
func (h *AgentHandler) Leave(c *gin.Context) {
	if err := h.hub.RemoveFromGroup(c.Param("group"), c.Param("id")); err != nil {
		sendHubError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the agent handler routes on a Gin router group.
func (h *AgentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.GET("", h.List)
		agents.GET("/:id/state", h.State)
		agents.GET("/:id/content", h.Content)
		agents.GET("/:id/messages", h.Messages)
		agents.DELETE("/:id/messages", h.ClearMessages)
		agents.GET("/:id/history", h.History)
	}

	rg.POST("/commands/:action", h.Command)

	groups := rg.Group("/groups")
	{
		groups.GET("", h.Groups)
		groups.GET("/:group", h.GroupMembers)
		groups.PUT("/:group/members/:id", h.Join)
		groups.DELETE("/:group/members/:id", h.Leave)
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
