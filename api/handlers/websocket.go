package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-hub/backend/internal/hub"
	"github.com/remote-agent-hub/backend/internal/model"
	"github.com/remote-agent-hub/backend/internal/ws"
)

// WebSocketOptions selects which agent endpoints are served.
type WebSocketOptions struct {
	// PathIdentity serves /mcp/:agent_id.
	PathIdentity bool
	// GeneratedIdentity serves /mcp.
	GeneratedIdentity bool
	// DefaultAgentID, when set, binds every /mcp connection to this identity.
	DefaultAgentID string
	Conn           ws.ConnOptions
}

// WebSocketHandler accepts agent connections and hands them to the hub.
type WebSocketHandler struct {
	hub  *hub.Hub
	opts WebSocketOptions
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(h *hub.Hub, opts WebSocketOptions) *WebSocketHandler {
	return &WebSocketHandler{
		hub:  h,
		opts: opts,
	}
}

// ConnectWithID handles WS /mcp/:agent_id - the agent chooses its identity.
func (h *WebSocketHandler) ConnectWithID(c *gin.Context) {
	agentID := c.Param("agent_id")
	if agentID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Agent ID is required")
		return
	}
	h.serve(c, agentID, model.AddressingPath)
}

// Connect handles WS /mcp - the hub assigns the identity, or uses the
// configured fixed one.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if h.opts.DefaultAgentID != "" {
		h.serve(c, h.opts.DefaultAgentID, model.AddressingFixed)
		return
	}
	h.serve(c, "", model.AddressingGenerated)
}

func (h *WebSocketHandler) serve(c *gin.Context, agentID string, addressing model.Addressing) {
	conn, err := ws.Upgrade(c.Writer, c.Request, h.opts.Conn)
	if err != nil {
		// The upgrader has already replied.
		return
	}
	h.hub.Serve(c.Request.Context(), conn, hub.ConnectRequest{
		AgentID:    agentID,
		Addressing: addressing,
		RemoteAddr: c.ClientIP(),
	})
}

// RegisterRoutes registers the enabled agent endpoints on a Gin router.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRouter) {
	if h.opts.GeneratedIdentity {
		r.GET("/mcp", h.Connect)
	}
	if h.opts.PathIdentity {
		r.GET("/mcp/:agent_id", h.ConnectWithID)
	}
}
