// Package hub composes the registry, state cache, dispatcher and chunk server
// into the service agents connect to and callers issue commands through.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/remote-agent-hub/backend/internal/chunk"
	"github.com/remote-agent-hub/backend/internal/dispatch"
	"github.com/remote-agent-hub/backend/internal/model"
	"github.com/remote-agent-hub/backend/internal/registry"
	"github.com/remote-agent-hub/backend/internal/state"
	"github.com/remote-agent-hub/backend/internal/ws"
)

const malformedReply = "Invalid message format. Please send valid JSON."

// Journal records agent connections. The SQLite connection repository
// implements it; a nil Journal disables recording.
type Journal interface {
	Create(ctx context.Context, rec *model.ConnectionRecord) error
	MarkClosed(ctx context.Context, id int64, reason string, at time.Time) error
}

// Config holds configuration for the hub.
type Config struct {
	SendQueueSize        int
	PingPeriod           time.Duration
	BroadcastConcurrency int
	DefaultChunkSize     int
	// InboxSize bounds how many unhandled envelopes are kept per agent.
	InboxSize int
}

// Hub owns every agent connection and the command surface used to drive them.
type Hub struct {
	registry   *registry.Registry
	states     *state.Cache
	dispatcher *dispatch.Dispatcher
	chunks     *chunk.Server
	inbox      *inbox
	journal    Journal
	logger     *slog.Logger
	config     Config

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup

	// afterConnect runs right after an agent is registered. Tests use it to
	// interleave reconnects and shutdowns.
	afterConnect func(agentID string)
}

// New creates a Hub. journal may be nil.
func New(config Config, journal Journal, logger *slog.Logger) *Hub {
	if config.DefaultChunkSize <= 0 {
		config.DefaultChunkSize = chunk.DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New()
	states := state.NewCache()
	return &Hub{
		registry:   reg,
		states:     states,
		dispatcher: dispatch.New(reg, logger, dispatch.Options{Concurrency: config.BroadcastConcurrency}),
		chunks:     chunk.NewServer(states),
		inbox:      newInbox(config.InboxSize),
		journal:    journal,
		logger:     logger.With("component", "hub"),
		config:     config,
	}
}

// Registry returns the hub's registry.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// States returns the hub's state cache.
func (h *Hub) States() *state.Cache {
	return h.states
}

// ConnectRequest describes an accepted transport connection.
type ConnectRequest struct {
	// AgentID is the requested identity; empty asks the hub to generate one.
	AgentID    string
	Addressing model.Addressing
	RemoteAddr string
}

// Serve runs one agent connection until it ends: it registers the agent,
// announces its identity, then processes inbound frames strictly in
// arrival order. It returns once the agent is disconnected.
func (h *Hub) Serve(ctx context.Context, conn ws.Conn, req ConnectRequest) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	client := ws.NewClient(conn, ws.ClientOptions{
		QueueSize:  h.config.SendQueueSize,
		PingPeriod: h.config.PingPeriod,
	})

	agentID, replaced := h.registry.Connect(req.AgentID, client)
	if h.afterConnect != nil {
		h.afterConnect(agentID)
	}
	log := h.logger.With("agent", agentID)
	if replaced != nil {
		replaced.Close()
		log.Warn("agent reconnected, previous connection replaced")
	}
	log.Info("agent connected", "addressing", req.Addressing, "remote", req.RemoteAddr, "status", model.AgentStatusActive)

	rec := h.recordConnect(ctx, agentID, req)

	reason := model.CloseReasonEvicted
	defer func() {
		if h.registry.Release(agentID, client) {
			reason = model.CloseReasonDisconnected
			if h.isClosing() {
				reason = model.CloseReasonShutdown
			}
		}
		client.Close()
		h.recordClose(ctx, rec, reason)
		log.Info("agent disconnected", "reason", reason, "status", model.AgentStatusDisconnected)
	}()

	// Close may have snapshotted the registry before this agent was added.
	if h.isClosing() {
		return
	}

	// The welcome is written to this connection even if a newer one has
	// already taken over the identity.
	if err := sendDirect(client, model.MessageTypeSystem, welcomeText(agentID, req.Addressing)); err != nil {
		log.Warn("failed to send welcome", "error", err)
		return
	}

	for {
		frame, err := client.Receive()
		if err != nil {
			if ws.IsUnexpectedClose(err) {
				log.Warn("websocket error", "error", err)
			}
			return
		}
		h.handleFrame(ctx, agentID, frame)
	}
}

func welcomeText(agentID string, addressing model.Addressing) string {
	if addressing == model.AddressingGenerated {
		return "Connected successfully. Your client ID is: " + agentID
	}
	return "Connected successfully. Tab ID: " + agentID
}

// handleFrame processes one inbound frame. Malformed frames are answered
// with an error envelope; the loop always continues.
func (h *Hub) handleFrame(ctx context.Context, agentID string, frame []byte) {
	env, err := model.DecodeEnvelope(frame)
	if err != nil {
		h.rejectFrame(ctx, agentID, err)
		return
	}

	switch env.Type {
	case model.MessageTypeUpdateState:
		url, content, err := env.StateUpdate()
		if err != nil {
			h.rejectFrame(ctx, agentID, err)
			return
		}
		h.states.Update(agentID, url, content)
		h.logger.Debug("state updated", "agent", agentID, "url", deref(url), "content_len", len(deref(content)))
	default:
		h.inbox.push(agentID, env)
		h.logger.Debug("message kept in inbox", "agent", agentID, "type", env.Type)
	}
}

func (h *Hub) rejectFrame(ctx context.Context, agentID string, err error) {
	h.logger.Warn("invalid message", "agent", agentID, "error", err)
	h.sendError(ctx, agentID, malformedReply+" "+err.Error())
}

func sendDirect(client *ws.Client, msgType model.MessageType, text string) error {
	env, err := model.NewEnvelope(msgType, text)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return client.Send(data)
}

func (h *Hub) sendError(ctx context.Context, agentID, text string) {
	env, err := model.NewEnvelope(model.MessageTypeError, text)
	if err != nil {
		return
	}
	if err := h.dispatcher.SendTo(ctx, agentID, env); err != nil && !errors.Is(err, model.ErrAgentNotFound) {
		h.logger.Warn("failed to send error envelope", "agent", agentID, "error", err)
	}
}

func (h *Hub) recordConnect(ctx context.Context, agentID string, req ConnectRequest) *model.ConnectionRecord {
	if h.journal == nil {
		return nil
	}
	rec := &model.ConnectionRecord{
		AgentID:     agentID,
		RemoteAddr:  req.RemoteAddr,
		Addressing:  req.Addressing,
		Status:      model.AgentStatusActive,
		ConnectedAt: time.Now(),
	}
	if err := h.journal.Create(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Warn("failed to journal connection", "agent", agentID, "error", err)
		return nil
	}
	return rec
}

func (h *Hub) recordClose(ctx context.Context, rec *model.ConnectionRecord, reason string) {
	if h.journal == nil || rec == nil {
		return
	}
	if err := h.journal.MarkClosed(context.WithoutCancel(ctx), rec.ID, reason, time.Now()); err != nil {
		h.logger.Warn("failed to journal disconnect", "agent", rec.AgentID, "error", err)
	}
}

// Agents lists every registered agent.
func (h *Hub) Agents() []model.AgentInfo {
	entries := h.registry.SnapshotActive()
	infos := make([]model.AgentInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, model.AgentInfo{
			ID:          e.ID,
			Groups:      h.registry.GroupsOf(e.ID),
			ConnectedAt: e.ConnectedAt,
			HasState:    h.states.Has(e.ID),
		})
	}
	return infos
}

// State returns the last state agentID reported.
func (h *Hub) State(agentID string) (model.DocumentState, error) {
	if agentID == "" {
		return model.DocumentState{}, fmt.Errorf("%w: agent id", model.ErrMissingRequiredArgument)
	}
	return h.states.Get(agentID)
}

// AddToGroup adds a registered agent to group.
func (h *Hub) AddToGroup(group, agentID string) error {
	if group == "" || agentID == "" {
		return fmt.Errorf("%w: group and agent id", model.ErrMissingRequiredArgument)
	}
	return h.registry.AddToGroup(group, agentID)
}

// RemoveFromGroup removes agentID from group.
func (h *Hub) RemoveFromGroup(group, agentID string) error {
	if group == "" || agentID == "" {
		return fmt.Errorf("%w: group and agent id", model.ErrMissingRequiredArgument)
	}
	h.registry.RemoveFromGroup(group, agentID)
	return nil
}

// Groups returns the names of every group created so far.
func (h *Hub) Groups() []string {
	groups := h.registry.Groups()
	if groups == nil {
		groups = []string{}
	}
	return groups
}

// GroupMembers returns the members of group.
func (h *Hub) GroupMembers(group string) ([]string, error) {
	return h.registry.GroupMembers(group)
}

// Close disconnects every agent and waits for their receive loops to end.
// Connections accepted afterwards are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	for _, e := range h.registry.SnapshotActive() {
		e.Handle.Close()
	}
	h.wg.Wait()
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
