package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/remote-agent-hub/backend/internal/buffer"
	"github.com/remote-agent-hub/backend/internal/model"
)

const defaultInboxSize = 50

// inbox keeps the most recent unhandled envelopes of each agent. Like the
// state cache, it outlives the connection that filled it.
type inbox struct {
	mu    sync.Mutex
	size  int
	rings map[string]*buffer.Ring[model.InboundMessage]
}

func newInbox(size int) *inbox {
	if size <= 0 {
		size = defaultInboxSize
	}
	return &inbox{size: size, rings: make(map[string]*buffer.Ring[model.InboundMessage])}
}

func (b *inbox) push(agentID string, env *model.Envelope) {
	b.mu.Lock()
	ring, ok := b.rings[agentID]
	if !ok {
		ring = buffer.NewRing[model.InboundMessage](b.size)
		b.rings[agentID] = ring
	}
	b.mu.Unlock()

	ring.Push(model.InboundMessage{AgentID: agentID, Envelope: env, ReceivedAt: time.Now()})
}

func (b *inbox) last(agentID string, n int) []model.InboundMessage {
	b.mu.Lock()
	ring, ok := b.rings[agentID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return ring.Last(n)
}

func (b *inbox) clear(agentID string) {
	b.mu.Lock()
	ring, ok := b.rings[agentID]
	b.mu.Unlock()
	if ok {
		ring.Clear()
	}
}

// Messages returns up to limit of the newest envelopes agentID sent that the
// hub did not act on, oldest first. A non-positive limit returns all kept.
func (h *Hub) Messages(agentID string, limit int) ([]model.InboundMessage, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id", model.ErrMissingRequiredArgument)
	}
	msgs := h.inbox.last(agentID, limit)
	if msgs == nil {
		msgs = []model.InboundMessage{}
	}
	return msgs, nil
}

// ClearMessages drops every envelope kept for agentID.
func (h *Hub) ClearMessages(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id", model.ErrMissingRequiredArgument)
	}
	h.inbox.clear(agentID)
	return nil
}
