package model

import "time"

// AgentStatus is the lifecycle state of one agent connection.
type AgentStatus string

const (
	AgentStatusConnecting   AgentStatus = "connecting"
	AgentStatusActive       AgentStatus = "active"
	AgentStatusDisconnected AgentStatus = "disconnected"
)

// Addressing records how an agent's identity was chosen.
type Addressing string

const (
	// AddressingPath means the agent supplied its identity in the connection path.
	AddressingPath Addressing = "path"
	// AddressingGenerated means the hub generated the identity at connect time.
	AddressingGenerated Addressing = "generated"
	// AddressingFixed means every connection is bound to one configured identity.
	AddressingFixed Addressing = "fixed"
)

// Close reasons recorded in the connection journal.
const (
	CloseReasonDisconnected  = "disconnected"
	CloseReasonEvicted       = "evicted"
	CloseReasonShutdown      = "shutdown"
	CloseReasonServerRestart = "server restart"
)

// ConnectionRecord is one journaled agent connection.
type ConnectionRecord struct {
	ID             int64       `json:"id"`
	AgentID        string      `json:"agentId"`
	RemoteAddr     string      `json:"remoteAddr,omitempty"`
	Addressing     Addressing  `json:"addressing"`
	Status         AgentStatus `json:"status"`
	CloseReason    string      `json:"closeReason,omitempty"`
	ConnectedAt    time.Time   `json:"connectedAt"`
	DisconnectedAt *time.Time  `json:"disconnectedAt,omitempty"`
}

// Duration returns how long the connection lasted, or has lasted so far.
func (r *ConnectionRecord) Duration() time.Duration {
	if r.DisconnectedAt != nil {
		return r.DisconnectedAt.Sub(r.ConnectedAt)
	}
	return time.Since(r.ConnectedAt)
}

// AgentInfo describes one currently registered agent.
type AgentInfo struct {
	ID          string    `json:"id"`
	Groups      []string  `json:"groups"`
	ConnectedAt time.Time `json:"connectedAt"`
	HasState    bool      `json:"hasState"`
}
