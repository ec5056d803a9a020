package model

import "time"

// DocumentState is the last document snapshot an agent reported.
// A nil URL or Content means the agent reported it as absent.
type DocumentState struct {
	AgentID   string    `json:"agent_id"`
	URL       *string   `json:"url"`
	Content   *string   `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chunk is one numbered slice of an agent's cached content.
type Chunk struct {
	ChunkNumber int    `json:"chunk_number"`
	TotalChunks int    `json:"total_chunks"`
	ChunkSize   int    `json:"chunk_size"`
	Content     string `json:"content"`
	IsLast      bool   `json:"is_last"`
}

// InboundMessage is an envelope an agent sent that the hub does not act on,
// such as a pong or a command result, kept for callers to inspect.
type InboundMessage struct {
	AgentID    string    `json:"agent_id"`
	Envelope   *Envelope `json:"envelope"`
	ReceivedAt time.Time `json:"received_at"`
}
