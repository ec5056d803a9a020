package hub

import (
	"fmt"

	"github.com/remote-agent-hub/backend/internal/model"
)

// ContentResult is either one chunk of an agent's content or an error.
type ContentResult struct {
	*model.Chunk
	Error *ErrorDetail `json:"error,omitempty"`
}

// DefaultChunkSize is the chunk size surfaces use when the caller gives none.
func (h *Hub) DefaultChunkSize() int {
	return h.config.DefaultChunkSize
}

// Content returns chunk chunkNumber (1-based) of the agent's cached content
// cut into chunkSize-long pieces.
func (h *Hub) Content(agentID string, chunkSize, chunkNumber int) ContentResult {
	if agentID == "" {
		return ContentResult{Error: NewErrorDetail(fmt.Errorf("%w: agent id", model.ErrMissingRequiredArgument))}
	}
	c, err := h.chunks.GetChunk(agentID, chunkSize, chunkNumber)
	if err != nil {
		return ContentResult{Error: NewErrorDetail(err)}
	}
	return ContentResult{Chunk: c}
}
