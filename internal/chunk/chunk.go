// Package chunk serves cached agent content in bounded, numbered slices.
package chunk

import (
	"fmt"
	"unicode/utf8"

	"github.com/remote-agent-hub/backend/internal/model"
)

// DefaultSize is the chunk size used when a caller does not ask for one.
const DefaultSize = 10000

// StateReader is the view of the state cache the server needs.
type StateReader interface {
	Get(agentID string) (model.DocumentState, error)
}

// Server slices the current content of an agent on demand. Nothing is pinned
// between calls, so totals may differ across calls while the agent keeps
// reporting new content.
type Server struct {
	states StateReader
}

// NewServer creates a Server reading from states.
func NewServer(states StateReader) *Server {
	return &Server{states: states}
}

// GetChunk returns chunk number of the agent's content split into size-long pieces.
func (s *Server) GetChunk(agentID string, size, number int) (*model.Chunk, error) {
	st, err := s.states.Get(agentID)
	if err != nil {
		return nil, err
	}
	if st.Content == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrNoContentAvailable, agentID)
	}
	return Slice(*st.Content, size, number)
}

// Slice cuts content into size-long pieces and returns piece number (1-based).
// Lengths and offsets count Unicode code points; an invalid byte counts as
// one. Pieces are cut from the original bytes, so they concatenate back to
// content exactly.
func Slice(content string, size, number int) (*model.Chunk, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidChunkSize, size)
	}
	if content == "" {
		return nil, model.ErrNoContentAvailable
	}

	n := utf8.RuneCountInString(content)
	total := n / size
	if n%size != 0 {
		total++
	}
	if number < 1 || number > total {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", model.ErrInvalidChunkNumber, number, total)
	}

	start := (number - 1) * size
	count := min(size, n-start)
	from := advance(content, 0, start)
	to := advance(content, from, count)
	return &model.Chunk{
		ChunkNumber: number,
		TotalChunks: total,
		ChunkSize:   count,
		Content:     content[from:to],
		IsLast:      number == total,
	}, nil
}

// advance returns the byte offset reached by stepping over runes code points
// of s starting at byte offset i.
func advance(s string, i, runes int) int {
	for ; runes > 0 && i < len(s); runes-- {
		_, w := utf8.DecodeRuneInString(s[i:])
		i += w
	}
	return i
}
