package chunk

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-hub/backend/internal/model"
	"github.com/remote-agent-hub/backend/internal/state"
)

func TestSlice(t *testing.T) {
	content := strings.Repeat("a", 25)

	c, err := Slice(content, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ChunkNumber)
	assert.Equal(t, 3, c.TotalChunks)
	assert.Equal(t, 10, c.ChunkSize)
	assert.False(t, c.IsLast)

	c, err = Slice(content, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, c.ChunkSize)
	assert.Equal(t, strings.Repeat("a", 5), c.Content)
	assert.True(t, c.IsLast)
}

func TestSliceErrors(t *testing.T) {
	_, err := Slice("abc", 0, 1)
	assert.ErrorIs(t, err, model.ErrInvalidChunkSize)

	_, err = Slice("", 10, 1)
	assert.ErrorIs(t, err, model.ErrNoContentAvailable)

	_, err = Slice("abc", 2, 0)
	assert.ErrorIs(t, err, model.ErrInvalidChunkNumber)

	_, err = Slice("abc", 2, 3)
	assert.ErrorIs(t, err, model.ErrInvalidChunkNumber)
}

func TestSliceCountsCodePoints(t *testing.T) {
	content := "héllo wörld ✓"
	c, err := Slice(content, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, "héllo", c.Content)
	assert.True(t, utf8.ValidString(c.Content))
	assert.Equal(t, 3, c.TotalChunks)
}

func TestSliceHugeChunkSize(t *testing.T) {
	for _, size := range []int{math.MaxInt, math.MaxInt - 1, math.MaxInt / 2} {
		c, err := Slice("abc", size, 1)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, 1, c.TotalChunks)
		assert.Equal(t, 3, c.ChunkSize)
		assert.Equal(t, "abc", c.Content)
		assert.True(t, c.IsLast)

		_, err = Slice("abc", size, 2)
		assert.ErrorIs(t, err, model.ErrInvalidChunkNumber)
	}
}

func TestSliceKeepsInvalidBytes(t *testing.T) {
	content := "a\xffb\xc3"

	first, err := Slice(content, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, first.TotalChunks)
	assert.Equal(t, "a\xff", first.Content)

	last, err := Slice(content, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "b\xc3", last.Content)
	assert.Equal(t, content, first.Content+last.Content)
}

func TestServerGetChunk(t *testing.T) {
	cache := state.NewCache()
	s := NewServer(cache)

	_, err := s.GetChunk("tab-1", 10, 1)
	assert.ErrorIs(t, err, model.ErrAgentStateNotFound)

	url := "https://a"
	cache.Update("tab-1", &url, nil)
	_, err = s.GetChunk("tab-1", 10, 1)
	assert.ErrorIs(t, err, model.ErrNoContentAvailable)

	content := "0123456789abcdef"
	cache.Update("tab-1", &url, &content)
	c, err := s.GetChunk("tab-1", 10, 2)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", c.Content)
	assert.True(t, c.IsLast)
}

// Property: the chunks of any non-empty content, taken in order, reassemble
// the content exactly, and exactly the last one is flagged.
func TestChunksReassembleProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("concatenated chunks equal the content", prop.ForAll(
		func(content string, size int) bool {
			first, err := Slice(content, size, 1)
			if err != nil {
				return false
			}
			wantTotal := (utf8.RuneCountInString(content) + size - 1) / size
			if first.TotalChunks != wantTotal {
				return false
			}

			var b strings.Builder
			for n := 1; n <= first.TotalChunks; n++ {
				c, err := Slice(content, size, n)
				if err != nil {
					return false
				}
				if c.IsLast != (n == first.TotalChunks) || c.ChunkSize > size {
					return false
				}
				b.WriteString(c.Content)
			}

			_, beyond := Slice(content, size, first.TotalChunks+1)
			return b.String() == content && beyond != nil
		},
		gen.AnyString().SuchThat(func(s string) bool { return s != "" && utf8.ValidString(s) }),
		gen.IntRange(1, 64),
	))

	properties.Property("arbitrary bytes survive the round trip", prop.ForAll(
		func(raw []byte, size int) bool {
			content := string(raw)
			var b strings.Builder
			for n := 1; ; n++ {
				c, err := Slice(content, size, n)
				if err != nil {
					return false
				}
				b.WriteString(c.Content)
				if c.IsLast {
					break
				}
			}
			return b.String() == content
		},
		gen.SliceOf(gen.UInt8()).SuchThat(func(b []byte) bool { return len(b) > 0 }),
		gen.IntRange(1, 16),
	))

	properties.TestingRun(t)
}
