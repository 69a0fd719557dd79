package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdocq/internal/domain"
)

func TestSplit_EmptyInput(t *testing.T) {
	c := NewRecursiveChunker(1000, 200, 500)

	_, _, err := c.Split("")
	require.ErrorIs(t, err, domain.ErrEmptyDocument)

	_, _, err = c.Split("   \n\t  ")
	require.ErrorIs(t, err, domain.ErrEmptyDocument)
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c := NewRecursiveChunker(1000, 200, 500)

	chunks, truncated, err := c.Split("A short document.")
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short document.", chunks[0])
}

func TestSplit_RespectsMaxChunkSize(t *testing.T) {
	c := NewRecursiveChunker(100, 20, 500)

	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog near the river bank.\n\n")
	}
	text := b.String()

	chunks, truncated, err := c.Split(text)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.LessOrEqualf(t, len(ch), 100, "chunk %d exceeds max size", i)
		assert.NotEmpty(t, strings.TrimSpace(ch))
	}
}

func TestSplit_ChunksAppearInOrder(t *testing.T) {
	c := NewRecursiveChunker(120, 30, 500)

	paragraphs := []string{
		"First paragraph about alpha particles and their behaviour in magnetic fields.",
		"Second paragraph covering beta decay, half lives and measurement error.",
		"Third paragraph on gamma radiation shielding with lead and concrete.",
		"Fourth paragraph summarising detector calibration procedures in detail.",
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks, _, err := c.Split(text)
	require.NoError(t, err)

	last := 0
	for i, ch := range chunks {
		pos := strings.Index(text[last:], ch)
		require.GreaterOrEqualf(t, pos, 0, "chunk %d is not a substring at or after previous chunk", i)
		last += pos
	}
}

func TestSplit_HardCutOverlapReconstructs(t *testing.T) {
	c := NewRecursiveChunker(100, 20, 500)

	// No separators at all forces the hard character cut.
	text := strings.Repeat("abcdefghij", 35)

	chunks, _, err := c.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	rebuilt := chunks[0]
	for _, ch := range chunks[1:] {
		require.GreaterOrEqual(t, len(ch), 20)
		assert.Equal(t, rebuilt[len(rebuilt)-20:], ch[:20], "adjacent chunks must share the overlap")
		rebuilt += ch[20:]
	}
	assert.Equal(t, text, rebuilt)
}

func TestSplit_TruncatesAtChunkCap(t *testing.T) {
	c := NewRecursiveChunker(100, 10, 5)

	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString(strings.Repeat("x", 90))
		b.WriteString("\n\n")
	}

	chunks, truncated, err := c.Split(b.String())
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, chunks, 5)
}

func TestSplit_CarriesOverlapBetweenChunks(t *testing.T) {
	c := NewRecursiveChunker(50, 20, 500)

	text := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen"
	chunks, _, err := c.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		head := strings.Fields(chunks[i])[0]
		assert.Containsf(t, chunks[i-1], head, "chunk %d should start inside the previous chunk's tail", i)
	}
}
