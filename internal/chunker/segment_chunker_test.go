package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcript-rag/internal/domain"
)

func seg(text string, offset, duration uint64) domain.TimedSegment {
	return domain.TimedSegment{Text: text, OffsetMs: offset, DurationMs: duration}
}

func numbered(n int) []domain.TimedSegment {
	segments := make([]domain.TimedSegment, n)
	for i := range segments {
		segments[i] = seg(fmt.Sprintf("segment number %d talks about topic %d.", i, i), uint64(i)*2000, 2000)
	}
	return segments
}

func requireContiguous(t *testing.T, chunks []domain.Chunk) {
	t.Helper()
	for i, c := range chunks {
		require.Equal(t, uint32(i), c.Index)
		require.GreaterOrEqual(t, c.WordCount, uint32(1))
		require.NotNil(t, c.StartTimestampS)
		require.NotNil(t, c.EndTimestampS)
		require.LessOrEqual(t, *c.StartTimestampS, *c.EndTimestampS)
	}
}

func requireCoverage(t *testing.T, segments []domain.TimedSegment, chunks []domain.Chunk) {
	t.Helper()
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	joined := " " + strings.Join(texts, " ") + " "
	for _, s := range segments {
		for _, w := range strings.Fields(s.Text) {
			require.Contains(t, joined, w, "segment %q not covered", s.Text)
		}
	}
}

func TestSimpleModeSingleChunk(t *testing.T) {
	c := NewSegmentChunker(DefaultWindowSegments, DefaultMinChars)
	segments := []domain.TimedSegment{
		seg("Hello world.", 0, 1000),
		seg("This is a test.", 1000, 1000),
	}

	chunks := c.Chunk(segments, 500, 1)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello world. This is a test.", chunks[0].Text)
	assert.Equal(t, uint32(6), chunks[0].WordCount)
	assert.Equal(t, 0.0, *chunks[0].StartTimestampS)
	assert.Equal(t, 2.0, *chunks[0].EndTimestampS)
}

func TestSimpleModePacksSentences(t *testing.T) {
	c := NewSegmentChunker(DefaultWindowSegments, DefaultMinChars)
	segments := []domain.TimedSegment{
		seg("One two three. Four five six.", 0, 3000),
		seg("Seven eight nine!", 3000, 1000),
		seg("Ten eleven twelve?", 4000, 1000),
	}

	chunks := c.Chunk(segments, 6, 0)

	require.Len(t, chunks, 2)
	requireContiguous(t, chunks)
	requireCoverage(t, segments, chunks)
	assert.Equal(t, "One two three. Four five six.", chunks[0].Text)
	assert.Equal(t, "Seven eight nine! Ten eleven twelve?", chunks[1].Text)
	assert.Equal(t, 0.0, *chunks[0].StartTimestampS)
	assert.Equal(t, 3.0, *chunks[0].EndTimestampS)
	assert.Equal(t, 3.0, *chunks[1].StartTimestampS)
	assert.Equal(t, 5.0, *chunks[1].EndTimestampS)
}

func TestSimpleModeKeepsOversizedSentence(t *testing.T) {
	c := NewSegmentChunker(DefaultWindowSegments, DefaultMinChars)
	long := strings.Repeat("word ", 30) + "end."
	segments := []domain.TimedSegment{
		seg("Short one.", 0, 1000),
		seg(long, 1000, 9000),
		seg("Short two.", 10000, 1000),
	}

	chunks := c.Chunk(segments, 10, 0)

	require.Len(t, chunks, 3)
	requireContiguous(t, chunks)
	assert.Equal(t, strings.TrimSpace(long), chunks[1].Text)
	assert.Equal(t, uint32(31), chunks[1].WordCount)
	assert.Equal(t, 1.0, *chunks[1].StartTimestampS)
	assert.Equal(t, 10.0, *chunks[1].EndTimestampS)
}

func TestSimpleModeTextWithoutTerminator(t *testing.T) {
	c := NewSegmentChunker(DefaultWindowSegments, DefaultMinChars)
	segments := []domain.TimedSegment{seg("no punctuation at all", 500, 1500)}

	chunks := c.Chunk(segments, 100, 0)

	require.Len(t, chunks, 1)
	assert.Equal(t, "no punctuation at all", chunks[0].Text)
	assert.Equal(t, 0.5, *chunks[0].StartTimestampS)
	assert.Equal(t, 2.0, *chunks[0].EndTimestampS)
}

func TestEmptyInput(t *testing.T) {
	c := NewSegmentChunker(DefaultWindowSegments, DefaultMinChars)
	assert.Empty(t, c.Chunk(nil, 100, 1))
	assert.Empty(t, c.Chunk([]domain.TimedSegment{seg("   ", 0, 10), seg("\n", 10, 10)}, 100, 0))

	blank := make([]domain.TimedSegment, 12)
	assert.Empty(t, c.Chunk(blank, 100, 2))
}

func TestWindowedMode(t *testing.T) {
	c := NewSegmentChunker(5, DefaultMinChars)
	segments := numbered(12)

	chunks := c.Chunk(segments, 500, 2)

	// stride 3: windows start at 0, 3, 6, 9
	require.Len(t, chunks, 4)
	requireContiguous(t, chunks)
	requireCoverage(t, segments, chunks)
	assert.True(t, strings.HasPrefix(chunks[1].Text, "segment number 3 "))
	assert.Equal(t, 6.0, *chunks[1].StartTimestampS)
	assert.Equal(t, 16.0, *chunks[1].EndTimestampS)
	assert.Equal(t, 24.0, *chunks[3].EndTimestampS)
}

func TestWindowedModeCoversShortTail(t *testing.T) {
	c := NewSegmentChunker(DefaultWindowSegments, DefaultMinChars)
	segments := append(numbered(8),
		seg("Okay.", 16000, 1000),
		seg("Goodbye.", 17000, 1000),
	)

	chunks := c.Chunk(segments, 500, 1)

	// stride 4: windows start at 0 and 4, then the last window is pulled back to 5
	require.Len(t, chunks, 3)
	requireContiguous(t, chunks)
	requireCoverage(t, segments, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasPrefix(last.Text, "segment number 5 "))
	assert.True(t, strings.HasSuffix(last.Text, "Okay. Goodbye."))
	assert.Equal(t, 10.0, *last.StartTimestampS)
	assert.Equal(t, 18.0, *last.EndTimestampS)
}

func TestWindowedModeClampsOverlap(t *testing.T) {
	c := NewSegmentChunker(5, DefaultMinChars)
	segments := numbered(10)

	chunks := c.Chunk(segments, 500, 9)

	// overlap clamped to 4 gives stride 1
	require.Len(t, chunks, 6)
	requireContiguous(t, chunks)
	requireCoverage(t, segments, chunks)
}

func TestWindowedModeDropsDegenerateWindows(t *testing.T) {
	c := NewSegmentChunker(2, 10)
	segments := numbered(10)
	segments[2] = seg("uh", 4000, 500)
	segments[3] = seg("", 4500, 500)

	chunks := c.Chunk(segments, 500, 1)

	requireContiguous(t, chunks)
	for _, ch := range chunks {
		assert.GreaterOrEqual(t, len(ch.Text), 10)
	}
	assert.NotContains(t, chunks[2].Text, "uh")
}

func TestShortInputUsesSimpleModeEvenWithOverlap(t *testing.T) {
	c := NewSegmentChunker(5, DefaultMinChars)
	segments := numbered(9)

	chunks := c.Chunk(segments, 1000, 2)

	require.Len(t, chunks, 1)
	requireCoverage(t, segments, chunks)
}
