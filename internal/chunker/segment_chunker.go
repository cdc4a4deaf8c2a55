package chunker

import (
	"regexp"
	"sort"
	"strings"

	"transcript-rag/internal/domain"
)

const (
	DefaultWindowSegments = 5
	DefaultMinChars       = 20
	// windowedMinSegments is the shortest transcript that is chunked with sliding windows.
	windowedMinSegments = 10
)

// SegmentChunker splits timed transcript segments into chunks. Long transcripts are cut with a
// sliding window over segments, short ones are packed sentence by sentence.
type SegmentChunker struct {
	windowSegments int
	minChars       int
	splitter       *regexp.Regexp
}

func NewSegmentChunker(windowSegments, minChars int) *SegmentChunker {
	if windowSegments <= 1 {
		windowSegments = DefaultWindowSegments
	}
	if minChars < 0 {
		minChars = 0
	}
	return &SegmentChunker{
		windowSegments: windowSegments,
		minChars:       minChars,
		splitter:       regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`),
	}
}

func (c *SegmentChunker) Chunk(segments []domain.TimedSegment, targetWords, overlapSegments int) []domain.Chunk {
	if len(segments) == 0 {
		return nil
	}
	if len(segments) >= windowedMinSegments && overlapSegments > 0 {
		return c.windowed(segments, overlapSegments)
	}
	return c.simple(segments, targetWords)
}

func (c *SegmentChunker) windowed(segments []domain.TimedSegment, overlap int) []domain.Chunk {
	if overlap >= c.windowSegments {
		overlap = c.windowSegments - 1
	}
	stride := c.windowSegments - overlap

	var chunks []domain.Chunk
	for start := 0; ; start += stride {
		end := start + c.windowSegments
		if end >= len(segments) {
			// The last window ends on the last segment at full width so a short tail
			// cannot fall under minChars and go uncovered.
			end = len(segments)
			start = max(0, end-c.windowSegments)
		}
		window := segments[start:end]
		texts := make([]string, 0, len(window))
		for _, s := range window {
			texts = append(texts, strings.TrimSpace(s.Text))
		}
		text := strings.TrimSpace(strings.Join(texts, " "))
		if len(text) >= c.minChars {
			chunks = appendChunk(chunks, text, window[0], window[len(window)-1])
		}
		if end == len(segments) {
			break
		}
	}
	return chunks
}

type span struct {
	start, end int
	words      int
}

func (c *SegmentChunker) simple(segments []domain.TimedSegment, targetWords int) []domain.Chunk {
	if targetWords <= 0 {
		targetWords = 1
	}
	// starts[i] is the offset of segment i inside the concatenated text.
	starts := make([]int, len(segments))
	var sb strings.Builder
	for i, s := range segments {
		starts[i] = sb.Len()
		sb.WriteString(strings.TrimSpace(s.Text))
		sb.WriteByte(' ')
	}
	full := sb.String()
	if strings.TrimSpace(full) == "" {
		return nil
	}

	var sentences []span
	for _, loc := range c.splitter.FindAllStringIndex(full, -1) {
		start, end := trimSpan(full, loc[0], loc[1])
		if start >= end {
			continue
		}
		words := len(strings.Fields(full[start:end]))
		if words == 0 {
			continue
		}
		sentences = append(sentences, span{start: start, end: end, words: words})
	}

	var chunks []domain.Chunk
	var cur span
	open := false
	flush := func() {
		if !open {
			return
		}
		first := segmentAt(starts, cur.start)
		last := segmentAt(starts, cur.end-1)
		chunks = appendChunk(chunks, full[cur.start:cur.end], segments[first], segments[last])
		open = false
	}
	for _, s := range sentences {
		if open && cur.words+s.words > targetWords {
			flush()
		}
		if !open {
			cur = s
			open = true
			continue
		}
		cur.end = s.end
		cur.words += s.words
	}
	flush()
	return chunks
}

func appendChunk(chunks []domain.Chunk, text string, first, last domain.TimedSegment) []domain.Chunk {
	words := len(strings.Fields(text))
	if words == 0 {
		return chunks
	}
	return append(chunks, domain.Chunk{
		Index:           uint32(len(chunks)),
		Text:            text,
		WordCount:       uint32(words),
		StartTimestampS: domain.Seconds(first.OffsetMs),
		EndTimestampS:   domain.Seconds(last.EndMs()),
	})
}

func trimSpan(s string, start, end int) (int, int) {
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return start, end
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// segmentAt returns the index of the segment whose text contains offset pos.
func segmentAt(starts []int, pos int) int {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > pos })
	if i == 0 {
		return 0
	}
	return i - 1
}
