package extractive

import (
	"context"
	"fmt"
	"strings"

	"transcript-rag/internal/generation"
	"transcript-rag/internal/summarizer"
)

const (
	DefaultMaxSentences   = 3
	DefaultNoContextReply = "Hi! Ask me anything about this transcript and I'll point you to the relevant parts."
)

// Generator answers offline by quoting the transcript sentences that best match the question.
type Generator struct {
	summarizer     *summarizer.FrequencySummarizer
	maxSentences   int
	noContextReply string
}

func NewGenerator(sum *summarizer.FrequencySummarizer, maxSentences int, noContextReply string) *Generator {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	if noContextReply == "" {
		noContextReply = DefaultNoContextReply
	}
	return &Generator{summarizer: sum, maxSentences: maxSentences, noContextReply: noContextReply}
}

func (g *Generator) Name() string { return "extractive" }

func (g *Generator) Generate(ctx context.Context, req generation.Request) (generation.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return generation.NewSliceStream(ctx, tokenize(g.answer(req))), nil
}

func (g *Generator) answer(req generation.Request) string {
	if len(req.Passages) == 0 {
		return g.noContextReply
	}
	// Passages arrive best match first, so the budget goes to the most relevant ones.
	var parts []string
	remaining := g.maxSentences
	for _, p := range req.Passages {
		if remaining <= 0 {
			break
		}
		for _, sent := range g.summarizer.Extract(req.Question, p.Text, remaining) {
			parts = append(parts, fmt.Sprintf("%s [%d]", sent, p.Number))
			remaining--
		}
	}
	if len(parts) == 0 {
		return g.noContextReply
	}
	return "From the transcript: " + strings.Join(parts, " ")
}

// tokenize splits s into word fragments that concatenate back to s with whitespace collapsed.
func tokenize(s string) []string {
	words := strings.Fields(s)
	out := make([]string, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		out[i] = w
	}
	return out
}
