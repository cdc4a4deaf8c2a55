package generation

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"transcript-rag/internal/domain"
)

// Passage is one numbered context excerpt handed to the model.
type Passage struct {
	Number          int
	Text            string
	StartTimestampS *float64
	Score           float32
}

// Request carries everything a provider needs to produce a grounded answer.
type Request struct {
	SystemPrompt string
	Passages     []Passage
	History      []domain.Turn
	Question     string
}

// Stream yields answer fragments in generation order. Recv returns io.EOF after the last
// fragment. Close releases the underlying connection and may be called at any time.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Generator produces a token stream for a request. Model selection and sampling are the
// provider's concern.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (Stream, error)
}

// UserPrompt renders the context passages and the question as one user message.
func (r Request) UserPrompt() string {
	var sb strings.Builder
	if len(r.Passages) > 0 {
		sb.WriteString("Context from the transcript:\n")
		for _, p := range r.Passages {
			sb.WriteString(fmt.Sprintf("[%d]", p.Number))
			if p.StartTimestampS != nil {
				sb.WriteString(" (" + FormatTimestamp(*p.StartTimestampS) + ")")
			}
			sb.WriteString(" " + p.Text + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Question: " + r.Question)
	return sb.String()
}

// Prompt renders the whole request as a single text, used for token accounting and for
// providers without chat roles.
func (r Request) Prompt() string {
	var sb strings.Builder
	if r.SystemPrompt != "" {
		sb.WriteString(r.SystemPrompt + "\n\n")
	}
	for _, t := range r.History {
		sb.WriteString(string(t.Role) + ": " + t.Content + "\n")
	}
	if len(r.History) > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(r.UserPrompt())
	return sb.String()
}

// FormatTimestamp renders seconds as m:ss or h:mm:ss.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// SliceStream replays precomputed fragments.
type SliceStream struct {
	ctx    context.Context
	tokens []string
	pos    int
	closed atomic.Bool
}

func NewSliceStream(ctx context.Context, tokens []string) *SliceStream {
	return &SliceStream{ctx: ctx, tokens: tokens}
}

func (s *SliceStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.closed.Load() || s.pos >= len(s.tokens) {
		return "", io.EOF
	}
	tok := s.tokens[s.pos]
	s.pos++
	return tok, nil
}

func (s *SliceStream) Close() error {
	s.closed.Store(true)
	return nil
}
