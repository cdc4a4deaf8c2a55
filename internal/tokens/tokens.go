package tokens

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Counter estimates token counts with a BPE encoding once Load has fetched it, and with a
// word-based estimate until then. Count itself never touches the network.
type Counter struct {
	encoding string
	enc      atomic.Pointer[tiktoken.Tiktoken]
}

func NewCounter(encoding string) *Counter {
	if encoding == "" {
		encoding = defaultEncoding
	}
	return &Counter{encoding: encoding}
}

// Load fetches the encoding, waiting no longer than ctx allows. A fetch that outlives ctx
// keeps running and installs the encoding when it completes.
func (c *Counter) Load(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err == nil {
			c.enc.Store(enc)
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the estimated number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.enc.Load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Estimate approximates BPE token counts as four tokens per three words, with every
// non-ASCII rune counted as a token.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	wide := 0
	for _, r := range text {
		if r > 127 {
			wide++
		}
	}
	n := (words*4+2)/3 + wide
	if n == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return n
}

// Heuristic counts tokens with Estimate only and never loads an encoding.
type Heuristic struct{}

func (Heuristic) Count(text string) int { return Estimate(text) }
