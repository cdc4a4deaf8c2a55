package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const text = "Go has goroutines. Goroutines are scheduled by the runtime. " +
	"The weather was nice that day. Channels connect goroutines!"

func TestSummarizeKeepsOriginalOrder(t *testing.T) {
	s := NewFrequencySummarizer()
	out, err := s.Summarize(text, 2)
	require.NoError(t, err)
	assert.NotContains(t, out, "weather")
	assert.Contains(t, out, "oroutines")
}

func TestExtractPrefersQueryTerms(t *testing.T) {
	s := NewFrequencySummarizer()
	out := s.Extract("how was the weather", text, 1)
	assert.Equal(t, []string{"The weather was nice that day."}, out)
}

func TestExtractClampsAndHandlesEmpty(t *testing.T) {
	s := NewFrequencySummarizer()
	assert.Len(t, s.Extract("", text, 10), 4)
	assert.Empty(t, s.Extract("q", "   ", 3))
}
