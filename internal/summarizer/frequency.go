package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// queryBoost is the score added per distinct question term found in a sentence.
const queryBoost = 1.0

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered), optionally
// biased towards sentences sharing terms with a question.
type FrequencySummarizer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based sentence ranker summarizer.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern:    regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`),
		sentencePattern: regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`),
		stopwords:       defaultStopwords(),
	}
}

// Summarize returns a short summary by ranking sentences using token frequency.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	return strings.Join(s.Extract("", text, maxSentences), " "), nil
}

// Extract returns up to maxSentences of text, in their original order, preferring frequent
// terms and terms of query.
func (s *FrequencySummarizer) Extract(query, text string, maxSentences int) []string {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	var sentences []string
	for _, sent := range s.sentencePattern.FindAllString(text, -1) {
		if sent = strings.TrimSpace(sent); sent != "" {
			sentences = append(sentences, sent)
		}
	}
	if len(sentences) == 0 {
		return nil
	}
	// Compute word frequencies
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			freq[tok]++
		}
	}
	// Normalize frequencies
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	qset := make(map[string]struct{})
	for _, tok := range s.tokens(query) {
		qset[tok] = struct{}{}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		sscore := 0.0
		seen := make(map[string]struct{}, len(toks))
		for _, tok := range toks {
			sscore += freq[tok]
			if _, ok := qset[tok]; ok {
				if _, dup := seen[tok]; !dup {
					sscore += queryBoost * float64(len(toks))
				}
			}
			seen[tok] = struct{}{}
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			sscore /= math.Sqrt(l)
		}
		scores[i] = pair{i, sscore}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}
	// Keep original order among selected
	selected := make([]int, maxSentences)
	for i := 0; i < maxSentences; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return out
}

func (s *FrequencySummarizer) tokens(text string) []string {
	raw := s.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, ok := s.stopwords[t]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "who", "how", "why", "when", "where", "do", "does", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
