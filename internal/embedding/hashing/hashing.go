package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const DefaultDimension = 384

// Embedder implements a feature-hashing bag-of-words vectorizer. Unlike a fitted TF-IDF model it
// needs no preparation pass, so vectors from different corpora and from questions share one space.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder creates a hashing embedder producing vectors of the given dimension.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed term-frequency vector for the given text. Text made only of
// stopwords yields the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, e.dimension)
	tf := make(map[string]int)
	for _, tok := range e.tokenize(text) {
		tf[tok]++
	}
	for tok, count := range tf {
		idx, sign := e.bucket(tok)
		// Sublinear term frequency
		vec[idx] += sign * (1 + math.Log(float64(count)))
	}
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, e.dimension)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *Embedder) bucket(tok string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tok))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(e.dimension)), sign
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := e.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "who", "how", "why", "when", "where", "do", "does", "did", "i", "you", "he", "she", "we", "they",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
