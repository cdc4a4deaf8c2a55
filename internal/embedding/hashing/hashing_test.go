package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestEmbedIsNormalizedAndDeterministic(t *testing.T) {
	e := NewEmbedder(64)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "Gophers love channels and goroutines.")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "Gophers love channels and goroutines.")
	require.NoError(t, err)

	require.Len(t, v1, 64)
	assert.Equal(t, v1, v2)
	assert.InDelta(t, 1.0, math.Sqrt(dot(v1, v1)), 1e-4)
}

func TestEmbedRanksRelatedTextHigher(t *testing.T) {
	e := NewEmbedder(DefaultDimension)
	ctx := context.Background()

	q, _ := e.Embed(ctx, "how do goroutines use channels")
	related, _ := e.Embed(ctx, "channels let goroutines communicate safely")
	unrelated, _ := e.Embed(ctx, "the recipe needs flour sugar and butter")

	assert.Greater(t, dot(q, related), dot(q, unrelated))
}

func TestEmbedStopwordsOnlyIsZero(t *testing.T) {
	e := NewEmbedder(16)
	v, err := e.Embed(context.Background(), "the and of it")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestDefaultDimension(t *testing.T) {
	assert.Equal(t, DefaultDimension, NewEmbedder(0).Dimension())
	assert.Equal(t, "hashing", NewEmbedder(0).Name())
}
