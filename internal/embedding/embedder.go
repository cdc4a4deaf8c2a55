package embedding

import (
	"context"
	"errors"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"transcript-rag/internal/domain"
)

// Provider converts free text into a numeric vector representation.
// Implementations are not required to normalize their output.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProgressFunc is called after each completed item of a batch.
type ProgressFunc func(done, total int)

const DefaultConcurrency = 4

// Service wraps a Provider and guarantees unit-normalized output and typed errors.
type Service struct {
	provider    Provider
	concurrency int
	logger      *zap.Logger
}

func NewService(provider Provider, concurrency int, logger *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{provider: provider, concurrency: concurrency, logger: logger}
}

// Name returns the identifier of the wrapped provider.
func (s *Service) Name() string { return s.provider.Name() }

// Embed returns the normalized embedding of text.
func (s *Service) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	raw, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, &domain.EmbeddingError{Err: err}
	}
	if len(raw) == 0 {
		return nil, &domain.EmbeddingError{Err: errors.New("provider returned an empty vector")}
	}
	return Normalize(raw), nil
}

// EmbedBatch embeds texts concurrently. The result is in input order and onProgress is
// invoked serially with a strictly increasing done count.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, onProgress ProgressFunc) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var mu sync.Mutex
	done := 0
	for i, text := range texts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &domain.EmbeddingError{Err: err}
			}
			vec, err := s.Embed(gctx, text)
			if err != nil {
				return err
			}
			out[i] = vec
			mu.Lock()
			done++
			if onProgress != nil {
				onProgress(done, len(texts))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("batch embedding failed",
			zap.String("provider", s.provider.Name()),
			zap.Int("total", len(texts)),
			zap.Error(err))
		return nil, err
	}
	return out, nil
}

// Normalize returns a unit-length copy of v. The zero vector is returned unchanged.
func Normalize(v []float32) domain.Embedding {
	out := make(domain.Embedding, len(v))
	norm := Norm(v)
	if norm == 0 || math.IsNaN(norm) {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
