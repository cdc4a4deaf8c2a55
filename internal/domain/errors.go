package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptyInput            = errors.New("empty input")
	ErrDimensionMismatch     = errors.New("chunk and embedding counts differ")
	ErrInconsistentDimension = errors.New("embeddings have inconsistent dimensions")
	ErrNotReady              = errors.New("corpus has not been processed")
)

// EmbeddingError wraps a failure of the embedding provider.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding failed: %v", e.Err) }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError wraps a failure of the generation provider.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation failed: %v", e.Err) }

func (e *GenerationError) Unwrap() error { return e.Err }

// ErrorKind is the machine-readable class of a failed request.
type ErrorKind string

const (
	KindEmptyInput            ErrorKind = "empty_input"
	KindDimensionMismatch     ErrorKind = "dimension_mismatch"
	KindInconsistentDimension ErrorKind = "inconsistent_dimension"
	KindEmbedding             ErrorKind = "embedding"
	KindGeneration            ErrorKind = "generation"
	KindNotReady              ErrorKind = "not_ready"
	KindCancelled             ErrorKind = "cancelled"
	KindInternal              ErrorKind = "internal"
)

// KindOf classifies err. Cancellation wins over the wrapping collaborator error.
func KindOf(err error) ErrorKind {
	var embErr *EmbeddingError
	var genErr *GenerationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrEmptyInput):
		return KindEmptyInput
	case errors.Is(err, ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, ErrInconsistentDimension):
		return KindInconsistentDimension
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.As(err, &embErr):
		return KindEmbedding
	case errors.As(err, &genErr):
		return KindGeneration
	default:
		return KindInternal
	}
}
