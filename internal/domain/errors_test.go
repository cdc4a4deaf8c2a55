package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"empty", fmt.Errorf("process: %w", ErrEmptyInput), KindEmptyInput},
		{"mismatch", ErrDimensionMismatch, KindDimensionMismatch},
		{"inconsistent", ErrInconsistentDimension, KindInconsistentDimension},
		{"not ready", fmt.Errorf("ask: %w", ErrNotReady), KindNotReady},
		{"embedding", &EmbeddingError{Err: cause}, KindEmbedding},
		{"generation", fmt.Errorf("stream: %w", &GenerationError{Err: cause}), KindGeneration},
		{"cancelled generation", &GenerationError{Err: context.Canceled}, KindCancelled},
		{"other", cause, KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestEmbeddingErrorUnwrap(t *testing.T) {
	cause := errors.New("model unavailable")
	err := error(&EmbeddingError{Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "model unavailable")
}
