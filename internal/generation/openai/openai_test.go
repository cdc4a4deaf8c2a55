package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcript-rag/internal/domain"
	"transcript-rag/internal/generation"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	t.Setenv("TEST_CHAT_KEY", "secret")
	c, err := NewClient(Config{BaseURL: url, APIKeyEnv: "TEST_CHAT_KEY", Model: "m"})
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, s generation.Stream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		tok, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, tok)
	}
}

func TestGenerateStreamsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)
		require.Len(t, body.Messages, 4)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "assistant", body.Messages[2].Role)
		assert.Contains(t, body.Messages[3].Content, "Question: why?")

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Because\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\" reasons.\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	s, err := newTestClient(t, srv.URL).Generate(context.Background(), generation.Request{
		SystemPrompt: "sys",
		History:      []domain.Turn{{Role: domain.RoleUser, Content: "q1"}, {Role: domain.RoleAssistant, Content: "a1"}},
		Question:     "why?",
	})
	require.NoError(t, err)
	defer s.Close()

	tokens, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Because", " reasons."}, tokens)
}

func TestGenerateEndsWithoutDoneMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}")
	}))
	defer srv.Close()

	s, err := newTestClient(t, srv.URL).Generate(context.Background(), generation.Request{Question: "q"})
	require.NoError(t, err)
	tokens, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, tokens)
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), generation.Request{Question: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
}

func TestGenerateStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"error\":{\"message\":\"overloaded\"}}\n\n")
	}))
	defer srv.Close()

	s, err := newTestClient(t, srv.URL).Generate(context.Background(), generation.Request{Question: "q"})
	require.NoError(t, err)
	_, err = collect(t, s)
	assert.ErrorContains(t, err, "overloaded")
}
