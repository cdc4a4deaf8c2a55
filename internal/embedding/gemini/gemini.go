package gemini

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

const DefaultModel = "text-embedding-004"

// Config configures the Gemini embedder.
type Config struct {
	APIKeyEnv string
	Model     string
	TaskType  string
}

// Embedder calls the Gemini embedContent API.
type Embedder struct {
	client   *genai.Client
	model    string
	taskType string
}

func NewEmbedder(ctx context.Context, cfg Config) (*Embedder, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{client: client, model: model, taskType: cfg.TaskType}, nil
}

func (e *Embedder) Name() string { return "gemini:" + e.model }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var config *genai.EmbedContentConfig
	if e.taskType != "" {
		config = &genai.EmbedContentConfig{TaskType: e.taskType}
	}
	resp, err := e.client.Models.EmbedContent(
		ctx,
		e.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}
