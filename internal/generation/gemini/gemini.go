package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"

	"google.golang.org/genai"

	"transcript-rag/internal/domain"
	"transcript-rag/internal/generation"
)

const DefaultModel = "gemini-2.0-flash"

// Config configures the Gemini generator.
type Config struct {
	APIKeyEnv   string
	Model       string
	Temperature float32
}

// Generator streams answers from the Gemini API.
type Generator struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGenerator(ctx context.Context, cfg Config) (*Generator, error) {
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
	return &Generator{client: client, model: model, temperature: cfg.Temperature}, nil
}

func (g *Generator) Name() string { return "gemini:" + g.model }

func (g *Generator) Generate(ctx context.Context, req generation.Request) (generation.Stream, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: t.Content}}})
	}
	contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: req.UserPrompt()}}})

	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if g.temperature > 0 {
		temp := g.temperature
		config.Temperature = &temp
	}
	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, g.model, contents, config))
	return &stream{next: next, stop: stop}, nil
}

// stream serializes Recv and Close because a pulled iterator must not be stopped while it is
// producing. Close therefore waits for an in-flight Recv, which the request context unblocks.
type stream struct {
	mu   sync.Mutex
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *stream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
	return nil
}
