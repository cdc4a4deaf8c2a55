package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"transcript-rag/internal/generation"
)

// Config configures the OpenAI-compatible chat client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client streams chat completions from an OpenAI-compatible endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	// The timeout bounds connection setup and headers only; the body streams for as long
	// as the caller's context allows.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      key,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Transport: transport},
	}, nil
}

func (c *Client) Name() string { return "openai:" + c.model }

func (c *Client) Generate(ctx context.Context, req generation.Request) (generation.Stream, error) {
	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, t := range req.History {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt()})

	data, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai chat failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return &stream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// stream decodes the server-sent events of a chat completion.
type stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func (s *stream) Recv() (string, error) {
	for !s.done {
		line, err := s.reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				s.done = true
				break
			}
			return "", err
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			break
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("openai stream error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	return "", io.EOF
}

// Close may run concurrently with Recv; a blocked read then fails.
func (s *stream) Close() error {
	return s.body.Close()
}
