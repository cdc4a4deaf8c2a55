package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is an OpenAI-compatible embeddings client implementing the embedding.Provider interface.
// It also understands the Ollama-native response shape.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     key,
		model:      cfg.Model,
		client:     &http.Client{Timeout: t},
		maxRetries: cfg.MaxRetries,
		backoff:    retryDelay,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Embed returns an embedding vector for the given text. Transport errors, 429 and 5xx
// responses are retried with exponential backoff.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	type reqBody struct {
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model"`
	}
	data, err := json.Marshal(reqBody{Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + "/embeddings"

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, lastDelay(lastErr, c.backoff(attempt-1))); err != nil {
				return nil, err
			}
		}
		vec, err := c.do(ctx, url, data)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		var re *retryableError
		if !errors.As(err, &re) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, url string, data []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		re := &retryableError{err: fmt.Errorf("openai embeddings failed: %s", resp.Status)}
		// Respect Retry-After if provided
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			re.after = time.Duration(secs) * time.Second
		}
		return nil, re
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai embeddings failed: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	// Try OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return openaiOut.Data[0].Embedding, nil
		}
	}
	// Fallback to Ollama-native shape: { "embedding": [...] }
	var ollamaOut struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 {
		return ollamaOut.Embedding, nil
	}
	return nil, errors.New("no embedding returned")
}

type retryableError struct {
	err   error
	after time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func lastDelay(err error, fallback time.Duration) time.Duration {
	var re *retryableError
	if errors.As(err, &re) && re.after > 0 {
		return re.after
	}
	return fallback
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
