package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transcript-rag/internal/logging"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
	MaxRetries  int    `yaml:"max_retries" validate:"gte=0"`
}

// GeminiConfig configures a Gemini API model.
type GeminiConfig struct {
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	TaskType    string  `yaml:"task_type,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type         string                `yaml:"type" validate:"oneof=hashing openai gemini"`
	Dimension    int                   `yaml:"dimension" validate:"gte=0"`
	Concurrency  int                   `yaml:"concurrency" validate:"gte=0"`
	CacheSize    int                   `yaml:"cache_size" validate:"gte=0"`
	CacheTTLSecs int                   `yaml:"cache_ttl_secs" validate:"gte=0"`
	OpenAI       *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Gemini       *GeminiConfig         `yaml:"gemini,omitempty"`
}

// OpenAIGeneratorConfig holds configuration for an OpenAI-compatible chat model.
type OpenAIGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	TimeoutSecs int     `yaml:"timeout_secs" validate:"gte=0"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type           string                 `yaml:"type" validate:"oneof=extractive openai gemini"`
	MaxSentences   int                    `yaml:"max_sentences" validate:"gte=0"`
	NoContextReply string                 `yaml:"no_context_reply,omitempty"`
	OpenAI         *OpenAIGeneratorConfig `yaml:"openai,omitempty"`
	Gemini         *GeminiConfig          `yaml:"gemini,omitempty"`
}

// ChunkerConfig configures how transcripts are split into chunks.
type ChunkerConfig struct {
	TargetWords     int `yaml:"target_words" validate:"gte=0"`
	OverlapSegments int `yaml:"overlap_segments" validate:"gte=0"`
	WindowSegments  int `yaml:"window_segments" validate:"gte=0"`
	MinChars        int `yaml:"min_chars" validate:"gte=0"`
}

// RetrievalConfig holds the question answering heuristics.
type RetrievalConfig struct {
	TopK                int      `yaml:"top_k" validate:"gte=0"`
	SimilarityThreshold *float32 `yaml:"similarity_threshold" validate:"omitempty,gte=-1,lte=1"`
	HistoryTurns        int      `yaml:"history_turns" validate:"gte=0"`
	SourcePreviewChars  int      `yaml:"source_preview_chars" validate:"gte=0"`
	SystemPrompt        string   `yaml:"system_prompt,omitempty"`
	GreetingPhrases     []string `yaml:"greeting_phrases,omitempty"`
	GreetingMaxWords    int      `yaml:"greeting_max_words" validate:"gte=0"`

	// TokenEncoding names the BPE encoding used for token statistics. Empty selects a
	// word-count estimate that needs no download.
	TokenEncoding string `yaml:"token_encoding,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode" validate:"omitempty,oneof=debug release test"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	Logging   logging.Config  `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/transcript-rag/config.yaml.
// If neither exists, it writes defaults to ~/.config/transcript-rag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks field ranges and provider names.
func (c *AppConfig) Validate() error {
	return validator.New().Struct(c)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "transcript-rag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	threshold := float32(0.3)
	cfg := &AppConfig{
		Embedder:  EmbedderConfig{Type: "hashing", Dimension: 384, Concurrency: 4, CacheSize: 256, CacheTTLSecs: 600},
		Generator: GeneratorConfig{Type: "extractive", MaxSentences: 3},
		Chunker:   ChunkerConfig{TargetWords: 200, OverlapSegments: 1, WindowSegments: 5, MinChars: 20},
		Retrieval: RetrievalConfig{
			TopK:                3,
			SimilarityThreshold: &threshold,
			HistoryTurns:        5,
			SourcePreviewChars:  200,
			GreetingMaxWords:    6,
			TokenEncoding:       "cl100k_base",
		},
		Server:  ServerConfig{Addr: ":8080", Mode: "release"},
		Logging: logging.Config{Level: "info", Encoding: "console"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	def := defaultConfig()
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = def.Embedder.Type
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = def.Embedder.Dimension
	}
	if cfg.Embedder.Concurrency == 0 {
		cfg.Embedder.Concurrency = def.Embedder.Concurrency
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI == nil {
		cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
	}
	if o := cfg.Embedder.OpenAI; o != nil {
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 3
		}
	}
	if cfg.Embedder.Type == "gemini" && cfg.Embedder.Gemini == nil {
		cfg.Embedder.Gemini = &GeminiConfig{}
	}
	if g := cfg.Embedder.Gemini; g != nil && g.APIKeyEnv == "" {
		g.APIKeyEnv = "GEMINI_API_KEY"
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = def.Generator.Type
	}
	if cfg.Generator.MaxSentences == 0 {
		cfg.Generator.MaxSentences = def.Generator.MaxSentences
	}
	if cfg.Generator.Type == "openai" && cfg.Generator.OpenAI == nil {
		cfg.Generator.OpenAI = &OpenAIGeneratorConfig{}
	}
	if o := cfg.Generator.OpenAI; o != nil {
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "gpt-4o-mini"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 60
		}
	}
	if cfg.Generator.Type == "gemini" && cfg.Generator.Gemini == nil {
		cfg.Generator.Gemini = &GeminiConfig{}
	}
	if g := cfg.Generator.Gemini; g != nil && g.APIKeyEnv == "" {
		g.APIKeyEnv = "GEMINI_API_KEY"
	}

	if cfg.Chunker.TargetWords == 0 {
		cfg.Chunker.TargetWords = def.Chunker.TargetWords
	}
	if cfg.Chunker.WindowSegments == 0 {
		cfg.Chunker.WindowSegments = def.Chunker.WindowSegments
	}
	if cfg.Chunker.MinChars == 0 {
		cfg.Chunker.MinChars = def.Chunker.MinChars
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.SimilarityThreshold == nil {
		cfg.Retrieval.SimilarityThreshold = def.Retrieval.SimilarityThreshold
	}
	if cfg.Retrieval.HistoryTurns == 0 {
		cfg.Retrieval.HistoryTurns = def.Retrieval.HistoryTurns
	}
	if cfg.Retrieval.SourcePreviewChars == 0 {
		cfg.Retrieval.SourcePreviewChars = def.Retrieval.SourcePreviewChars
	}
	if cfg.Retrieval.GreetingMaxWords == 0 {
		cfg.Retrieval.GreetingMaxWords = def.Retrieval.GreetingMaxWords
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = def.Server.Mode
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}
