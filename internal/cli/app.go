package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"transcript-rag/internal/chunker"
	"transcript-rag/internal/config"
	"transcript-rag/internal/domain"
	"transcript-rag/internal/embedding"
	"transcript-rag/internal/embedding/gemini"
	"transcript-rag/internal/embedding/hashing"
	"transcript-rag/internal/embedding/openai"
	"transcript-rag/internal/generation"
	"transcript-rag/internal/generation/extractive"
	geminigen "transcript-rag/internal/generation/gemini"
	openaigen "transcript-rag/internal/generation/openai"
	"transcript-rag/internal/service"
	"transcript-rag/internal/summarizer"
	"transcript-rag/internal/tokens"
	"transcript-rag/internal/transcript"
	"transcript-rag/internal/vectorstore/memory"
)

func newEmbeddingProvider(ctx context.Context, cfg *config.AppConfig) (embedding.Provider, error) {
	var p embedding.Provider
	switch cfg.Embedder.Type {
	case "hashing", "":
		p = hashing.NewEmbedder(cfg.Embedder.Dimension)
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv:  cfg.Embedder.OpenAI.APIKeyEnv,
			Model:      cfg.Embedder.OpenAI.Model,
			Timeout:    time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Embedder.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		p = client
	case "gemini":
		if cfg.Embedder.Gemini == nil {
			return nil, fmt.Errorf("gemini embedder config missing")
		}
		e, err := gemini.NewEmbedder(ctx, gemini.Config{
			APIKeyEnv: cfg.Embedder.Gemini.APIKeyEnv,
			Model:     cfg.Embedder.Gemini.Model,
			TaskType:  cfg.Embedder.Gemini.TaskType,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini embedder init failed: %w", err)
		}
		p = e
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
	if cfg.Embedder.CacheSize > 0 {
		p = embedding.WithCache(p, cfg.Embedder.CacheSize, time.Duration(cfg.Embedder.CacheTTLSecs)*time.Second)
	}
	return p, nil
}

func newGenerator(ctx context.Context, cfg *config.AppConfig) (generation.Generator, error) {
	switch cfg.Generator.Type {
	case "extractive", "":
		return extractive.NewGenerator(summarizer.NewFrequencySummarizer(), cfg.Generator.MaxSentences, cfg.Generator.NoContextReply), nil
	case "openai":
		o := cfg.Generator.OpenAI
		if o == nil {
			return nil, fmt.Errorf("openai generator config missing")
		}
		client, err := openaigen.NewClient(openaigen.Config{
			BaseURL:     o.BaseURL,
			APIKeyEnv:   o.APIKeyEnv,
			Model:       o.Model,
			Temperature: o.Temperature,
			MaxTokens:   o.MaxTokens,
			Timeout:     time.Duration(o.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai generator init failed: %w", err)
		}
		return client, nil
	case "gemini":
		g := cfg.Generator.Gemini
		if g == nil {
			return nil, fmt.Errorf("gemini generator config missing")
		}
		gen, err := geminigen.NewGenerator(ctx, geminigen.Config{
			APIKeyEnv:   g.APIKeyEnv,
			Model:       g.Model,
			Temperature: g.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini generator init failed: %w", err)
		}
		return gen, nil
	}
	return nil, fmt.Errorf("unknown generator: %s", cfg.Generator.Type)
}

func serviceOptions(cfg *config.AppConfig, logger *zap.Logger) service.Options {
	phrases := cfg.Retrieval.GreetingPhrases
	if len(phrases) == 0 {
		phrases = service.DefaultGreetingPhrases
	}
	opts := service.Options{
		TargetWords:        cfg.Chunker.TargetWords,
		OverlapSegments:    cfg.Chunker.OverlapSegments,
		TopK:               cfg.Retrieval.TopK,
		HistoryTurns:       cfg.Retrieval.HistoryTurns,
		SourcePreviewChars: cfg.Retrieval.SourcePreviewChars,
		SystemPrompt:       cfg.Retrieval.SystemPrompt,
		Greeting:           service.NewGreetingClassifier(phrases, cfg.Retrieval.GreetingMaxWords),
		Tokens:             tokens.Heuristic{},
		Logger:             logger,
	}
	if cfg.Retrieval.SimilarityThreshold != nil {
		opts.SimilarityThreshold = service.Threshold(*cfg.Retrieval.SimilarityThreshold)
	}
	return opts
}

func newChunker(cfg *config.AppConfig) domain.Chunker {
	return chunker.NewSegmentChunker(cfg.Chunker.WindowSegments, cfg.Chunker.MinChars)
}

// newService assembles the RAG service from configuration.
func newService(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*service.RAGService, error) {
	provider, err := newEmbeddingProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	emb := embedding.NewService(provider, cfg.Embedder.Concurrency, logger)
	opts := serviceOptions(cfg, logger)
	if cfg.Retrieval.TokenEncoding != "" {
		opts.Tokens = loadTokenCounter(ctx, cfg.Retrieval.TokenEncoding, logger)
	}
	logger.Debug("service assembled",
		zap.String("embedder", provider.Name()),
		zap.String("generator", gen.Name()))
	return service.NewRAGService(newChunker(cfg), emb, memory.NewStorage(), gen, opts), nil
}

const tokenEncodingTimeout = 10 * time.Second

// loadTokenCounter fetches the BPE encoding up front so answering never waits on it.
// On failure the counter keeps estimating from word counts.
func loadTokenCounter(ctx context.Context, encoding string, logger *zap.Logger) *tokens.Counter {
	counter := tokens.NewCounter(encoding)
	loadCtx, cancel := context.WithTimeout(ctx, tokenEncodingTimeout)
	defer cancel()
	if err := counter.Load(loadCtx); err != nil {
		logger.Warn("token encoding unavailable, estimating from words",
			zap.String("encoding", encoding), zap.Error(err))
	}
	return counter
}

// ingest loads the transcript at path and processes it as a corpus, drawing a progress bar
// on stderr while chunks are embedded.
func ingest(ctx context.Context, svc *service.RAGService, path string, quiet bool) (string, []domain.TimedSegment, error) {
	segments, err := transcript.LoadFile(path)
	if err != nil {
		return "", nil, err
	}
	corpusID := transcript.CorpusID(path)

	var bar *progressbar.ProgressBar
	onProgress := func(done, total int) {
		if quiet {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}
		_ = bar.Set(done)
	}
	res, err := svc.ProcessCorpus(ctx, corpusID, segments, onProgress)
	if err != nil {
		return "", nil, err
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "Indexed %d chunks from %d segments.\n", res.ChunkCount, len(segments))
	}
	return corpusID, segments, nil
}

func joinText(segments []domain.TimedSegment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}
