package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"transcript-rag/internal/domain"
	"transcript-rag/internal/embedding"
	"transcript-rag/internal/generation"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/tokens"
	"transcript-rag/internal/vectorstore"
)

const (
	DefaultTargetWords         = 200
	DefaultOverlapSegments     = 1
	DefaultTopK                = 3
	DefaultSimilarityThreshold = 0.3
	DefaultHistoryTurns        = 5
	DefaultSourcePreviewChars  = 200
	defaultEventBuffer         = 16
)

const DefaultSystemPrompt = `You answer questions about a video transcript.
Use only the numbered context passages and cite them as [n].
If the context does not contain the answer, say that the transcript does not cover it.
For greetings or small talk, reply briefly and offer to answer questions about the transcript.`

// Embedder is the embedding capability the service needs. *embedding.Service implements it.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) (domain.Embedding, error)
	EmbedBatch(ctx context.Context, texts []string, onProgress embedding.ProgressFunc) ([]domain.Embedding, error)
}

// TokenCounter estimates the token count of a text.
type TokenCounter interface {
	Count(text string) int
}

// Options tunes chunking and retrieval. Zero values fall back to the defaults. A nil
// SimilarityThreshold means DefaultSimilarityThreshold; an explicit zero keeps every match.
type Options struct {
	TargetWords         int
	OverlapSegments     int
	TopK                int
	SimilarityThreshold *float32
	HistoryTurns        int
	SourcePreviewChars  int
	SystemPrompt        string
	Greeting            *GreetingClassifier
	Tokens              TokenCounter
	Logger              *zap.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		TargetWords:         DefaultTargetWords,
		OverlapSegments:     DefaultOverlapSegments,
		TopK:                DefaultTopK,
		SimilarityThreshold: Threshold(DefaultSimilarityThreshold),
		HistoryTurns:        DefaultHistoryTurns,
		SourcePreviewChars:  DefaultSourcePreviewChars,
		SystemPrompt:        DefaultSystemPrompt,
	}
}

func (o *Options) applyDefaults() {
	if o.TargetWords <= 0 {
		o.TargetWords = DefaultTargetWords
	}
	if o.OverlapSegments < 0 {
		o.OverlapSegments = 0
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.SimilarityThreshold == nil {
		o.SimilarityThreshold = Threshold(DefaultSimilarityThreshold)
	}
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = DefaultHistoryTurns
	}
	if o.SourcePreviewChars <= 0 {
		o.SourcePreviewChars = DefaultSourcePreviewChars
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.Greeting == nil {
		o.Greeting = NewGreetingClassifier(DefaultGreetingPhrases, DefaultGreetingMaxWords)
	}
	if o.Tokens == nil {
		o.Tokens = tokens.Heuristic{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Threshold returns a pointer to v for Options.SimilarityThreshold.
func Threshold(v float32) *float32 { return &v }

// ProcessResult summarizes one corpus (re)processing.
type ProcessResult struct {
	ChunkCount     int `json:"chunk_count"`
	EmbeddingCount int `json:"embedding_count"`
}

// AskRequest is one question against a corpus.
type AskRequest struct {
	CorpusID string        `json:"corpus_id"`
	Question string        `json:"question"`
	History  []domain.Turn `json:"history"`
}

// RAGService chunks and indexes transcripts and answers questions grounded on them.
// The store is written only by ProcessCorpus and ClearCorpus; Ask never mutates it.
type RAGService struct {
	chunker   domain.Chunker
	embedder  Embedder
	store     vectorstore.Storage
	generator generation.Generator
	opts      Options
	logger    *zap.Logger
}

func NewRAGService(chunker domain.Chunker, embedder Embedder, store vectorstore.Storage, generator generation.Generator, opts Options) *RAGService {
	opts.applyDefaults()
	return &RAGService{
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		generator: generator,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// ProcessCorpus chunks segments, embeds every chunk and atomically replaces the collection
// of corpusID. A failure leaves any previous collection untouched.
func (s *RAGService) ProcessCorpus(ctx context.Context, corpusID string, segments []domain.TimedSegment, onProgress embedding.ProgressFunc) (ProcessResult, error) {
	if strings.TrimSpace(corpusID) == "" {
		return ProcessResult{}, errors.New("corpus id is required")
	}
	start := time.Now()
	chunks := s.chunker.Chunk(segments, s.opts.TargetWords, s.opts.OverlapSegments)
	if len(chunks) == 0 {
		return ProcessResult{}, fmt.Errorf("process corpus %s: no chunks from %d segments: %w", corpusID, len(segments), domain.ErrEmptyInput)
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	embeddings, err := s.embedder.EmbedBatch(ctx, texts, onProgress)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("process corpus %s: %w", corpusID, err)
	}
	if err := s.store.ReplaceCollection(corpusID, chunks, embeddings); err != nil {
		return ProcessResult{}, fmt.Errorf("process corpus %s: %w", corpusID, err)
	}
	s.logger.Info("corpus processed",
		zap.String("corpus_id", corpusID),
		zap.Int("segments", len(segments)),
		zap.Int("chunks", len(chunks)),
		zap.String("embedder", s.embedder.Name()),
		zap.Duration("took", time.Since(start)))
	return ProcessResult{ChunkCount: len(chunks), EmbeddingCount: len(embeddings)}, nil
}

// HasCorpus reports whether corpusID has a stored collection.
func (s *RAGService) HasCorpus(corpusID string) bool { return s.store.HasCorpus(corpusID) }

// ClearCorpus drops the collection of corpusID.
func (s *RAGService) ClearCorpus(corpusID string) error {
	if err := s.store.Clear(corpusID); err != nil {
		return err
	}
	s.logger.Info("corpus cleared", zap.String("corpus_id", corpusID))
	return nil
}

// Corpora lists the stored collections.
func (s *RAGService) Corpora() []vectorstore.CorpusInfo { return s.store.Corpora() }

// Ask answers req asynchronously. The returned channel yields progress events in stage order
// followed by exactly one *CompleteEvent or *FailedEvent, and is then closed. Cancelling ctx
// stops generation promptly and discards the partial answer.
func (s *RAGService) Ask(ctx context.Context, req AskRequest) <-chan Event {
	out := make(chan Event, defaultEventBuffer)
	id := uuid.NewString()
	logger := s.logger.With(zap.String("request_id", id), zap.String("corpus_id", req.CorpusID))
	r := &askRun{
		svc:    s,
		ctx:    logging.WithContext(ctx, logger),
		id:     id,
		out:    out,
		logger: logger,
		start:  time.Now(),
	}
	r.sm.onChange = func(from, to State) {
		logger.Debug("ask state", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	go func() {
		defer close(out)
		r.run(req)
	}()
	return out
}

// askRun is the state of a single Ask. It is confined to one goroutine.
type askRun struct {
	svc    *RAGService
	ctx    context.Context
	id     string
	out    chan<- Event
	logger *zap.Logger
	sm     stateMachine
	start  time.Time
}

func (r *askRun) run(req AskRequest) {
	s := r.svc
	question := strings.TrimSpace(req.Question)

	r.advance(StateEmbeddingQuestion)
	if !r.emit(&ProgressEvent{Stage: StageEmbedding, Status: StatusStarted}) {
		r.fail(StageEmbedding, r.ctx.Err())
		return
	}
	if question == "" {
		r.fail(StageEmbedding, fmt.Errorf("question: %w", domain.ErrEmptyInput))
		return
	}
	queryVec, err := s.embedder.Embed(r.ctx, question)
	if err != nil {
		r.fail(StageEmbedding, err)
		return
	}

	var matches []domain.SimilarityMatch
	if s.opts.Greeting.IsGreeting(question) {
		r.advance(StateAssemblingContext)
		if !r.emit(&ProgressEvent{Stage: StageSearch, Status: StatusSkipped}) {
			r.fail(StageSearch, r.ctx.Err())
			return
		}
	} else {
		r.advance(StateSearching)
		if !s.store.HasCorpus(req.CorpusID) {
			r.fail(StageSearch, fmt.Errorf("corpus %q: %w", req.CorpusID, domain.ErrNotReady))
			return
		}
		raw, err := s.store.Search(req.CorpusID, queryVec, s.opts.TopK)
		if err != nil {
			r.fail(StageSearch, fmt.Errorf("search corpus %q: %w", req.CorpusID, err))
			return
		}
		scores := make([]float32, len(raw))
		for i, m := range raw {
			scores[i] = m.Score
			if m.Score >= *s.opts.SimilarityThreshold {
				matches = append(matches, m)
			}
		}
		r.advance(StateAssemblingContext)
		if !r.emit(&ProgressEvent{
			Stage:         StageSearch,
			Status:        StatusComplete,
			MatchCount:    len(raw),
			RelevantCount: len(matches),
			Scores:        scores,
		}) {
			r.fail(StageSearch, r.ctx.Err())
			return
		}
	}

	genReq := generation.Request{
		SystemPrompt: s.opts.SystemPrompt,
		Passages:     make([]generation.Passage, len(matches)),
		History:      lastTurns(req.History, s.opts.HistoryTurns),
		Question:     question,
	}
	sources := make([]Source, len(matches))
	for i, m := range matches {
		ch := m.Record.Chunk
		genReq.Passages[i] = generation.Passage{Number: i + 1, Text: ch.Text, StartTimestampS: ch.StartTimestampS, Score: m.Score}
		sources[i] = Source{
			Number:          i + 1,
			Index:           ch.Index,
			Text:            truncate(ch.Text, s.opts.SourcePreviewChars),
			Score:           m.Score,
			StartTimestampS: ch.StartTimestampS,
		}
	}

	r.advance(StateGenerating)
	answer, firstToken, err := r.generate(genReq)
	if err != nil {
		r.fail(StageGenerate, err)
		return
	}

	elapsed := time.Since(r.start)
	perf := Performance{
		DurationMs:   elapsed.Milliseconds(),
		InputTokens:  s.opts.Tokens.Count(genReq.Prompt()),
		OutputTokens: s.opts.Tokens.Count(answer),
	}
	if !firstToken.IsZero() {
		perf.TimeToFirstTokenMs = firstToken.Sub(r.start).Milliseconds()
		if secs := time.Since(firstToken).Seconds(); secs > 0 {
			perf.TokensPerSecond = float64(perf.OutputTokens) / secs
		}
	}
	r.advance(StateComplete)
	if !r.emit(&CompleteEvent{RequestID: r.id, Answer: answer, Sources: sources, Performance: perf}) {
		return
	}
	r.logger.Info("question answered",
		zap.Int("sources", len(sources)),
		zap.Int("output_tokens", perf.OutputTokens),
		zap.Int64("duration_ms", perf.DurationMs))
}

// generate streams tokens as progress events and returns the accumulated answer.
func (r *askRun) generate(req generation.Request) (string, time.Time, error) {
	stream, err := r.svc.generator.Generate(r.ctx, req)
	if err != nil {
		return "", time.Time{}, wrapGeneration(err)
	}
	var once sync.Once
	closeStream := func() {
		once.Do(func() {
			if err := stream.Close(); err != nil {
				r.logger.Debug("close generation stream", zap.Error(err))
			}
		})
	}
	defer closeStream()
	// A provider blocked in Recv is released by closing its stream.
	stop := context.AfterFunc(r.ctx, closeStream)
	defer stop()

	var (
		answer     strings.Builder
		firstToken time.Time
	)
	for {
		tok, err := stream.Recv()
		if cerr := r.ctx.Err(); cerr != nil {
			return "", time.Time{}, cerr
		}
		if errors.Is(err, io.EOF) {
			return answer.String(), firstToken, nil
		}
		if err != nil {
			return "", time.Time{}, wrapGeneration(err)
		}
		if tok == "" {
			continue
		}
		if firstToken.IsZero() {
			firstToken = time.Now()
		}
		answer.WriteString(tok)
		if !r.emit(&ProgressEvent{Stage: StageGenerate, Status: StatusStreaming, Token: tok}) {
			return "", time.Time{}, r.ctx.Err()
		}
	}
}

func (r *askRun) advance(to State) {
	if err := r.sm.transition(to); err != nil {
		r.logger.DPanic("state machine", zap.Error(err))
	}
}

// emit delivers ev unless the caller has gone away.
func (r *askRun) emit(ev Event) bool {
	select {
	case r.out <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *askRun) fail(stage Stage, err error) {
	if err == nil {
		err = errors.New("unknown failure")
	}
	kind := domain.KindOf(err)
	if r.ctx.Err() != nil {
		kind = domain.KindCancelled
	}
	r.advance(StateFailed)
	ev := &FailedEvent{RequestID: r.id, Kind: kind, Message: err.Error(), Stage: stage}
	if kind == domain.KindCancelled {
		r.logger.Info("question cancelled", zap.String("stage", string(stage)))
		select {
		case r.out <- ev:
		default:
		}
		return
	}
	r.logger.Warn("question failed", zap.String("stage", string(stage)), zap.String("kind", string(kind)), zap.Error(err))
	r.emit(ev)
}

func wrapGeneration(err error) error {
	var genErr *domain.GenerationError
	if errors.As(err, &genErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.GenerationError{Err: err}
}

func lastTurns(history []domain.Turn, n int) []domain.Turn {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return append([]domain.Turn(nil), history...)
}

// truncate shortens s to at most limit runes, cutting at a word boundary when possible.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if !unicode.IsSpace(runes[limit]) {
		if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRight(cut, " \t\n,.;:") + "..."
}
