package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"transcript-rag/internal/chunker"
	"transcript-rag/internal/domain"
	"transcript-rag/internal/embedding"
	"transcript-rag/internal/embedding/hashing"
	"transcript-rag/internal/generation"
	"transcript-rag/internal/generation/extractive"
	"transcript-rag/internal/summarizer"
	"transcript-rag/internal/vectorstore/memory"
)

type mapEmbedder struct {
	vecs map[string]domain.Embedding
	err  error
}

func (m *mapEmbedder) Name() string { return "map" }

func (m *mapEmbedder) Embed(_ context.Context, text string) (domain.Embedding, error) {
	if m.err != nil {
		return nil, &domain.EmbeddingError{Err: m.err}
	}
	if v, ok := m.vecs[text]; ok {
		return v, nil
	}
	return domain.Embedding{0, 0}, nil
}

func (m *mapEmbedder) EmbedBatch(ctx context.Context, texts []string, onProgress embedding.ProgressFunc) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
		if onProgress != nil {
			onProgress(i+1, len(texts))
		}
	}
	return out, nil
}

type scriptStream struct {
	tokens []string
	err    error
	closed atomic.Bool
}

func (s *scriptStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *scriptStream) Close() error {
	s.closed.Store(true)
	return nil
}

type recordingGenerator struct {
	mu        sync.Mutex
	req       generation.Request
	tokens    []string
	err       error
	streamErr error
	stream    *scriptStream
}

func (g *recordingGenerator) Name() string { return "recording" }

func (g *recordingGenerator) Generate(_ context.Context, req generation.Request) (generation.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.req = req
	if g.err != nil {
		return nil, g.err
	}
	g.stream = &scriptStream{tokens: append([]string(nil), g.tokens...), err: g.streamErr}
	return g.stream, nil
}

func (g *recordingGenerator) lastRequest() generation.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.req
}

// blockingStream yields one token and then blocks until it is closed.
type blockingStream struct {
	sent   bool
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

func (s *blockingStream) Recv() (string, error) {
	if !s.sent {
		s.sent = true
		return "first ", nil
	}
	<-s.done
	return "", errors.New("use of closed stream")
}

func (s *blockingStream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

type blockingGenerator struct{ stream *blockingStream }

func (g *blockingGenerator) Name() string { return "blocking" }

func (g *blockingGenerator) Generate(context.Context, generation.Request) (generation.Stream, error) {
	return g.stream, nil
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream not closed, got %d events", len(events))
			return nil
		}
	}
}

func tokensOf(events []Event) []string {
	var out []string
	for _, ev := range events {
		if p, ok := ev.(*ProgressEvent); ok && p.Stage == StageGenerate {
			out = append(out, p.Token)
		}
	}
	return out
}

// stagesOf lists the distinct progress stages in emission order.
func stagesOf(events []Event) []Stage {
	var out []Stage
	for _, ev := range events {
		p, ok := ev.(*ProgressEvent)
		if !ok || (len(out) > 0 && out[len(out)-1] == p.Stage) {
			continue
		}
		out = append(out, p.Stage)
	}
	return out
}

func newOfflineService(t *testing.T, opts Options) *RAGService {
	t.Helper()
	opts.Logger = zap.NewNop()
	emb := embedding.NewService(hashing.NewEmbedder(256), 2, zap.NewNop())
	gen := extractive.NewGenerator(summarizer.NewFrequencySummarizer(), 2, "")
	return NewRAGService(chunker.NewSegmentChunker(0, 0), emb, memory.NewStorage(), gen, opts)
}

func lectureSegments() []domain.TimedSegment {
	lines := []string{
		"Welcome to this talk about concurrency in Go.",
		"Goroutines are lightweight threads managed by the runtime.",
		"You start one with the go keyword in front of a call.",
		"Channels connect goroutines and carry typed values.",
		"An unbuffered channel synchronizes sender and receiver.",
		"A buffered channel holds values until a receiver is ready.",
		"The select statement waits on several channel operations.",
		"Context values carry cancellation across API boundaries.",
		"Always cancel a context when the work is done.",
		"Mutexes protect shared memory when channels do not fit.",
		"The race detector finds unsynchronized access in tests.",
		"Thanks for watching and see you next time.",
	}
	segs := make([]domain.TimedSegment, len(lines))
	for i, l := range lines {
		segs[i] = domain.TimedSegment{Text: l, OffsetMs: uint64(i) * 4000, DurationMs: 4000}
	}
	return segs
}

func TestProcessCorpus(t *testing.T) {
	svc := newOfflineService(t, DefaultOptions())
	var calls, lastDone, lastTotal int
	res, err := svc.ProcessCorpus(context.Background(), "talk", lectureSegments(), func(done, total int) {
		calls++
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)
	assert.Greater(t, res.ChunkCount, 1)
	assert.Equal(t, res.ChunkCount, res.EmbeddingCount)
	assert.Equal(t, res.ChunkCount, calls)
	assert.Equal(t, lastTotal, lastDone)
	assert.True(t, svc.HasCorpus("talk"))

	corpora := svc.Corpora()
	require.Len(t, corpora, 1)
	assert.Equal(t, "talk", corpora[0].CorpusID)
	assert.Equal(t, res.ChunkCount, corpora[0].Records)
	assert.Equal(t, 256, corpora[0].Dimension)

	require.NoError(t, svc.ClearCorpus("talk"))
	assert.False(t, svc.HasCorpus("talk"))
}

func TestProcessCorpusEmptyInput(t *testing.T) {
	svc := newOfflineService(t, DefaultOptions())
	_, err := svc.ProcessCorpus(context.Background(), "blank", []domain.TimedSegment{{Text: "  "}, {Text: "\n"}}, nil)
	require.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Equal(t, domain.KindEmptyInput, domain.KindOf(err))
	assert.False(t, svc.HasCorpus("blank"))

	_, err = svc.ProcessCorpus(context.Background(), " ", lectureSegments(), nil)
	assert.Error(t, err)
}

func TestProcessCorpusFailureKeepsPreviousCollection(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string]domain.Embedding{}}
	svc := NewRAGService(chunker.NewSegmentChunker(0, 0), emb, memory.NewStorage(), &recordingGenerator{}, Options{})
	_, err := svc.ProcessCorpus(context.Background(), "c", []domain.TimedSegment{{Text: "Hello world.", DurationMs: 1000}}, nil)
	require.NoError(t, err)

	emb.err = errors.New("model unavailable")
	_, err = svc.ProcessCorpus(context.Background(), "c", lectureSegments(), nil)
	var embErr *domain.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	require.True(t, svc.HasCorpus("c"))
	assert.Equal(t, 1, svc.Corpora()[0].Records)
}

func TestAskGreetingWithoutCorpus(t *testing.T) {
	svc := newOfflineService(t, DefaultOptions())
	events := collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "missing", Question: "hi"}))
	require.GreaterOrEqual(t, len(events), 4)

	first := events[0].(*ProgressEvent)
	assert.Equal(t, StageEmbedding, first.Stage)
	search := events[1].(*ProgressEvent)
	assert.Equal(t, StageSearch, search.Stage)
	assert.Equal(t, StatusSkipped, search.Status)

	done, ok := events[len(events)-1].(*CompleteEvent)
	require.True(t, ok, "last event is %T", events[len(events)-1])
	assert.Equal(t, extractive.DefaultNoContextReply, done.Answer)
	assert.Equal(t, done.Answer, strings.Join(tokensOf(events), ""))
	assert.Empty(t, done.Sources)
	assert.NotEmpty(t, done.RequestID)
	assert.Greater(t, done.Performance.OutputTokens, 0)
	assert.Greater(t, done.Performance.InputTokens, 0)
}

func TestAskNotReady(t *testing.T) {
	svc := newOfflineService(t, DefaultOptions())
	events := collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "missing", Question: "What are channels for?"}))
	require.Len(t, events, 2)
	failed, ok := events[1].(*FailedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.KindNotReady, failed.Kind)
	assert.Equal(t, StageSearch, failed.Stage)
	assert.Contains(t, failed.Message, "missing")
}

func TestAskEmptyQuestion(t *testing.T) {
	svc := newOfflineService(t, DefaultOptions())
	events := collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "c", Question: "   "}))
	failed, ok := events[len(events)-1].(*FailedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.KindEmptyInput, failed.Kind)
}

func TestAskGroundedAnswer(t *testing.T) {
	svc := newOfflineService(t, DefaultOptions())
	_, err := svc.ProcessCorpus(context.Background(), "talk", lectureSegments(), nil)
	require.NoError(t, err)

	events := collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "talk", Question: "How do channels connect goroutines?"}))
	require.GreaterOrEqual(t, len(events), 3)

	search := events[1].(*ProgressEvent)
	assert.Equal(t, StageSearch, search.Stage)
	assert.Equal(t, StatusComplete, search.Status)
	assert.Equal(t, DefaultTopK, search.MatchCount)
	require.Len(t, search.Scores, search.MatchCount)
	for i := 1; i < len(search.Scores); i++ {
		assert.GreaterOrEqual(t, search.Scores[i-1], search.Scores[i])
	}

	assert.Equal(t, []Stage{StageEmbedding, StageSearch, StageGenerate}, stagesOf(events))

	done, ok := events[len(events)-1].(*CompleteEvent)
	require.True(t, ok)
	assert.Equal(t, done.Answer, strings.Join(tokensOf(events), ""))
	assert.Len(t, done.Sources, search.RelevantCount)
	for i, src := range done.Sources {
		assert.Equal(t, i+1, src.Number)
		assert.GreaterOrEqual(t, src.Score, float32(DefaultSimilarityThreshold))
		assert.NotNil(t, src.StartTimestampS)
	}
}

func TestAskSimilarityThreshold(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string]domain.Embedding{"where is east?": {1, 0}}}
	store := memory.NewStorage()
	chunks := []domain.Chunk{
		{Index: 0, Text: "East is to the right.", WordCount: 5},
		{Index: 1, Text: "North is up.", WordCount: 3},
		{Index: 2, Text: "North east is between them.", WordCount: 5},
	}
	require.NoError(t, store.ReplaceCollection("map", chunks, []domain.Embedding{{1, 0}, {0, 1}, {0.707, 0.707}}))
	gen := &recordingGenerator{tokens: []string{"To ", "the ", "right."}}
	// threshold left unset falls back to 0.3
	svc := NewRAGService(chunker.NewSegmentChunker(0, 0), emb, store, gen, Options{SourcePreviewChars: 10})

	events := collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "map", Question: "where is east?"}))
	search := events[1].(*ProgressEvent)
	assert.Equal(t, 3, search.MatchCount)
	assert.Equal(t, 2, search.RelevantCount)
	assert.InDelta(t, 1.0, search.Scores[0], 1e-6)
	assert.InDelta(t, 0.707/0.99985, search.Scores[1], 1e-3)

	req := gen.lastRequest()
	require.Len(t, req.Passages, 2)
	assert.Equal(t, "East is to the right.", req.Passages[0].Text)
	assert.Equal(t, "North east is between them.", req.Passages[1].Text)
	assert.Equal(t, DefaultSystemPrompt, req.SystemPrompt)

	done := events[len(events)-1].(*CompleteEvent)
	assert.Equal(t, "To the right.", done.Answer)
	require.Len(t, done.Sources, 2)
	assert.Equal(t, uint32(2), done.Sources[1].Index)
	assert.Equal(t, "North east...", done.Sources[1].Text)
	assert.True(t, gen.stream.closed.Load())
}

func TestAskZeroThresholdKeepsEveryMatch(t *testing.T) {
	emb := &mapEmbedder{vecs: map[string]domain.Embedding{"where is east?": {1, 0}}}
	store := memory.NewStorage()
	chunks := []domain.Chunk{
		{Index: 0, Text: "East is to the right.", WordCount: 5},
		{Index: 1, Text: "North is up.", WordCount: 3},
	}
	require.NoError(t, store.ReplaceCollection("map", chunks, []domain.Embedding{{1, 0}, {0, 1}}))
	gen := &recordingGenerator{tokens: []string{"Right."}}
	svc := NewRAGService(chunker.NewSegmentChunker(0, 0), emb, store, gen, Options{SimilarityThreshold: Threshold(0)})

	events := collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "map", Question: "where is east?"}))
	search := events[1].(*ProgressEvent)
	assert.Equal(t, 2, search.MatchCount)
	assert.Equal(t, 2, search.RelevantCount)
	assert.Len(t, gen.lastRequest().Passages, 2)
}

func TestAskTrimsHistory(t *testing.T) {
	gen := &recordingGenerator{tokens: []string{"ok"}}
	svc := NewRAGService(chunker.NewSegmentChunker(0, 0), &mapEmbedder{}, memory.NewStorage(), gen, Options{HistoryTurns: 2})
	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "one"},
		{Role: domain.RoleAssistant, Content: "two"},
		{Role: domain.RoleUser, Content: "three"},
		{Role: domain.RoleAssistant, Content: "four"},
	}
	collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "x", Question: "thanks!", History: history}))
	req := gen.lastRequest()
	assert.Equal(t, history[2:], req.History)
	assert.Equal(t, "thanks!", req.Question)
	assert.Empty(t, req.Passages)
}

func TestAskEmbeddingFailure(t *testing.T) {
	emb := &mapEmbedder{err: errors.New("connection refused")}
	svc := NewRAGService(chunker.NewSegmentChunker(0, 0), emb, memory.NewStorage(), &recordingGenerator{}, Options{})
	events := collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "c", Question: "hello"}))
	require.Len(t, events, 2)
	failed := events[1].(*FailedEvent)
	assert.Equal(t, domain.KindEmbedding, failed.Kind)
	assert.Equal(t, StageEmbedding, failed.Stage)
	assert.Contains(t, failed.Message, "connection refused")
}

func TestAskGenerationFailure(t *testing.T) {
	t.Run("on start", func(t *testing.T) {
		gen := &recordingGenerator{err: errors.New("model not found")}
		svc := NewRAGService(chunker.NewSegmentChunker(0, 0), &mapEmbedder{}, memory.NewStorage(), gen, Options{})
		events := collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "c", Question: "hey"}))
		failed := events[len(events)-1].(*FailedEvent)
		assert.Equal(t, domain.KindGeneration, failed.Kind)
		assert.Equal(t, StageGenerate, failed.Stage)
	})
	t.Run("mid stream", func(t *testing.T) {
		gen := &recordingGenerator{tokens: []string{"partial ", "answer"}, streamErr: errors.New("connection reset")}
		svc := NewRAGService(chunker.NewSegmentChunker(0, 0), &mapEmbedder{}, memory.NewStorage(), gen, Options{})
		events := collect(t, svc.Ask(context.Background(), AskRequest{CorpusID: "c", Question: "hey"}))
		assert.Equal(t, []string{"partial ", "answer"}, tokensOf(events))
		failed := events[len(events)-1].(*FailedEvent)
		assert.Equal(t, domain.KindGeneration, failed.Kind)
		for _, ev := range events {
			_, complete := ev.(*CompleteEvent)
			assert.False(t, complete)
		}
		assert.True(t, gen.stream.closed.Load())
	})
}

func TestAskCancellation(t *testing.T) {
	stream := &blockingStream{done: make(chan struct{})}
	svc := NewRAGService(chunker.NewSegmentChunker(0, 0), &mapEmbedder{}, memory.NewStorage(), &blockingGenerator{stream: stream}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := svc.Ask(ctx, AskRequest{CorpusID: "c", Question: "hello there"})
	var events []Event
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				break loop
			}
			events = append(events, ev)
			if p, isProgress := ev.(*ProgressEvent); isProgress && p.Stage == StageGenerate {
				cancel()
			}
		case <-timeout:
			t.Fatal("event stream not closed after cancel")
		}
	}

	assert.True(t, stream.closed.Load())
	assert.Equal(t, []string{"first "}, tokensOf(events))
	last := events[len(events)-1]
	if failed, ok := last.(*FailedEvent); ok {
		assert.Equal(t, domain.KindCancelled, failed.Kind)
	} else {
		assert.IsType(t, &ProgressEvent{}, last)
	}
}

func TestAskConcurrentRequests(t *testing.T) {
	svc := newOfflineService(t, DefaultOptions())
	_, err := svc.ProcessCorpus(context.Background(), "talk", lectureSegments(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Event, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := fmt.Sprintf("What does the select statement do? (%d)", i)
			for ev := range svc.Ask(context.Background(), AskRequest{CorpusID: "talk", Question: q}) {
				results[i] = ev
			}
		}()
	}
	wg.Wait()
	for _, ev := range results {
		assert.IsType(t, &CompleteEvent{}, ev)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "hello...", truncate("hello wonderful world", 12))
	assert.Equal(t, "hello wonderful...", truncate("hello wonderful world", 15))
	assert.Equal(t, "héllo...", truncate("héllo wörld and more", 8))
	assert.Equal(t, "abcdefgh...", truncate("abcdefghijkl", 8))
}
