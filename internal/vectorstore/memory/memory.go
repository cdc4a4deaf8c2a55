package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"transcript-rag/internal/domain"
	"transcript-rag/internal/vectorstore"
)

const DefaultTopK = 3

// collection is an immutable snapshot. Replacement swaps the pointer, readers keep the
// snapshot they loaded.
type collection struct {
	dimension int
	records   []domain.VectorRecord
}

// Storage is an in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewStorage() *Storage {
	return &Storage{collections: make(map[string]*collection)}
}

var _ vectorstore.Storage = (*Storage)(nil)

func (s *Storage) ReplaceCollection(corpusID string, chunks []domain.Chunk, embeddings []domain.Embedding) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("%w: %d chunks, %d embeddings", domain.ErrDimensionMismatch, len(chunks), len(embeddings))
	}
	dim := 0
	if len(embeddings) > 0 {
		dim = len(embeddings[0])
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return fmt.Errorf("%w: embedding %d has dimension %d, expected %d", domain.ErrInconsistentDimension, i, len(e), dim)
		}
	}

	records := make([]domain.VectorRecord, len(chunks))
	for i := range chunks {
		vec := make(domain.Embedding, dim)
		copy(vec, embeddings[i])
		records[i] = domain.VectorRecord{
			ID:        fmt.Sprintf("%s:%d", corpusID, chunks[i].Index),
			CorpusID:  corpusID,
			Chunk:     chunks[i],
			Embedding: vec,
		}
	}
	// Insertion order is chunk index order, which the search tie-break relies on.
	sort.SliceStable(records, func(i, j int) bool { return records[i].Chunk.Index < records[j].Chunk.Index })
	next := &collection{dimension: dim, records: records}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[corpusID] = next
	return nil
}

func (s *Storage) Search(corpusID string, query domain.Embedding, topK int) ([]domain.SimilarityMatch, error) {
	col := s.snapshot(corpusID)
	if col == nil || len(col.records) == 0 {
		return []domain.SimilarityMatch{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(query) != col.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, collection %q has %d", domain.ErrInconsistentDimension, len(query), corpusID, col.dimension)
	}

	qnorm := norm(query)
	matches := make([]domain.SimilarityMatch, len(col.records))
	for i, rec := range col.records {
		matches[i] = domain.SimilarityMatch{Record: rec, Score: cosine(query, qnorm, rec.Embedding)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.Chunk.Index < matches[j].Record.Chunk.Index
	})
	if topK > len(matches) {
		topK = len(matches)
	}
	return matches[:topK:topK], nil
}

func (s *Storage) HasCorpus(corpusID string) bool {
	return s.snapshot(corpusID) != nil
}

func (s *Storage) Corpora() []vectorstore.CorpusInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vectorstore.CorpusInfo, 0, len(s.collections))
	for id, col := range s.collections {
		out = append(out, vectorstore.CorpusInfo{CorpusID: id, Records: len(col.records), Dimension: col.dimension})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CorpusID < out[j].CorpusID })
	return out
}

func (s *Storage) Clear(corpusID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, corpusID)
	return nil
}

func (s *Storage) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[string]*collection)
	return nil
}

func (s *Storage) snapshot(corpusID string) *collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collections[corpusID]
}

// Cosine returns the cosine similarity of a and b, 0 when either has zero norm.
func Cosine(a, b []float32) float32 {
	return cosine(a, norm(a), b)
}

func cosine(a []float32, anorm float64, b []float32) float32 {
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dot := 0.0
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (anorm * bnorm)
	// Rounding can push unit vectors marginally outside [-1, 1].
	return float32(math.Max(-1, math.Min(1, sim)))
}

func norm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
