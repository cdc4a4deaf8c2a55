package vectorstore

import "transcript-rag/internal/domain"

// Storage keeps one collection of embedded chunks per corpus and supports similarity search.
type Storage interface {
	// ReplaceCollection atomically installs chunks and embeddings as the collection of corpusID.
	ReplaceCollection(corpusID string, chunks []domain.Chunk, embeddings []domain.Embedding) error
	// Search returns at most topK matches ordered by descending score. An unknown corpus yields
	// an empty result: a not yet processed transcript is a normal state, not a failure.
	Search(corpusID string, query domain.Embedding, topK int) ([]domain.SimilarityMatch, error)
	HasCorpus(corpusID string) bool
	Corpora() []CorpusInfo
	Clear(corpusID string) error
	ClearAll() error
}

// CorpusInfo describes one stored collection.
type CorpusInfo struct {
	CorpusID  string `json:"corpus_id"`
	Records   int    `json:"records"`
	Dimension int    `json:"dimension"`
}
