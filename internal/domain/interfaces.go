package domain

// TimedSegment is one caption line of a transcript.
type TimedSegment struct {
	Text       string `json:"text"`
	OffsetMs   uint64 `json:"offset"`
	DurationMs uint64 `json:"duration"`
}

// EndMs returns the offset at which the segment stops being spoken.
func (s TimedSegment) EndMs() uint64 { return s.OffsetMs + s.DurationMs }

// Chunk is a contiguous run of transcript text sized for embedding.
type Chunk struct {
	Index           uint32   `json:"index"`
	Text            string   `json:"text"`
	WordCount       uint32   `json:"word_count"`
	StartTimestampS *float64 `json:"start_timestamp_s,omitempty"`
	EndTimestampS   *float64 `json:"end_timestamp_s,omitempty"`
}

// Embedding is a dense vector, unit-normalized unless it is the zero vector.
type Embedding []float32

// VectorRecord is an embedded chunk owned by exactly one corpus collection.
type VectorRecord struct {
	ID        string    `json:"id"`
	CorpusID  string    `json:"corpus_id"`
	Chunk     Chunk     `json:"chunk"`
	Embedding Embedding `json:"-"`
}

// SimilarityMatch represents a matching record with a cosine score in [-1, 1].
type SimilarityMatch struct {
	Record VectorRecord
	Score  float32
}

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message in the conversation about a corpus.
type Turn struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// Chunker splits ordered transcript segments into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(segments []TimedSegment, targetWords, overlapSegments int) []Chunk
}

// Seconds converts a millisecond offset into a timestamp pointer.
func Seconds(ms uint64) *float64 {
	s := float64(ms) / 1000.0
	return &s
}
