package service

import "transcript-rag/internal/domain"

// Stage names a step of answering a question.
type Stage string

const (
	StageEmbedding Stage = "embedding"
	StageSearch    Stage = "search"
	StageGenerate  Stage = "generate"
)

// Status qualifies a progress event.
type Status string

const (
	StatusStarted   Status = "started"
	StatusComplete  Status = "complete"
	StatusSkipped   Status = "skipped"
	StatusStreaming Status = "streaming"
)

// Event is emitted by Ask. The concrete type is one of *ProgressEvent, *CompleteEvent or
// *FailedEvent; the last two are terminal.
type Event interface {
	Type() string
	isEvent()
}

// ProgressEvent reports a stage transition or, during generation, one answer token.
type ProgressEvent struct {
	Stage  Stage  `json:"stage"`
	Status Status `json:"status"`
	Token  string `json:"chunk,omitempty"`

	// MatchCount counts raw search hits, RelevantCount those above the similarity threshold.
	MatchCount    int       `json:"match_count,omitempty"`
	RelevantCount int       `json:"relevant_count,omitempty"`
	Scores        []float32 `json:"scores,omitempty"`
}

// Source is a transcript excerpt the answer was grounded on.
type Source struct {
	Number          int      `json:"number"`
	Index           uint32   `json:"index"`
	Text            string   `json:"text"`
	Score           float32  `json:"score"`
	StartTimestampS *float64 `json:"start_timestamp_s,omitempty"`
}

// Performance holds metrics derived from one request.
type Performance struct {
	DurationMs         int64   `json:"duration_ms"`
	TimeToFirstTokenMs int64   `json:"time_to_first_token_ms"`
	InputTokens        int     `json:"input_tokens"`
	OutputTokens       int     `json:"output_tokens"`
	TokensPerSecond    float64 `json:"tokens_per_second"`
}

// CompleteEvent carries the full answer.
type CompleteEvent struct {
	RequestID   string      `json:"request_id"`
	Answer      string      `json:"answer"`
	Sources     []Source    `json:"sources"`
	Performance Performance `json:"performance"`
}

// FailedEvent ends a request that could not be answered.
type FailedEvent struct {
	RequestID string           `json:"request_id"`
	Kind      domain.ErrorKind `json:"kind"`
	Message   string           `json:"message"`
	Stage     Stage            `json:"stage,omitempty"`
}

func (*ProgressEvent) Type() string { return "progress" }
func (*CompleteEvent) Type() string { return "complete" }
func (*FailedEvent) Type() string   { return "failed" }

func (*ProgressEvent) isEvent() {}
func (*CompleteEvent) isEvent() {}
func (*FailedEvent) isEvent()   {}
