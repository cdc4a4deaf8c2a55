package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"transcript-rag/internal/domain"
	"transcript-rag/internal/embedding"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/service"
	"transcript-rag/internal/vectorstore"
)

// RAG is the part of the service exposed over HTTP.
type RAG interface {
	ProcessCorpus(ctx context.Context, corpusID string, segments []domain.TimedSegment, onProgress embedding.ProgressFunc) (service.ProcessResult, error)
	Ask(ctx context.Context, req service.AskRequest) <-chan service.Event
	HasCorpus(corpusID string) bool
	ClearCorpus(corpusID string) error
	Corpora() []vectorstore.CorpusInfo
}

type CorpusHandler struct {
	rag      RAG
	validate *validator.Validate
	logger   *zap.Logger
}

func NewCorpusHandler(rag RAG, logger *zap.Logger) *CorpusHandler {
	return &CorpusHandler{rag: rag, validate: validator.New(), logger: logger}
}

type processRequest struct {
	Segments []domain.TimedSegment `json:"segments" validate:"required,min=1,max=50000"`
}

type askRequest struct {
	Question string        `json:"question" validate:"required,max=4000"`
	History  []domain.Turn `json:"history" validate:"omitempty,max=100,dive"`
}

// corpusID is the :id path value with surrounding whitespace removed.
func corpusID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}

func (h *CorpusHandler) Process(c *gin.Context) {
	id := corpusID(c)
	var req processRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.rag.ProcessCorpus(c.Request.Context(), id, req.Segments, nil)
	if err != nil {
		h.handleError(c, err)
		return
	}
	success(c, gin.H{"corpus_id": id, "chunk_count": res.ChunkCount, "embedding_count": res.EmbeddingCount})
}

func (h *CorpusHandler) List(c *gin.Context) {
	success(c, gin.H{"corpora": h.rag.Corpora()})
}

func (h *CorpusHandler) Delete(c *gin.Context) {
	id := corpusID(c)
	if !h.rag.HasCorpus(id) {
		fail(c, http.StatusNotFound, domain.KindNotReady, "corpus not found")
		return
	}
	if err := h.rag.ClearCorpus(id); err != nil {
		h.handleError(c, err)
		return
	}
	success(c, gin.H{"corpus_id": id})
}

// Ask streams the orchestrator events as server-sent events named after the event type.
func (h *CorpusHandler) Ask(c *gin.Context) {
	var req askRequest
	if !h.bind(c, &req) {
		return
	}
	events := h.rag.Ask(c.Request.Context(), service.AskRequest{
		CorpusID: corpusID(c),
		Question: req.Question,
		History:  req.History,
	})
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	// The channel closes after the terminal event or once the client goes away.
	for ev := range events {
		c.SSEvent(ev.Type(), ev)
		c.Writer.Flush()
	}
}

func (h *CorpusHandler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, "invalid", "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		msg := "invalid request"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = "invalid field " + verrs[0].Namespace() + ": " + verrs[0].Tag()
		}
		fail(c, http.StatusBadRequest, "invalid", msg)
		return false
	}
	return true
}

func (h *CorpusHandler) handleError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	_ = c.Error(err)
	logging.FromContext(c.Request.Context(), h.logger).Warn("request error",
		zap.String("path", c.FullPath()),
		zap.String("kind", string(kind)),
		zap.Error(err))
	fail(c, status, kind, err.Error())
}
