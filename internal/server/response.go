package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"transcript-rag/internal/domain"
)

type envelope struct {
	Code    int              `json:"code"`
	Kind    domain.ErrorKind `json:"kind,omitempty"`
	Message string           `json:"message"`
	Data    any              `json:"data,omitempty"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Message: "ok", Data: data})
}

func fail(c *gin.Context, status int, kind domain.ErrorKind, message string) {
	c.AbortWithStatusJSON(status, envelope{Code: status, Kind: kind, Message: message})
}

// statusFor maps an error to the HTTP status reported to clients.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindEmptyInput, domain.KindDimensionMismatch, domain.KindInconsistentDimension:
		return http.StatusBadRequest
	case domain.KindNotReady:
		return http.StatusNotFound
	case domain.KindEmbedding, domain.KindGeneration:
		return http.StatusBadGateway
	case domain.KindCancelled:
		return 499
	}
	return http.StatusInternalServerError
}
