package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxBodyBytes = 32 << 20

// NewRouter builds the HTTP API on top of rag.
func NewRouter(rag RAG, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		RequestID(logger),
		AccessLog(logger),
		limitBody(maxBodyBytes),
		// answer streams must reach the client unbuffered
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/ask$`})),
	)
	r.GET("/healthz", func(c *gin.Context) {
		success(c, gin.H{"status": "ok"})
	})

	corpora := NewCorpusHandler(rag, logger)
	api := r.Group("/api/v1")
	api.GET("/corpora", corpora.List)
	api.POST("/corpora/:id", corpora.Process)
	api.DELETE("/corpora/:id", corpora.Delete)
	api.POST("/corpora/:id/ask", corpora.Ask)
	return r
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

// Run serves handler on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Open answer streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
