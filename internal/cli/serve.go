package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transcript-rag/internal/server"
)

var (
	serveAddr    string
	servePreload []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the corpus and question answering API. Answers stream as server-sent events.

Endpoints:
  POST   /api/v1/corpora/:id       index {"segments": [{"text", "offset", "duration"}]}
  GET    /api/v1/corpora           list indexed corpora
  DELETE /api/v1/corpora/:id       drop a corpus
  POST   /api/v1/corpora/:id/ask   {"question", "history"} answered as SSE`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringSliceVar(&servePreload, "preload", nil, "transcript files to index at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	for _, path := range servePreload {
		corpusID, _, err := ingest(ctx, svc, path, true)
		if err != nil {
			return err
		}
		logger.Info("transcript preloaded", zap.String("path", path), zap.String("corpus_id", corpusID))
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	gin.SetMode(cfg.Server.Mode)
	return server.Run(ctx, addr, server.NewRouter(svc, logger), logger)
}
