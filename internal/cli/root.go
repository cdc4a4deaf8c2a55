package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transcript-rag/internal/config"
	"transcript-rag/internal/logging"
)

var (
	cfgFile string
	cfg     *config.AppConfig
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "transcript-rag",
	Short: "Ask questions about video transcripts",
	Long: `transcript-rag chunks a timed transcript, embeds the chunks and answers questions
grounded on the most relevant passages.

Example usage:
  transcript-rag chunks talk.srt                   # Show how a transcript is chunked
  transcript-rag ask talk.json -q "what is a channel?"
  transcript-rag chat talk.srt                     # Interactive chat
  transcript-rag serve --preload talk.srt          # HTTP API with SSE answers`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var (
			path string
			err  error
		)
		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
			path = cfgFile
		} else {
			cfg, path, err = config.LoadDefault()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger.Debug("config loaded", zap.String("path", path))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or ~/.config/transcript-rag/config.yaml)")
}
