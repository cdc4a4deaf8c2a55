package cli

import (
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transcript-rag/internal/logging"
	"transcript-rag/internal/summarizer"
	"transcript-rag/internal/tui"
)

var (
	chatLogFile      string
	chatSummaryLines int
)

var chatCmd = &cobra.Command{
	Use:   "chat <transcript>",
	Short: "Chat with a transcript in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatLogFile, "log-file", "", "write logs to this file while the UI is open")
	chatCmd.Flags().IntVar(&chatSummaryLines, "summary", 2, "number of sentences in the transcript summary")
}

func runChat(cmd *cobra.Command, args []string) error {
	// The terminal belongs to the UI, so logs go to a file or nowhere.
	chatLogger := zap.NewNop()
	if chatLogFile != "" {
		lc := cfg.Logging
		lc.OutputPaths = []string{chatLogFile}
		l, err := logging.New(lc)
		if err != nil {
			return err
		}
		chatLogger = l
		defer func() { _ = l.Sync() }()
	}

	ctx := cmd.Context()
	svc, err := newService(ctx, cfg, chatLogger)
	if err != nil {
		return err
	}
	corpusID, segments, err := ingest(ctx, svc, args[0], false)
	if err != nil {
		return err
	}
	summary, err := summarizer.NewFrequencySummarizer().Summarize(joinText(segments), chatSummaryLines)
	if err != nil {
		return fmt.Errorf("summarize transcript: %w", err)
	}
	m := tui.New(svc, corpusID, filepath.Base(args[0]), summary)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
