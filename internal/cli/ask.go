package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"transcript-rag/internal/generation"
	"transcript-rag/internal/service"
)

var (
	askQuestion string
	askJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask <transcript>",
	Short: "Answer one question about a transcript",
	Long: `Index a transcript (.json, .srt, .vtt or .txt) and stream the answer to one question.

Examples:
  transcript-rag ask talk.srt -q "when do they talk about channels?"
  transcript-rag ask talk.json -q "summarize the intro" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "question to ask (required)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the final event as JSON instead of streaming")
	_ = askCmd.MarkFlagRequired("question")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	corpusID, _, err := ingest(ctx, svc, args[0], askJSON)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	var last service.Event
	for ev := range svc.Ask(ctx, service.AskRequest{CorpusID: corpusID, Question: askQuestion}) {
		last = ev
		if p, ok := ev.(*service.ProgressEvent); ok && p.Stage == service.StageGenerate && !askJSON {
			fmt.Fprint(out, p.Token)
		}
	}
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(last)
	}
	return printOutcome(out, last)
}

func printOutcome(w io.Writer, ev service.Event) error {
	switch ev := ev.(type) {
	case *service.CompleteEvent:
		fmt.Fprintln(w)
		if len(ev.Sources) > 0 {
			fmt.Fprintln(w, "\nSources:")
		}
		for _, s := range ev.Sources {
			at := ""
			if s.StartTimestampS != nil {
				at = " (" + generation.FormatTimestamp(*s.StartTimestampS) + ")"
			}
			fmt.Fprintf(w, "  [%d]%s score=%.3f %s\n", s.Number, at, s.Score, s.Text)
		}
		return nil
	case *service.FailedEvent:
		fmt.Fprintln(w)
		return fmt.Errorf("%s: %s", ev.Kind, ev.Message)
	}
	return fmt.Errorf("answer stream ended without a result")
}
