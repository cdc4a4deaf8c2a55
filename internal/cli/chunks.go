package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"transcript-rag/internal/generation"
	"transcript-rag/internal/transcript"
)

var chunksJSON bool

var chunksCmd = &cobra.Command{
	Use:   "chunks <transcript>",
	Short: "Print the chunks a transcript is split into",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunks,
}

func init() {
	rootCmd.AddCommand(chunksCmd)
	chunksCmd.Flags().BoolVar(&chunksJSON, "json", false, "output as JSON")
}

func runChunks(cmd *cobra.Command, args []string) error {
	segments, err := transcript.LoadFile(args[0])
	if err != nil {
		return err
	}
	chunks := newChunker(cfg).Chunk(segments, cfg.Chunker.TargetWords, cfg.Chunker.OverlapSegments)
	out := cmd.OutOrStdout()
	if chunksJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(chunks)
	}
	fmt.Fprintf(out, "corpus %s: %d segments, %d chunks\n", transcript.CorpusID(args[0]), len(segments), len(chunks))
	for _, ch := range chunks {
		span := ""
		if ch.StartTimestampS != nil && ch.EndTimestampS != nil {
			span = fmt.Sprintf(" %s-%s", generation.FormatTimestamp(*ch.StartTimestampS), generation.FormatTimestamp(*ch.EndTimestampS))
		}
		fmt.Fprintf(out, "\n#%d%s (%d words)\n%s\n", ch.Index, span, ch.WordCount, ch.Text)
	}
	return nil
}
