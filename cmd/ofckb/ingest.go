package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halcyonsec/ofckb/internal/extraction"
	"github.com/halcyonsec/ofckb/internal/linking"
	"github.com/halcyonsec/ofckb/internal/logging"
	"github.com/halcyonsec/ofckb/internal/similarity"
)

var ingestSourceURL string

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestSourceURL, "source-url", "", "URL to record as the document origin")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Extract entries and link them into the knowledge base",
	Long: `Extract vulnerability entries from assessment documents and run each
one through the auto-linking engine. Confident duplicates merge into
their existing entry, uncertain ones land on the review queue, and the
rest are stored as new entries.

Examples:
  # Ingest a report into the local knowledge base
  ofckb ingest assessment.txt

  # Record where the document came from
  ofckb ingest assessment.txt --source-url https://intranet/reports/42`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	rt, err := openRuntime(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	pipeline := extraction.NewPipeline(cfg.Pipeline(), similarity.NewBlendedScorer(embedder, similarity.DefaultBlendWeights()), logger)

	var merged, queued, stored int
	for _, path := range args {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		doc := extraction.Document{
			SourceID:  filepath.Base(path),
			SourceURL: ingestSourceURL,
			Text:      string(text),
		}
		result := pipeline.Extract(cmd.Context(), doc)

		cands := make([]linking.Candidate, 0, len(result.Entries))
		for _, entry := range result.Entries {
			cands = append(cands, linking.Candidate{
				Entry:     entry,
				SourceID:  doc.SourceID,
				SourceURL: doc.SourceURL,
			})
		}

		decisions, err := rt.engine.EvaluateAll(cmd.Context(), cands)
		if err != nil {
			return fmt.Errorf("linking entries from %s: %w", path, err)
		}

		for _, d := range decisions {
			switch d.Band {
			case linking.BandAuto:
				merged++
			case linking.BandReview:
				queued++
			default:
				stored++
			}
		}

		logger.Info("document ingested",
			zap.String("source", doc.SourceID),
			zap.Int("entries", result.EntryCount))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d file(s): %d merged, %d queued for review, %d stored as new\n",
		len(args), merged, queued, stored)
	return nil
}
