package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/halcyonsec/ofckb/internal/extraction"
	"github.com/halcyonsec/ofckb/internal/logging"
	"github.com/halcyonsec/ofckb/internal/similarity"
)

var extractPretty bool

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().BoolVar(&extractPretty, "pretty", false, "indent JSON output")
}

var extractCmd = &cobra.Command{
	Use:   "extract <file>...",
	Short: "Extract vulnerability entries from assessment documents",
	Long: `Extract vulnerability entries and their options for consideration from
plain-text assessment documents. Results are printed to stdout as JSON,
one result object per input file. Nothing is written to the knowledge
base; use "ofckb ingest" for that.

Examples:
  # Extract from a single report
  ofckb extract assessment.txt

  # Extract from several reports at once
  ofckb extract reports/*.txt --pretty`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	pipeline := extraction.NewPipeline(cfg.Pipeline(), similarity.NewBlendedScorer(embedder, similarity.DefaultBlendWeights()), logger)

	docs := make([]extraction.Document, 0, len(args))
	for _, path := range args {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		docs = append(docs, extraction.Document{
			SourceID: filepath.Base(path),
			Text:     string(text),
		})
	}

	results := pipeline.ExtractBatch(cmd.Context(), docs)

	enc := json.NewEncoder(cmd.OutOrStdout())
	if extractPretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(results)
}
