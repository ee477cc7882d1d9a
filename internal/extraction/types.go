// Package extraction orchestrates the document-to-entry pipeline:
// normalize, segment, classify, pair, and merge. It is pure with respect to
// shared state, so independent documents can run concurrently behind a
// bounded worker pool.
package extraction

import (
	"math"

	"github.com/halcyonsec/ofckb/internal/pairing"
)

// Document is one unit of work: plain text already extracted from its
// container format by an external collaborator, plus provenance.
type Document struct {
	// SourceID identifies the document for provenance tagging.
	SourceID string `json:"source_id"`

	// SourceURL is the optional origin of the document.
	SourceURL string `json:"source_url,omitempty"`

	// Text is the raw document text.
	Text string `json:"-"`
}

// Result is the document-level extraction output.
type Result struct {
	SourceFile string                   `json:"source_file"`
	EntryCount int                      `json:"entry_count"`
	Entries    []pairing.CandidateEntry `json:"entries"`
}

// roundConfidence rounds confidences to three decimal places for output.
func roundConfidence(c float64) float64 {
	return math.Round(c*1000) / 1000
}
