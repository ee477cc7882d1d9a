package extraction

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyonsec/ofckb/internal/classify"
	"github.com/halcyonsec/ofckb/internal/pairing"
	"github.com/halcyonsec/ofckb/internal/similarity"
	"github.com/halcyonsec/ofckb/internal/textproc"
)

// Config holds pipeline configuration.
type Config struct {
	Segmenter textproc.Config
	Lexicons  classify.Lexicons
	Pairing   pairing.Config

	// MaxParallel bounds concurrently processed documents in a batch.
	MaxParallel int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxParallel == 0 {
		c.MaxParallel = 4
	}
}

// Pipeline runs the full extraction sequence for a document. It holds no
// mutable state and is safe for concurrent use.
type Pipeline struct {
	config     Config
	segmenter  *textproc.Segmenter
	classifier *classify.Classifier
	engine     *pairing.Engine
	logger     *zap.Logger
}

// NewPipeline creates a Pipeline. A nil scorer degrades pairing to lexical
// similarity; a nil logger is replaced with a no-op.
func NewPipeline(config Config, scorer similarity.Scorer, logger *zap.Logger) *Pipeline {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:     config,
		segmenter:  textproc.NewSegmenter(config.Segmenter),
		classifier: classify.NewClassifier(config.Lexicons),
		engine:     pairing.NewEngine(config.Pairing, scorer),
		logger:     logger,
	}
}

// Extract turns one document into merged candidate entries. Unparseable or
// empty input yields zero entries, never an error: a bad document degrades,
// it does not abort.
func (p *Pipeline) Extract(ctx context.Context, doc Document) Result {
	segments := p.segmenter.Segment(doc.Text)

	labeled := make([]pairing.Segment, 0, len(segments))
	for _, s := range segments {
		label, features := p.classifier.Classify(s.Text, s.Bulleted)
		labeled = append(labeled, pairing.Segment{Segment: s, Label: label, Features: features})
	}

	entries := pairing.MergeDuplicates(p.engine.Pair(ctx, labeled))
	if entries == nil {
		// Keep the JSON output an array even for empty documents.
		entries = []pairing.CandidateEntry{}
	}
	for i := range entries {
		entries[i].Confidence = roundConfidence(entries[i].Confidence)
	}

	p.logger.Debug("extracted document",
		zap.String("source_id", doc.SourceID),
		zap.Int("segments", len(segments)),
		zap.Int("entries", len(entries)),
	)

	return Result{
		SourceFile: doc.SourceID,
		EntryCount: len(entries),
		Entries:    entries,
	}
}

// ExtractBatch fans documents out over a bounded worker pool and returns one
// result per document, in input order. A document that extracts nothing
// contributes an empty result; cancellation stops unstarted work.
func (p *Pipeline) ExtractBatch(ctx context.Context, docs []Document) []Result {
	results := make([]Result, len(docs))

	// Semaphore bounds in-flight documents; their external calls should
	// not be issued unbounded in parallel.
	sem := make(chan struct{}, p.config.MaxParallel)
	var wg sync.WaitGroup

	for i, doc := range docs {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, doc Document) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			results[i] = p.Extract(ctx, doc)
		}(i, doc)
	}

	wg.Wait()
	return results
}
