// Package config provides configuration loading for ofckb.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/halcyonsec/ofckb/internal/embeddings"
	"github.com/halcyonsec/ofckb/internal/extraction"
	"github.com/halcyonsec/ofckb/internal/feedback"
	"github.com/halcyonsec/ofckb/internal/knowledge"
	"github.com/halcyonsec/ofckb/internal/logging"
	"github.com/halcyonsec/ofckb/internal/pairing"
	"github.com/halcyonsec/ofckb/internal/textproc"
)

// ErrInvalidConfig indicates a configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for all ofckb components.
type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Store      StoreConfig      `koanf:"store"`
	Ledger     LedgerConfig     `koanf:"ledger"`
	Linking    LinkingConfig    `koanf:"linking"`
	Feedback   FeedbackConfig   `koanf:"feedback"`
	HTTP       HTTPConfig       `koanf:"http"`
}

// ExtractionConfig tunes the extraction pipeline. An empty CategoryHints
// list means the built-in security categories.
type ExtractionConfig struct {
	MinSentenceLen int      `koanf:"min_sentence_len"`
	MaxLookahead   int      `koanf:"max_lookahead"`
	MinConfidence  float64  `koanf:"min_confidence"`
	LooseJaccard   float64  `koanf:"loose_jaccard"`
	MaxParallel    int      `koanf:"max_parallel"`
	CategoryHints  []string `koanf:"category_hints"`
}

// EmbeddingsConfig configures the TEI embedding client. When disabled,
// similarity falls back to lexical scoring everywhere.
type EmbeddingsConfig struct {
	Enabled           bool     `koanf:"enabled"`
	BaseURL           string   `koanf:"base_url"`
	Model             string   `koanf:"model"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
}

// StoreConfig configures the knowledge store.
type StoreConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	CacheSize  int    `koanf:"cache_size"`
}

// LedgerConfig configures the linking decision ledger.
type LedgerConfig struct {
	Path string `koanf:"path"`
}

// LinkingConfig holds the confidence band boundaries.
type LinkingConfig struct {
	AutoLinkThreshold float64 `koanf:"auto_link_threshold"`
	ReviewThreshold   float64 `koanf:"review_threshold"`
}

// FeedbackConfig tunes the threshold recalibration loop.
type FeedbackConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Step     float64  `koanf:"step"`
	Interval Duration `koanf:"interval"`
	Window   int      `koanf:"window"`
}

// HTTPConfig configures the review API server.
type HTTPConfig struct {
	Addr            string   `koanf:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ApplyDefaults fills unset fields across all sections.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()

	if c.Extraction.MinSentenceLen == 0 {
		c.Extraction.MinSentenceLen = 15
	}
	if c.Extraction.MaxLookahead == 0 {
		c.Extraction.MaxLookahead = 7
	}
	if c.Extraction.MinConfidence == 0 {
		c.Extraction.MinConfidence = 0.5
	}
	if c.Extraction.LooseJaccard == 0 {
		c.Extraction.LooseJaccard = 0.12
	}
	if c.Extraction.MaxParallel == 0 {
		c.Extraction.MaxParallel = 4
	}

	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "http://localhost:8080"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Embeddings.Timeout == 0 {
		c.Embeddings.Timeout = Duration(5 * time.Second)
	}

	if c.Store.Path == "" {
		c.Store.Path = "data/knowledge"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "entries"
	}
	if c.Store.VectorSize == 0 {
		c.Store.VectorSize = 384
	}
	if c.Store.CacheSize == 0 {
		c.Store.CacheSize = 4096
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = "data/ledger.db"
	}

	if c.Linking.AutoLinkThreshold == 0 {
		c.Linking.AutoLinkThreshold = 0.9
	}
	if c.Linking.ReviewThreshold == 0 {
		c.Linking.ReviewThreshold = 0.75
	}

	if c.Feedback.Step == 0 {
		c.Feedback.Step = 0.02
	}
	if c.Feedback.Interval == 0 {
		c.Feedback.Interval = Duration(15 * time.Minute)
	}
	if c.Feedback.Window == 0 {
		c.Feedback.Window = 100
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8941"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = Duration(10 * time.Second)
	}
}

// Validate checks all sections for errors.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Extraction.MinConfidence < 0 || c.Extraction.MinConfidence > 1 {
		return fmt.Errorf("%w: extraction.min_confidence %v outside [0, 1]", ErrInvalidConfig, c.Extraction.MinConfidence)
	}
	if c.Extraction.LooseJaccard < 0 || c.Extraction.LooseJaccard > 1 {
		return fmt.Errorf("%w: extraction.loose_jaccard %v outside [0, 1]", ErrInvalidConfig, c.Extraction.LooseJaccard)
	}
	if c.Extraction.MaxParallel < 1 {
		return fmt.Errorf("%w: extraction.max_parallel must be at least 1", ErrInvalidConfig)
	}
	if c.Embeddings.Enabled {
		if err := c.Embeddings.Service().Validate(); err != nil {
			return err
		}
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	return nil
}

// Pipeline maps the extraction section onto the pipeline config.
func (c *Config) Pipeline() extraction.Config {
	return extraction.Config{
		Segmenter: textproc.Config{MinSentenceLen: c.Extraction.MinSentenceLen},
		Pairing: pairing.Config{
			MaxLookahead:  c.Extraction.MaxLookahead,
			MinConfidence: c.Extraction.MinConfidence,
			LooseJaccard:  c.Extraction.LooseJaccard,
			CategoryHints: c.Extraction.CategoryHints,
		},
		MaxParallel: c.Extraction.MaxParallel,
	}
}

// Service maps the embeddings section onto the client config.
func (c EmbeddingsConfig) Service() embeddings.Config {
	return embeddings.Config{
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		Timeout:           c.Timeout.Duration(),
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// Knowledge maps the store section onto the knowledge store config.
func (c StoreConfig) Knowledge() knowledge.Config {
	return knowledge.Config{
		Path:       c.Path,
		Collection: c.Collection,
		VectorSize: c.VectorSize,
		CacheSize:  c.CacheSize,
	}
}

// Thresholds maps the linking section onto the band boundaries.
func (c *Config) Thresholds() feedback.ThresholdConfig {
	return feedback.ThresholdConfig{
		AutoLink: c.Linking.AutoLinkThreshold,
		Review:   c.Linking.ReviewThreshold,
	}
}
