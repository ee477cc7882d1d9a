// Package main implements the ofckb CLI for extracting vulnerability
// entries from assessment documents and managing the knowledge base.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halcyonsec/ofckb/internal/config"
	"github.com/halcyonsec/ofckb/internal/embeddings"
	"github.com/halcyonsec/ofckb/internal/feedback"
	"github.com/halcyonsec/ofckb/internal/knowledge"
	"github.com/halcyonsec/ofckb/internal/linking"
	"github.com/halcyonsec/ofckb/internal/logging"
	"github.com/halcyonsec/ofckb/internal/similarity"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ofckb",
	Short: "Vulnerability and options-for-consideration knowledge base",
	Long: `ofckb extracts vulnerability entries and their options for consideration
from security assessment documents, deduplicates them against a local
knowledge base, and manages the human review queue for uncertain links.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.SetErrPrefix("ofckb:")
}

// loadConfig loads configuration and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

// newEmbedder returns the configured embedding client, or nil when
// embeddings are disabled. A nil embedder means lexical-only scoring.
func newEmbedder(cfg *config.Config) (similarity.Embedder, error) {
	if !cfg.Embeddings.Enabled {
		return nil, nil
	}
	svc, err := embeddings.NewService(cfg.Embeddings.Service())
	if err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	return svc, nil
}

// runtime bundles the opened components behind the knowledge base.
type runtime struct {
	store      *knowledge.Store
	ledger     *linking.Ledger
	controller *feedback.Controller
	engine     *linking.Engine
}

func (r *runtime) Close() {
	if r.ledger != nil {
		r.ledger.Close()
	}
	if r.store != nil {
		r.store.Close()
	}
}

// openRuntime opens the store and ledger and wires the linking engine.
// Persisted thresholds take precedence over configured ones.
func openRuntime(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	ctx := cmd.Context()

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	store, err := knowledge.Open(ctx, cfg.Store.Knowledge(), embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}

	ledger, err := linking.OpenLedger(ctx, cfg.Ledger.Path)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening decision ledger: %w", err)
	}

	thresholds := cfg.Thresholds()
	if persisted, ok, err := ledger.LoadThresholds(ctx); err == nil && ok {
		thresholds = persisted
	}

	controller := feedback.NewController(thresholds, cfg.Feedback.Step)

	return &runtime{
		store:      store,
		ledger:     ledger,
		controller: controller,
		engine:     linking.NewEngine(store, ledger, controller, logger),
	}, nil
}
