package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyonsec/ofckb/internal/feedback"
	"github.com/halcyonsec/ofckb/internal/logging"
)

var thresholdsRecalibrate bool

func init() {
	rootCmd.AddCommand(thresholdsCmd)
	thresholdsCmd.Flags().BoolVar(&thresholdsRecalibrate, "recalibrate", false, "recalibrate thresholds from recent review outcomes")
}

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Show or recalibrate the auto-link confidence thresholds",
	Long: `Show the confidence thresholds steering the auto-linking engine.

With --recalibrate, recent review outcomes are used to nudge the
thresholds: mostly-approved links loosen them, mostly-rejected links
tighten them. The result is persisted in the decision ledger.`,
	RunE: runThresholds,
}

func runThresholds(cmd *cobra.Command, _ []string) error {
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

	current := rt.controller.Current()

	if thresholdsRecalibrate {
		loop := feedback.NewLoop(rt.controller, rt.ledger, cfg.Feedback.Interval.Duration(), cfg.Feedback.Window, logger)
		updated := loop.RunOnce(cmd.Context())
		if updated != current {
			if err := rt.ledger.SaveThresholds(cmd.Context(), updated); err != nil {
				return fmt.Errorf("persisting thresholds: %w", err)
			}
		}
		current = updated
	}

	fmt.Fprintf(cmd.OutOrStdout(), "auto_link_threshold: %.3f\nreview_threshold:    %.3f\n",
		current.AutoLink, current.Review)
	return nil
}
