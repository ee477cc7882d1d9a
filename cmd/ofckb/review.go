package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/halcyonsec/ofckb/internal/logging"
)

var reviewOutputJSON bool

func init() {
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)

	reviewCmd.Flags().BoolVar(&reviewOutputJSON, "json", false, "output the queue as JSON")
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List pairs waiting for human review",
	RunE:  runReview,
}

var approveCmd = &cobra.Command{
	Use:   "approve <decision-id>",
	Short: "Approve a queued link, merging the candidate into its match",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <decision-id>",
	Short: "Reject a queued link, storing the candidate as a new entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func runReview(cmd *cobra.Command, _ []string) error {
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

	items, err := rt.engine.PendingReview(cmd.Context())
	if err != nil {
		return err
	}

	if reviewOutputJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "review queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DECISION\tSOURCE\tTARGET\tCONFIDENCE\tLINK")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%s\n",
			item.DecisionID, item.SourceID, item.TargetID, item.Confidence, item.LinkType)
	}
	return w.Flush()
}

func runApprove(cmd *cobra.Command, args []string) error {
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

	d, err := rt.engine.Approve(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "decision %s %s (entry %s)\n", d.ID, d.Status, d.EntryID)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
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

	d, err := rt.engine.Reject(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "decision %s %s (entry %s)\n", d.ID, d.Status, d.EntryID)
	return nil
}
