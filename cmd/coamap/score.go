package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valuebench/coamap/internal/service"
)

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <engagement-id>",
		Short: "Score an engagement's line items against the canonical COA",
		Long: `Run every stored line item of the engagement through the candidate scorer
and land the results in the mapping ledger. Items that cannot be scored are
recorded pending with an unscored condition so review can proceed.`,
		Args: cobra.ExactArgs(1),
		RunE: runScore,
	}
	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engagementID := args[0]

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	e, collaborator, err := buildEngine(ctx, store)
	if err != nil {
		return err
	}
	defer func() { _ = collaborator.Close() }()

	report, err := e.ScoreEngagement(ctx, engagementID)
	if err != nil {
		return err
	}

	fmt.Printf("Scored %d item(s): %d unscored, %d without valid candidates, %d already decided\n",
		report.Scored, report.Unscored, report.NoValidCandidates, report.SkippedDecided)
	printFailures(report.Failed)
	return nil
}

func printFailures(failures []service.BatchFailure) {
	for _, failure := range failures {
		fmt.Printf("  failed %s: %s\n", failure.SourceID, failure.Reason)
	}
}
