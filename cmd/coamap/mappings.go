package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valuebench/coamap/internal/ledger"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"
	"github.com/valuebench/coamap/internal/storage"
)

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Review and decide mapping records",
	}

	cmd.AddCommand(mappingsListCmd())
	cmd.AddCommand(mappingsSummaryCmd())
	cmd.AddCommand(mappingsDecideCmd("approve", model.DecisionApprove))
	cmd.AddCommand(mappingsDecideCmd("reject", model.DecisionReject))
	cmd.AddCommand(mappingsApproveBatchCmd())
	cmd.AddCommand(mappingsClearCmd())

	return cmd
}

// openLedger builds a CLI-scoped ledger for one engagement. The caller closes
// the returned storage.
func openLedger(ctx context.Context, engagementID string) (*ledger.Ledger, *storage.SQLiteStorage, error) {
	store, err := openStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	l, err := ledger.New(store, engagementID, thresholdsFromConfig(), nil)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return l, store, nil
}

func mappingsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <engagement-id>",
		Short: "List mapping records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")

			l, store, err := openLedger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := l.List(cmd.Context(), service.MappingFilter{Status: model.MappingStatus(status)})
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Println("No mapping records found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tLABEL\tTARGET\tCONFIDENCE\tSTATUS\tNOTE")
			for _, record := range records {
				note := string(record.Condition)
				if note == "" {
					note = l.Thresholds().Band(record.Confidence)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
					record.SourceID, record.SourceName, record.TargetID,
					record.Confidence, record.Status, note)
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("status", "", "filter by status (pending, approved, rejected)")
	return cmd
}

func mappingsSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <engagement-id>",
		Short: "Show confidence and status totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, store, err := openLedger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			summary, err := l.Summary(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Total:             %d\n", summary.Total)
			fmt.Printf("High confidence:   %d\n", summary.HighConfidence)
			fmt.Printf("Medium confidence: %d\n", summary.MediumConfidence)
			fmt.Printf("Low confidence:    %d\n", summary.LowConfidence)
			fmt.Printf("Pending:           %d\n", summary.Pending)
			fmt.Printf("Approved:          %d\n", summary.Approved)
			fmt.Printf("Rejected:          %d\n", summary.Rejected)
			return nil
		},
	}
}

func mappingsDecideCmd(use string, action model.Decision) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <engagement-id> <source-id>...",
		Short: use + " mapping records",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")

			l, store, err := openLedger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			result, err := l.DecideMany(cmd.Context(), args[1:], action, actor)
			if err != nil {
				return err
			}

			fmt.Printf("Applied %s to %d record(s)\n", use, len(result.Succeeded))
			for _, failure := range result.Failed {
				fmt.Printf("  failed %s: %s\n", failure.SourceID, failure.Reason)
			}
			return nil
		},
	}

	cmd.Flags().String("actor", "cli", "who is making the decision")
	return cmd
}

func mappingsApproveBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve-batch <engagement-id>",
		Short: "Approve all pending records at or above a confidence threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, _ := cmd.Flags().GetFloat64("threshold")
			actor, _ := cmd.Flags().GetString("actor")

			l, store, err := openLedger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			approved, err := l.ApproveAboveThreshold(cmd.Context(), threshold, actor)
			if err != nil {
				return err
			}

			fmt.Printf("Approved %d record(s) at confidence >= %.2f\n", approved, threshold)
			return nil
		},
	}

	cmd.Flags().Float64("threshold", 0.90, "minimum confidence to approve")
	cmd.Flags().String("actor", "cli", "who is making the decision")
	return cmd
}

func mappingsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <engagement-id>",
		Short: "Start a fresh mapping generation for the engagement",
		Long: `Clear hides the engagement's current mapping records by starting a new
generation. Old records are never mutated and stay in the decision history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, store, err := openLedger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			generation, err := l.Clear(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Engagement %s is now on generation %d\n", args[0], generation)
			return nil
		},
	}
}
