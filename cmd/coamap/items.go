package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/valuebench/coamap/internal/model"
)

func itemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage an engagement's source line items",
	}

	cmd.AddCommand(itemsIngestCmd())

	return cmd
}

func itemsIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <engagement-id> <file>",
		Short: "Ingest line items from a JSON file",
		Long: `Ingest stores extracted line items for later scoring. The file is a JSON
array of {id, raw_label, raw_value, statement_type} objects; raw_value is a
decimal string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engagementID := args[0]

			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[1], err)
			}

			var payload []struct {
				ID            string `json:"id"`
				RawLabel      string `json:"raw_label"`
				RawValue      string `json:"raw_value"`
				StatementType string `json:"statement_type"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[1], err)
			}

			items := make([]model.SourceLineItem, 0, len(payload))
			for _, p := range payload {
				value, err := decimal.NewFromString(p.RawValue)
				if err != nil {
					return fmt.Errorf("line item %s: bad raw_value %q: %w", p.ID, p.RawValue, err)
				}
				items = append(items, model.SourceLineItem{
					ID:            p.ID,
					RawLabel:      p.RawLabel,
					RawValue:      value,
					StatementType: model.StatementType(p.StatementType),
				})
			}

			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SaveLineItems(cmd.Context(), engagementID, items); err != nil {
				return err
			}

			fmt.Printf("Ingested %d line item(s) for engagement %s\n", len(items), engagementID)
			return nil
		},
	}
}
