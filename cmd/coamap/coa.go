package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valuebench/coamap/internal/coa"
	"github.com/valuebench/coamap/internal/model"
)

func coaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coa",
		Short: "Manage the canonical chart of accounts",
	}

	cmd.AddCommand(coaLoadCmd())
	cmd.AddCommand(coaListCmd())

	return cmd
}

func coaLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [file]",
		Short: "Load canonical accounts from a JSON file or the built-in seed",
		Long: `Load replaces-or-adds canonical accounts. The file is a JSON array of
{id, name, category, synonyms} objects; --seed loads the default income
statement taxonomy instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetBool("seed")

			var accounts []model.CanonicalAccount
			switch {
			case seed:
				accounts = seedAccounts()
			case len(args) == 1:
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", args[0], err)
				}
				var payload []struct {
					ID       string   `json:"id"`
					Name     string   `json:"name"`
					Category string   `json:"category"`
					Synonyms []string `json:"synonyms"`
				}
				if err := json.Unmarshal(data, &payload); err != nil {
					return fmt.Errorf("failed to parse %s: %w", args[0], err)
				}
				for _, p := range payload {
					accounts = append(accounts, model.CanonicalAccount{
						ID:       p.ID,
						Name:     p.Name,
						Category: model.AccountCategory(p.Category),
						Synonyms: p.Synonyms,
					})
				}
			default:
				return fmt.Errorf("provide a file argument or --seed")
			}

			// Catch duplicates before anything is written.
			if _, err := coa.Load(accounts); err != nil {
				return err
			}

			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SaveAccounts(cmd.Context(), accounts); err != nil {
				return err
			}

			fmt.Printf("Loaded %d canonical account(s)\n", len(accounts))
			return nil
		},
	}

	cmd.Flags().Bool("seed", false, "load the built-in default taxonomy")
	return cmd
}

func coaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List canonical accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			accounts, err := store.GetAccounts(cmd.Context())
			if err != nil {
				return err
			}

			if len(accounts) == 0 {
				fmt.Println("No canonical accounts loaded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY")
			for _, account := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\n", account.ID, account.Name, account.Category)
			}
			return w.Flush()
		},
	}
}

// seedAccounts is the default income statement taxonomy.
func seedAccounts() []model.CanonicalAccount {
	return []model.CanonicalAccount{
		{ID: "revenue.product", Name: "Product Revenue", Category: model.CategoryRevenue, Synonyms: []string{"product sales", "sales revenue"}},
		{ID: "revenue.service", Name: "Service Revenue", Category: model.CategoryRevenue, Synonyms: []string{"service fees", "consulting revenue"}},
		{ID: "revenue.other", Name: "Other Revenue", Category: model.CategoryRevenue},
		{ID: "cogs.materials", Name: "Direct Materials", Category: model.CategoryCOGS, Synonyms: []string{"raw materials"}},
		{ID: "cogs.labor", Name: "Direct Labor", Category: model.CategoryCOGS},
		{ID: "cogs.overhead", Name: "Manufacturing Overhead", Category: model.CategoryCOGS},
		{ID: "opex.rd", Name: "Research & Development", Category: model.CategoryOpEx, Synonyms: []string{"r&d", "engineering"}},
		{ID: "opex.sales", Name: "Sales & Marketing", Category: model.CategoryOpEx, Synonyms: []string{"selling expenses", "marketing"}},
		{ID: "opex.ga", Name: "General & Administrative", Category: model.CategoryOpEx, Synonyms: []string{"g&a", "administrative expenses"}},
	}
}
