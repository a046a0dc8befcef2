package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pricehawk/scan-service/internal/database"
)

var categoriesEnabledOnly bool

// categoriesCmd represents the categories command
var categoriesCmd = &cobra.Command{
	Use:     "categories",
	Short:   "List configured categories",
	Example: `  scan-service categories --enabled`,
	RunE:    runCategories,
}

func init() {
	rootCmd.AddCommand(categoriesCmd)

	categoriesCmd.Flags().BoolVar(&categoriesEnabledOnly, "enabled", false, "Only enabled categories")
}

func runCategories(cmd *cobra.Command, args []string) error {
	categories, err := database.ListCategories(context.Background(), categoriesEnabledOnly)
	if err != nil {
		return fmt.Errorf("failed to list categories: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTORE\tNAME\tENABLED\tPRIORITY\tLAST SCAN\tPRODUCTS\tDEALS\tLAST ERROR")
	for _, cat := range categories {
		lastScan := "never"
		if cat.LastScannedAt != nil {
			lastScan = cat.LastScannedAt.Format(time.RFC3339)
		}
		lastError := cat.LastError
		if len(lastError) > 40 {
			lastError = lastError[:40] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\t%d\t%d\t%s\n",
			cat.ID, cat.Store, cat.Name, cat.Enabled, cat.Priority,
			lastScan, cat.ProductsFound, cat.DealsFound, lastError)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d categories\n", len(categories))
	return nil
}
