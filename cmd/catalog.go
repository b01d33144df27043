package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/tender-cli/internal/catalog"
	"github.com/sells-group/tender-cli/internal/matcher"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/pricing"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Browse the item catalog",
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fuzzy-search catalog items by name or SKU",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		seed, err := catalog.LoadSeed(cfg.Catalog.SeedPath)
		if err != nil {
			return err
		}
		pricingCfg, err := cfg.Pricing.Model()
		if err != nil {
			return err
		}

		matches := catalog.NewIndex(seed).Search(args[0], limit)
		if len(matches) == 0 {
			fmt.Fprintln(os.Stderr, "No matching items.")
			return nil
		}

		formatMatches(os.Stdout, matches, pricingCfg)
		return nil
	},
}

func formatMatches(out io.Writer, matches []matcher.Match, pc model.PricingConfig) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSKU\tUNIT\tSUGGESTED\tSOURCE\tSCORE")
	_, _ = fmt.Fprintln(w, "--\t----\t---\t----\t---------\t------\t-----")

	for _, m := range matches {
		price := "-"
		res := pricing.Resolve(m.Item, pc)
		if res.Price != nil {
			price = fmt.Sprintf("%.2f", *res.Price)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			m.Item.ID,
			truncate(m.Item.Name, 40),
			m.Item.SKU,
			m.Item.Unit,
			price,
			res.Source,
			m.Score,
		)
	}
	_ = w.Flush()
}

func init() {
	catalogSearchCmd.Flags().Int("limit", 10, "max matches")
	catalogCmd.AddCommand(catalogSearchCmd)
	rootCmd.AddCommand(catalogCmd)
}
