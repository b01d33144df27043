package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/store"
)

var tendersCmd = &cobra.Command{
	Use:   "tenders",
	Short: "Inspect saved tenders",
	Long:  "Commands for listing saved tenders across the remote store and the local cache, showing one tender, and searching previously priced lines.",
}

// -- tenders list --

var tendersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved tenders, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, cfg, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		project, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")

		tenders, err := env.Store.List(ctx, store.ListFilter{ProjectID: project, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "tenders list")
		}

		if len(tenders) == 0 {
			fmt.Fprintln(os.Stderr, "No tenders found.")
			return nil
		}

		formatTendersList(os.Stdout, tenders)
		return nil
	},
}

// -- tenders show --

var tendersShowCmd = &cobra.Command{
	Use:   "show <tender-id>",
	Short: "Show a saved tender as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rawStorage, _ := cmd.Flags().GetString("storage")
		storage, err := model.ParseStorage(rawStorage)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		detail, err := env.Store.Get(ctx, args[0], storage)
		if err != nil {
			return eris.Wrap(err, "tenders show")
		}
		if detail == nil {
			return eris.Errorf("tender %s not found in %s storage", args[0], storage)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	},
}

// -- tenders suggest --

var tendersSuggestCmd = &cobra.Command{
	Use:   "suggest <query>",
	Short: "Search previously saved lines by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, cfg, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		project, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")

		suggestions, err := env.Store.SearchLineSuggestions(ctx, store.SuggestionQuery{
			Query:     args[0],
			ProjectID: project,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "tenders suggest")
		}

		if len(suggestions) == 0 {
			fmt.Fprintln(os.Stderr, "No matching lines.")
			return nil
		}

		formatSuggestions(os.Stdout, suggestions)
		return nil
	},
}

func formatTendersList(out io.Writer, tenders []model.TenderSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNUMBER\tTITLE\tSTATUS\tTOTAL\tLINES\tSTORAGE\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t------\t-----\t-----\t-------\t-------")

	for _, t := range tenders {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID,
			t.TenderNumber,
			truncate(t.Title, 40),
			t.Status,
			formatMoney(t.TotalAmount, t.Currency),
			t.LineCount,
			t.Storage,
			t.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func formatSuggestions(out io.Writer, suggestions []model.LineSuggestion) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tUNIT\tPRICE\tTENDER\tSTORAGE")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t------\t-------")

	for _, sg := range suggestions {
		price := "-"
		if sg.UnitPrice != nil {
			price = formatMoney(*sg.UnitPrice, sg.Currency)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncate(sg.Name, 48),
			sg.Unit,
			price,
			sg.TenderNumber,
			sg.Storage,
		)
	}
	_ = w.Flush()
}

func formatMoney(amount float64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%.2f", amount)
	}
	return fmt.Sprintf("%s %.2f", currency, amount)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	tendersListCmd.Flags().String("project", "", "filter by project id")
	tendersListCmd.Flags().Int("limit", 50, "max tenders to list")

	tendersShowCmd.Flags().String("storage", string(model.StorageRemote), "backend holding the tender (remote, local)")

	tendersSuggestCmd.Flags().String("project", "", "filter by project id")
	tendersSuggestCmd.Flags().Int("limit", store.DefaultSuggestionLimit, "max suggestions")

	tendersCmd.AddCommand(tendersListCmd, tendersShowCmd, tendersSuggestCmd)
	rootCmd.AddCommand(tendersCmd)
}
