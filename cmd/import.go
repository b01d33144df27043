package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/tender"
)

// importOptions drives one bill-of-quantities import.
type importOptions struct {
	Path         string
	SkipRows     int
	ProjectID    string
	ProjectName  string
	Title        string
	ClosingDate  string
	TaxProfileID string
	CreatedBy    string
	Promote      bool
	Submit       bool
}

// importResult summarizes what an import produced.
type importResult struct {
	Preview  []model.BulkPreviewRow
	Promoted int
	Lines    int
	Totals   tender.Totals
	Saved    model.SaveResult
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a bill of quantities from CSV or XLSX as a tender",
	Long:  "Parses rows of name, quantity and unit, reconciles them against the catalog, optionally promotes unmatched rows to new catalog items, and saves the matched lines as a tender.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts, err := importFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := runImport(ctx, env, cfg.Tender, opts)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		formatPreview(os.Stdout, res.Preview)
		zap.L().Info("import complete",
			zap.String("file", opts.Path),
			zap.String("tender_id", res.Saved.ID),
			zap.String("stored", string(res.Saved.Stored)),
			zap.Int("lines", res.Lines),
			zap.Int("promoted", res.Promoted),
			zap.Int("needs_price", res.Totals.NeedsPrice),
			zap.Float64("total", res.Totals.Amount),
		)
		return nil
	},
}

func importFlags(cmd *cobra.Command) (importOptions, error) {
	var o importOptions
	o.Path, _ = cmd.Flags().GetString("file")
	o.SkipRows, _ = cmd.Flags().GetInt("skip-rows")
	o.ProjectID, _ = cmd.Flags().GetString("project")
	o.ProjectName, _ = cmd.Flags().GetString("project-name")
	o.Title, _ = cmd.Flags().GetString("title")
	o.ClosingDate, _ = cmd.Flags().GetString("closing-date")
	o.TaxProfileID, _ = cmd.Flags().GetString("tax-profile")
	o.CreatedBy, _ = cmd.Flags().GetString("created-by")
	o.Promote, _ = cmd.Flags().GetBool("promote")
	o.Submit, _ = cmd.Flags().GetBool("submit")

	if o.Path == "" {
		return o, eris.New("--file is required")
	}
	if o.ProjectID == "" {
		return o, eris.New("--project is required")
	}
	if o.ProjectName == "" {
		o.ProjectName = o.ProjectID
	}
	return o, nil
}

// runImport builds a tender session from the file at opts.Path and saves it
// through env.Store.
func runImport(ctx context.Context, env *engineEnv, tc config.TenderConfig, opts importOptions) (importResult, error) {
	var res importResult

	session := tender.NewSession(env.Catalog, env.Store, tender.Options{
		ProjectID:    opts.ProjectID,
		ProjectName:  opts.ProjectName,
		Currency:     tc.Currency,
		TaxProfileID: opts.TaxProfileID,
		CreatedBy:    opts.CreatedBy,
		Pricing:      env.Pricing,
		AuditLimit:   tc.AuditLimit,
		Reconcile:    env.Reconciler.Config(),
	})
	if err := session.CreateDraft(tender.DraftInput{
		Title:       opts.Title,
		ClosingDate: opts.ClosingDate,
	}); err != nil {
		return res, err
	}

	if isSpreadsheet(opts.Path) {
		rows, err := env.Reconciler.ParseXLSX(opts.Path, opts.SkipRows)
		if err != nil {
			return res, err
		}
		session.BulkPreviewRows(rows)
	} else {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return res, eris.Wrapf(err, "read %s", opts.Path)
		}
		if _, err := session.BulkPreview(ctx, string(data)); err != nil {
			return res, err
		}
	}

	if opts.Promote {
		created, err := session.PromoteBulkUnmatched()
		if err != nil && !model.IsValidation(err) {
			return res, err
		}
		res.Promoted = len(created)
	}
	res.Preview = session.BulkRows()

	added, err := session.ApplyBulkMatches()
	if err != nil {
		return res, err
	}
	res.Lines = len(added)
	res.Totals = session.Totals()

	if opts.Submit {
		res.Saved, err = session.Submit(ctx)
	} else {
		res.Saved, err = session.SaveDraft(ctx)
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

func isSpreadsheet(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return true
	default:
		return false
	}
}

func formatPreview(out io.Writer, rows []model.BulkPreviewRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tQTY\tUNIT\tSTATUS\tITEM\tCONFIDENCE")
	_, _ = fmt.Fprintln(w, "----\t---\t----\t------\t----\t----------")

	for _, r := range rows {
		item := "-"
		if r.MatchedItemID != nil {
			item = *r.MatchedItemID
		}
		_, _ = fmt.Fprintf(w, "%s\t%g\t%s\t%s\t%s\t%.0f%%\n",
			truncate(r.Name, 40),
			r.Quantity,
			r.Unit,
			r.Status,
			item,
			r.Confidence*100,
		)
	}
	_ = w.Flush()
}

func addImportFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "path to a CSV or XLSX bill of quantities (required)")
	cmd.Flags().Int("skip-rows", 1, "leading header rows to skip in XLSX files")
	cmd.Flags().String("project", "", "project id the tender belongs to (required)")
	cmd.Flags().String("project-name", "", "project name used for the tender number (default: project id)")
	cmd.Flags().String("title", "", "tender title")
	cmd.Flags().String("closing-date", "", "closing date (YYYY-MM-DD)")
	cmd.Flags().String("tax-profile", "", "default tax profile id for lines")
	cmd.Flags().String("created-by", "", "author recorded on the tender")
	cmd.Flags().Bool("promote", false, "create catalog items for unmatched rows")
	cmd.Flags().Bool("submit", false, "submit instead of saving a draft")
}

func init() {
	addImportFlags(importCmd)
	rootCmd.AddCommand(importCmd)
}
