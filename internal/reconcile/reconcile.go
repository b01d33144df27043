// Package reconcile turns bulk-imported rows into catalog matches, tender
// lines and, for rows nothing matched, newly promoted catalog items.
package reconcile

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/catalog"
	"github.com/sells-group/tender-cli/internal/fetcher"
	"github.com/sells-group/tender-cli/internal/matcher"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/pricing"
)

// Tunables. Neither constant has a derivation; both are heuristics.
const (
	DefaultMatchThreshold     = 0.5
	DefaultPromotedConfidence = 0.6
	DefaultFallbackUnit       = "pcs"

	PromotedCategory = "Ad-hoc"
)

// Config holds the reconciliation tunables.
type Config struct {
	MatchThreshold     float64 // best score must exceed this to count as matched
	PromotedConfidence float64 // confidence recorded on promoted rows
	FallbackUnit       string  // unit used when a row has none
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		MatchThreshold:     DefaultMatchThreshold,
		PromotedConfidence: DefaultPromotedConfidence,
		FallbackUnit:       DefaultFallbackUnit,
	}
}

// Row is one parsed import row before matching.
type Row struct {
	Name     string
	Quantity float64
	Unit     string
}

// Reconciler matches import rows against a catalog index.
type Reconciler struct {
	index *catalog.Index
	cfg   Config
}

// New creates a Reconciler over index. Zero-valued tunables fall back to
// their defaults.
func New(index *catalog.Index, cfg Config) *Reconciler {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = DefaultMatchThreshold
	}
	if cfg.PromotedConfidence <= 0 {
		cfg.PromotedConfidence = DefaultPromotedConfidence
	}
	if strings.TrimSpace(cfg.FallbackUnit) == "" {
		cfg.FallbackUnit = DefaultFallbackUnit
	}
	return &Reconciler{index: index, cfg: cfg}
}

// Config returns the tunables in effect.
func (r *Reconciler) Config() Config {
	return r.cfg
}

// Parse reads pasted delimited text into rows, one per non-blank line, with
// columns name, quantity, unit.
func (r *Reconciler) Parse(ctx context.Context, text string) ([]Row, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.Invalid("csv", "paste CSV rows first")
	}
	records, err := fetcher.ReadCSVLines(ctx, text, fetcher.ImportCSVOptions())
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: parse csv")
	}
	return r.rows(records)
}

// ParseXLSX reads rows from the first sheet of a spreadsheet, skipping
// skipRows leading header rows.
func (r *Reconciler) ParseXLSX(path string, skipRows int) ([]Row, error) {
	records, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SkipRows: skipRows, SkipBlank: true})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: parse xlsx")
	}
	return r.rows(records)
}

func (r *Reconciler) rows(records [][]string) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, r.row(rec))
	}
	if len(rows) == 0 {
		return nil, model.Invalid("csv", "no rows detected")
	}
	return rows, nil
}

func (r *Reconciler) row(fields []string) Row {
	field := func(i int) string {
		if i < len(fields) {
			return strings.TrimSpace(fields[i])
		}
		return ""
	}
	row := Row{Name: field(0), Quantity: 1, Unit: field(2)}
	if q, err := strconv.ParseFloat(field(1), 64); err == nil && q > 0 && !math.IsInf(q, 0) {
		row.Quantity = q
	}
	if row.Unit == "" {
		row.Unit = r.cfg.FallbackUnit
	}
	return row
}

// Preview matches every row to its best catalog item. Rows scoring above the
// match threshold are matched; the rest stay pending.
func (r *Reconciler) Preview(rows []Row) []model.BulkPreviewRow {
	items := r.index.Items()
	out := make([]model.BulkPreviewRow, 0, len(rows))
	for _, row := range rows {
		p := model.BulkPreviewRow{
			ID:       model.ShortID(),
			Name:     row.Name,
			Unit:     row.Unit,
			Quantity: row.Quantity,
			Status:   model.PreviewPending,
		}
		if best, ok := matcher.Best(items, row.Name); ok {
			p.Confidence = clamp01(best.Score)
			if best.Score > r.cfg.MatchThreshold {
				id := best.Item.ID
				p.MatchedItemID = &id
				p.Status = model.PreviewMatched
			}
		}
		out = append(out, p)
	}
	zap.L().Debug("reconcile: preview built",
		zap.Int("rows", len(out)),
		zap.Int("matched", countStatus(out, model.PreviewMatched)),
	)
	return out
}

// ApplyMatches prices every row with a matched item still present in the
// catalog and returns one item line per row. Rows without a match, or whose
// item has disappeared, are skipped.
func (r *Reconciler) ApplyMatches(rows []model.BulkPreviewRow, cfg model.PricingConfig, defaultTax string) []model.TenderLine {
	var lines []model.TenderLine
	for _, row := range rows {
		if row.MatchedItemID == nil {
			continue
		}
		item, ok := r.index.Get(*row.MatchedItemID)
		if !ok {
			continue
		}
		suggestion := pricing.Resolve(item, cfg)
		unit := row.Unit
		if unit == "" {
			unit = item.Unit
		}
		lines = append(lines, model.TenderLine{
			ID:            model.ShortID(),
			Name:          item.Name,
			Unit:          unit,
			Quantity:      row.Quantity,
			UnitPrice:     suggestion.Price,
			TaxSnapshot:   taxSnapshot(item.TaxProfileID, defaultTax),
			PricingSource: suggestion.Source,
			Variant:       model.ItemLine{CatalogItemID: item.ID},
		})
	}
	return lines
}

// PromoteUnmatched creates one catalog item per distinct pending row name,
// upserts them into the index, and returns the rows with pending entries
// marked created. The input slice is not modified.
func (r *Reconciler) PromoteUnmatched(rows []model.BulkPreviewRow) ([]model.BulkPreviewRow, []model.CatalogItem) {
	out := make([]model.BulkPreviewRow, len(rows))
	copy(out, rows)

	byName := make(map[string]model.CatalogItem)
	var created []model.CatalogItem
	for i, row := range out {
		if row.Status != model.PreviewPending || row.MatchedItemID != nil {
			continue
		}
		name := row.Name
		if name == "" {
			name = "Bulk item " + row.ID
		}
		item, ok := byName[name]
		if !ok {
			unit := row.Unit
			if unit == "" {
				unit = r.cfg.FallbackUnit
			}
			item = model.CatalogItem{
				ID:       "bulk-" + model.ShortID(),
				Name:     name,
				SKU:      "BULK-" + strings.ToUpper(model.ShortID()),
				Unit:     unit,
				Category: PromotedCategory,
			}
			byName[name] = item
			created = append(created, item)
		}
		id := item.ID
		out[i].MatchedItemID = &id
		out[i].Confidence = r.cfg.PromotedConfidence
		out[i].Status = model.PreviewCreated
	}
	if len(created) > 0 {
		r.index.UpsertMany(created)
	}
	return out, created
}

// Unmatched returns the rows still pending.
func Unmatched(rows []model.BulkPreviewRow) []model.BulkPreviewRow {
	var out []model.BulkPreviewRow
	for _, row := range rows {
		if row.Status == model.PreviewPending {
			out = append(out, row)
		}
	}
	return out
}

func countStatus(rows []model.BulkPreviewRow, status model.PreviewStatus) int {
	n := 0
	for _, row := range rows {
		if row.Status == status {
			n++
		}
	}
	return n
}

func taxSnapshot(itemTax, defaultTax string) *string {
	switch {
	case itemTax != "":
		return &itemTax
	case defaultTax != "":
		return &defaultTax
	default:
		return nil
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
