package reconcile

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tender-cli/internal/catalog"
	"github.com/sells-group/tender-cli/internal/model"
)

func newReconciler(items ...model.CatalogItem) *Reconciler {
	if len(items) == 0 {
		items = catalog.DefaultSeed()
	}
	return New(catalog.NewIndex(items), Config{})
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	assert.Equal(t, DefaultConfig(), r.Config())

	custom := New(catalog.NewIndex(nil), Config{MatchThreshold: 0.8, PromotedConfidence: 0.4, FallbackUnit: "ls"})
	assert.Equal(t, 0.8, custom.Config().MatchThreshold)
	assert.Equal(t, "ls", custom.Config().FallbackUnit)
}

func TestParse(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	rows, err := r.Parse(context.Background(), "Ready-mix concrete M30,5,m3\nSand\nGravel,-2,\nTiles,abc,m2\n\n")
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{Name: "Ready-mix concrete M30", Quantity: 5, Unit: "m3"},
		{Name: "Sand", Quantity: 1, Unit: "pcs"},
		{Name: "Gravel", Quantity: 1, Unit: "pcs"},
		{Name: "Tiles", Quantity: 1, Unit: "m2"},
	}, rows)
}

func TestParseKeepsRowsAfterStrayQuote(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	rows, err := r.Parse(context.Background(), "\"12mm\" rebar,5,kg\nCement,3,bag\nSand,2,m3")
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{Name: "\"12mm\" rebar", Quantity: 5, Unit: "kg"},
		{Name: "Cement", Quantity: 3, Unit: "bag"},
		{Name: "Sand", Quantity: 2, Unit: "m3"},
	}, rows)

	rows, err = r.Parse(context.Background(), "\"Pipe 4in,2,m\r\nCement,3,bag")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{Name: "\"Pipe 4in", Quantity: 2, Unit: "m"}, rows[0])
	assert.Equal(t, "Cement", rows[1].Name)
}

func TestParseRejectsEmpty(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	for _, text := range []string{"", "   \n\t", "\n,,\n"} {
		_, err := r.Parse(context.Background(), text)
		require.Error(t, err, "%q", text)
		assert.True(t, model.IsValidation(err), "%q", text)
	}
}

func TestParseXLSX(t *testing.T) {
	t.Parallel()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Import")
	require.NoError(t, err)
	for _, rec := range [][]string{{"Item", "Qty", "Unit"}, {"Steel rebar TMT 12mm", "250", "kg"}, {"Survey pegs", "", ""}} {
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "lines.xlsx")
	require.NoError(t, f.Save(path))

	rows, err := newReconciler().ParseXLSX(path, 1)
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{Name: "Steel rebar TMT 12mm", Quantity: 250, Unit: "kg"},
		{Name: "Survey pegs", Quantity: 1, Unit: "pcs"},
	}, rows)
}

func TestPreviewMatchedAndPending(t *testing.T) {
	t.Parallel()

	r := newReconciler(model.CatalogItem{ID: "c1", Name: "Ready-mix concrete M30", SKU: "CON-M30"})

	rows, err := r.Parse(context.Background(), "Ready-mix concrete M30,5,m3")
	require.NoError(t, err)
	preview := r.Preview(rows)
	require.Len(t, preview, 1)
	require.NotNil(t, preview[0].MatchedItemID)
	assert.Equal(t, "c1", *preview[0].MatchedItemID)
	assert.Equal(t, model.PreviewMatched, preview[0].Status)
	assert.InDelta(t, 1.0, preview[0].Confidence, 1e-9)

	rows, err = r.Parse(context.Background(), "Totally Unrelated Widget,2,pcs")
	require.NoError(t, err)
	preview = r.Preview(rows)
	require.Len(t, preview, 1)
	assert.Nil(t, preview[0].MatchedItemID)
	assert.Equal(t, model.PreviewPending, preview[0].Status)
	assert.Zero(t, preview[0].Confidence)
}

func TestPreviewClampsConfidence(t *testing.T) {
	t.Parallel()

	r := newReconciler(model.CatalogItem{ID: "c3", Name: "Excavator (20T) hire", SKU: "EQ-EX20"})
	preview := r.Preview([]Row{{Name: "excavator hire", Quantity: 8, Unit: "hr"}})
	require.Len(t, preview, 1)
	assert.Equal(t, 1.0, preview[0].Confidence)
	assert.Equal(t, model.PreviewMatched, preview[0].Status)
}

func TestPreviewRespectsThreshold(t *testing.T) {
	t.Parallel()

	idx := catalog.NewIndex([]model.CatalogItem{{ID: "c1", Name: "Ready-mix concrete M30", SKU: "CON-M30"}})
	strict := New(idx, Config{MatchThreshold: 0.9})
	preview := strict.Preview([]Row{{Name: "concrete", Quantity: 1, Unit: "m3"}})
	assert.Equal(t, model.PreviewPending, preview[0].Status)
	assert.Greater(t, preview[0].Confidence, 0.0)
}

func TestApplyMatches(t *testing.T) {
	t.Parallel()

	r := newReconciler()
	catID := "cat-001"
	labourID := "cat-002"
	goneID := "cat-999"
	rows := []model.BulkPreviewRow{
		{ID: "a", Name: "concrete", Unit: "", Quantity: 5, MatchedItemID: &catID, Status: model.PreviewMatched},
		{ID: "b", Name: "labour", Unit: "day", Quantity: 2, MatchedItemID: &labourID, Status: model.PreviewMatched},
		{ID: "c", Name: "unknown", Quantity: 1, Status: model.PreviewPending},
		{ID: "d", Name: "gone", Quantity: 1, MatchedItemID: &goneID, Status: model.PreviewMatched},
	}

	lines := r.ApplyMatches(rows, model.DefaultPricingConfig(), "tax-default")
	require.Len(t, lines, 2)

	assert.Equal(t, "Ready-mix concrete M30", lines[0].Name)
	assert.Equal(t, "m³", lines[0].Unit)
	assert.Equal(t, 8420.0, *lines[0].UnitPrice)
	assert.Equal(t, "tax-vat-13", *lines[0].TaxSnapshot)
	assert.Equal(t, "cat-001", lines[0].CatalogItemID())
	assert.Equal(t, "Last purchase price", lines[0].PricingSource)

	assert.Equal(t, "day", lines[1].Unit)
	assert.Equal(t, 540.0, *lines[1].UnitPrice)
	assert.InDelta(t, 1080.0, *lines[1].Amount(), 1e-9)
}

func TestApplyMatchesDefaultTaxAndNeedsPrice(t *testing.T) {
	t.Parallel()

	r := newReconciler(model.CatalogItem{ID: "x", Name: "Unpriced thing", Unit: "ea"})
	id := "x"
	lines := r.ApplyMatches([]model.BulkPreviewRow{{Quantity: 3, MatchedItemID: &id}}, model.DefaultPricingConfig(), "tax-default")
	require.Len(t, lines, 1)
	assert.True(t, lines[0].NeedsPrice())
	assert.Equal(t, "Needs price", lines[0].PricingSource)
	assert.Equal(t, "tax-default", *lines[0].TaxSnapshot)

	lines = r.ApplyMatches([]model.BulkPreviewRow{{Quantity: 3, MatchedItemID: &id}}, model.DefaultPricingConfig(), "")
	assert.Nil(t, lines[0].TaxSnapshot)
}

func TestPromoteUnmatched(t *testing.T) {
	t.Parallel()

	idx := catalog.NewIndex(catalog.DefaultSeed())
	r := New(idx, Config{})
	matched := "cat-001"
	rows := []model.BulkPreviewRow{
		{ID: "r1", Name: "Totally Unrelated Widget", Unit: "pcs", Quantity: 2, Status: model.PreviewPending},
		{ID: "r2", Name: "Totally Unrelated Widget", Unit: "pcs", Quantity: 4, Status: model.PreviewPending},
		{ID: "r3", Name: "Concrete", Unit: "m3", Quantity: 1, MatchedItemID: &matched, Confidence: 0.9, Status: model.PreviewMatched},
		{ID: "r4", Name: "", Unit: "", Quantity: 1, Status: model.PreviewPending},
	}

	out, created := r.PromoteUnmatched(rows)
	require.Len(t, created, 2)
	assert.Equal(t, 6, idx.Len())

	first := created[0]
	assert.True(t, strings.HasPrefix(first.ID, "bulk-"))
	assert.True(t, strings.HasPrefix(first.SKU, "BULK-"))
	assert.Equal(t, PromotedCategory, first.Category)
	assert.Equal(t, "Bulk item r4", created[1].Name)
	assert.Equal(t, "pcs", created[1].Unit)

	assert.Equal(t, model.PreviewCreated, out[0].Status)
	assert.Equal(t, first.ID, *out[0].MatchedItemID)
	assert.Equal(t, first.ID, *out[1].MatchedItemID)
	assert.Equal(t, DefaultPromotedConfidence, out[0].Confidence)
	assert.Equal(t, model.PreviewMatched, out[2].Status)
	assert.Equal(t, 0.9, out[2].Confidence)

	// input untouched
	assert.Nil(t, rows[0].MatchedItemID)
	assert.Empty(t, Unmatched(out))
	assert.Len(t, Unmatched(rows), 3)

	got, ok := idx.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, "Totally Unrelated Widget", got.Name)

	lines := r.ApplyMatches(out, model.DefaultPricingConfig(), "")
	require.Len(t, lines, 4)
	assert.True(t, lines[0].NeedsPrice())
}

func TestPromoteUnmatchedNothingPending(t *testing.T) {
	t.Parallel()

	idx := catalog.NewIndex(nil)
	out, created := New(idx, Config{}).PromoteUnmatched(nil)
	assert.Empty(t, out)
	assert.Empty(t, created)
	assert.Zero(t, idx.Len())
}
