package tender

import (
	"context"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/catalog"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/store"
)

var sessionNow = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

type recordingSaver struct {
	calls []store.SaveParams
	err   error
	to    model.Storage
}

func (r *recordingSaver) Save(_ context.Context, p store.SaveParams) (model.SaveResult, error) {
	r.calls = append(r.calls, p)
	if r.err != nil {
		return model.SaveResult{}, r.err
	}
	id := p.ID
	if id == "" {
		id = "tender-1"
	}
	to := r.to
	if to == "" {
		to = model.StorageRemote
	}
	return model.SaveResult{ID: id, Stored: to}, nil
}

func newTestSession(t *testing.T, saver Saver) *Session {
	t.Helper()
	s := NewSession(catalog.NewIndex(catalog.DefaultSeed()), saver, Options{
		ProjectID:    "p1",
		ProjectName:  "Kathmandu Bridge Works",
		TaxProfileID: "tax-default",
		CreatedBy:    "asha",
		Now:          func() time.Time { return sessionNow },
	})
	require.NoError(t, s.CreateDraft(DraftInput{Title: "Bridge deck", ClosingDate: "2026-06-01"}))
	return s
}

func TestCreateDraft_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    DraftInput
		field string
	}{
		{"missing title", DraftInput{ClosingDate: "2026-06-01"}, "title"},
		{"missing closing date", DraftInput{Title: "Bridge"}, "closingDate"},
		{"bad closing date", DraftInput{Title: "Bridge", ClosingDate: "next week"}, "closingDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSession(catalog.NewIndex(nil), nil, Options{})
			err := s.CreateDraft(tt.in)
			require.Error(t, err)
			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Empty(t, s.Header().Title)
			assert.Empty(t, s.Audit())
		})
	}
}

func TestCreateDraft_SetsHeader(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	h := s.Header()
	assert.Equal(t, "Bridge deck", h.Title)
	assert.Equal(t, model.TenderDraft, h.Status)
	assert.Equal(t, model.DefaultCurrency, h.Currency)
	assert.Regexp(t, regexp.MustCompile(`^TDR-KBW-260502-\d{3}$`), h.TenderNumber)
	require.Len(t, s.Audit(), 1)
	assert.Equal(t, "Draft tender "+h.TenderNumber+" created", s.Audit()[0].Message)
}

func TestAddItemLine(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	line, err := s.AddItemLine("cat-001", 5)
	require.NoError(t, err)
	assert.Equal(t, "Ready-mix concrete M30", line.Name)
	assert.Equal(t, "cat-001", line.CatalogItemID())
	require.NotNil(t, line.UnitPrice)
	assert.InDelta(t, 8420, *line.UnitPrice, 1e-9, "same-project price wins by default")
	assert.Equal(t, "Last purchase price", line.PricingSource)
	require.NotNil(t, line.TaxSnapshot)
	assert.Equal(t, "tax-vat-13", *line.TaxSnapshot)

	_, err = s.AddItemLine("cat-001", 0)
	assert.True(t, model.IsValidation(err))
	_, err = s.AddItemLine("cat-001", -2)
	assert.True(t, model.IsValidation(err))
	_, err = s.AddItemLine("missing", 1)
	assert.True(t, model.IsValidation(err))
	assert.Len(t, s.Lines(), 1)
}

func TestAddItemLine_NeedsPriceWhenNoObservation(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	item, err := s.CreateCatalogItem(catalog.NewItem{Name: "Waterproofing membrane"})
	require.NoError(t, err)

	line, err := s.AddItemLine(item.ID, 3)
	require.NoError(t, err)
	assert.Nil(t, line.UnitPrice)
	assert.True(t, line.NeedsPrice())
	assert.Equal(t, "Needs price", line.PricingSource)
	require.NotNil(t, line.TaxSnapshot)
	assert.Equal(t, "tax-default", *line.TaxSnapshot)
}

func TestReorderStrategy_OnlyAffectsNewLines(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	first, err := s.AddItemLine("cat-003", 1)
	require.NoError(t, err)

	require.NoError(t, s.ReorderStrategy(0, model.StrategyStandard))
	assert.Equal(t, []model.Strategy{model.StrategyStandard, model.StrategyLast, model.StrategyAverage}, s.Pricing().PriceStrategyOrder)

	second, err := s.AddItemLine("cat-003", 1)
	require.NoError(t, err)
	assert.InDelta(t, 4800, *second.UnitPrice, 1e-9)
	assert.Equal(t, "Standard rate", second.PricingSource)

	lines := s.Lines()
	assert.InDelta(t, 4600, *lines[0].UnitPrice, 1e-9)
	assert.Equal(t, first.PricingSource, lines[0].PricingSource)

	assert.True(t, model.IsValidation(s.ReorderStrategy(0, "median")))
}

func TestPricingToggles(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	assert.True(t, model.IsValidation(s.SetAverageWindow(3)))
	require.NoError(t, s.SetAverageWindow(90))
	require.NoError(t, s.ReorderStrategy(0, model.StrategyAverage))

	line, err := s.AddItemLine("cat-002", 2)
	require.NoError(t, err)
	assert.Equal(t, "Average (90d)", line.PricingSource)

	s.SetPreferSameProjectPrice(false)
	require.NoError(t, s.ReorderStrategy(0, model.StrategyLast))
	line, err = s.AddItemLine("cat-001", 1)
	require.NoError(t, err)
	assert.InDelta(t, 8450, *line.UnitPrice, 1e-9)
}

func TestServiceLines(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	_, err := s.AddSimpleServiceLine(ServiceInput{Name: "Site clearing", Quantity: 1, Rate: 0})
	assert.True(t, model.IsValidation(err), "simple service lines need a positive rate")
	_, err = s.AddSimpleServiceLine(ServiceInput{Name: " ", Quantity: 1, Rate: 10})
	assert.True(t, model.IsValidation(err))
	_, err = s.AddSimpleServiceLine(ServiceInput{Name: "Site clearing", Quantity: 0, Rate: 10})
	assert.True(t, model.IsValidation(err))

	simple, err := s.AddSimpleServiceLine(ServiceInput{Name: "Site clearing", Quantity: 2, Rate: 1200})
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceUnit, simple.Unit)
	assert.Equal(t, model.ServiceModeSimple, simple.Mode())
	assert.Equal(t, model.SourceManualRate, simple.PricingSource)

	_, err = s.AddNormsServiceLine(NormsInput{Name: "Brick work", Quantity: 1})
	assert.True(t, model.IsValidation(err), "empty breakdown is rejected")

	var b model.NormBreakdown
	require.NoError(t, b.Add(model.NormEntry{Category: model.NormMaterials, Label: "Bricks", Quantity: 2, Rate: 100}))
	require.NoError(t, b.Add(model.NormEntry{Category: model.NormLabor, Label: "Mason", Quantity: 1, Rate: 50}))
	norms, err := s.AddNormsServiceLine(NormsInput{Name: "Brick work", Unit: "m3", Quantity: 4, Breakdown: b})
	require.NoError(t, err)
	assert.InDelta(t, 250, *norms.UnitPrice, 1e-9)
	assert.InDelta(t, 1000, *norms.Amount(), 1e-9)
	assert.Equal(t, model.SourceNormBreakdown, norms.PricingSource)
	require.NotNil(t, norms.Breakdown())
	assert.Len(t, norms.Breakdown().Materials, 1)

	assert.Equal(t, Totals{Amount: 3400, LineCount: 2, Ready: 2}, s.Totals())
}

func TestLineEdits(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	line, err := s.AddItemLine("cat-004", 100)
	require.NoError(t, err)

	assert.True(t, model.IsValidation(s.UpdateLineQuantity(line.ID, 0)))
	assert.True(t, model.IsValidation(s.UpdateLineQuantity("nope", 3)))
	require.NoError(t, s.UpdateLineQuantity(line.ID, 250))

	require.NoError(t, s.UpdateLinePrice(line.ID, 110))
	got := s.Lines()[0]
	assert.InDelta(t, 250, got.Quantity, 1e-9)
	assert.InDelta(t, 110, *got.UnitPrice, 1e-9)
	assert.Equal(t, model.SourceManualOverride, got.PricingSource)

	require.NoError(t, s.UpdateLinePrice(line.ID, 0))
	got = s.Lines()[0]
	assert.Nil(t, got.UnitPrice)
	assert.True(t, got.NeedsPrice())
	assert.Equal(t, model.SourceManualOverride, got.PricingSource, "clearing a price keeps the source")
	assert.Nil(t, got.Amount())

	require.NoError(t, s.RemoveLine(line.ID))
	assert.Empty(t, s.Lines())
	assert.True(t, model.IsValidation(s.RemoveLine(line.ID)))
	assert.Equal(t, "Removed a tender line", s.Audit()[0].Message)
}

func TestBulkFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestSession(t, nil)

	_, err := s.BulkPreview(ctx, "   ")
	assert.True(t, model.IsValidation(err))
	_, err = s.ApplyBulkMatches()
	assert.True(t, model.IsValidation(err))

	rows, err := s.BulkPreview(ctx, "Ready-mix concrete M30,5,m3\nTotally Unrelated Widget,2,pcs\n")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.PreviewMatched, rows[0].Status)
	require.NotNil(t, rows[0].MatchedItemID)
	assert.Equal(t, "cat-001", *rows[0].MatchedItemID)
	assert.Equal(t, model.PreviewPending, rows[1].Status)
	assert.Nil(t, rows[1].MatchedItemID)

	added, err := s.ApplyBulkMatches()
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "m3", added[0].Unit)
	assert.InDelta(t, 5, added[0].Quantity, 1e-9)

	created, err := s.PromoteBulkUnmatched()
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Totally Unrelated Widget", created[0].Name)
	assert.Equal(t, "Ad-hoc", created[0].Category)

	bulk := s.BulkRows()
	assert.Equal(t, model.PreviewCreated, bulk[1].Status)
	assert.InDelta(t, 0.6, bulk[1].Confidence, 1e-9)

	_, err = s.PromoteBulkUnmatched()
	assert.True(t, model.IsValidation(err))

	s.ResetBulk()
	assert.Empty(t, s.BulkRows())
}

func TestValidate(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	assert.True(t, model.IsValidation(s.Validate()))

	item, err := s.CreateCatalogItem(catalog.NewItem{Name: "Anchor bolts"})
	require.NoError(t, err)
	line, err := s.AddItemLine(item.ID, 10)
	require.NoError(t, err)
	assert.True(t, model.IsValidation(s.Validate()), "unpriced line blocks submission")

	require.NoError(t, s.UpdateLinePrice(line.ID, 35))
	assert.NoError(t, s.Validate())
}

func TestRecord_SnapshotsPricing(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	_, err := s.AddItemLine("cat-001", 2)
	require.NoError(t, err)
	rec := s.Record()
	require.NoError(t, s.ReorderStrategy(0, model.StrategyStandard))

	assert.Equal(t, model.DefaultPricingConfig().PriceStrategyOrder, rec.PriceStrategyOrder)
	assert.InDelta(t, 16840, rec.TotalAmount, 1e-9)
	assert.Equal(t, 1, rec.LineCount)
	assert.Len(t, rec.AuditTrail, 2)
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	saver := &recordingSaver{}
	s := newTestSession(t, saver)

	_, err := s.Submit(ctx)
	assert.True(t, model.IsValidation(err))
	assert.Empty(t, saver.calls)

	_, err = s.AddItemLine("cat-002", 8)
	require.NoError(t, err)

	res, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tender-1", res.ID)
	assert.Equal(t, model.StorageRemote, s.Stored())
	require.Len(t, saver.calls, 1)

	saved := saver.calls[0]
	assert.Empty(t, saved.ID)
	assert.Equal(t, "p1", saved.ProjectID)
	assert.Equal(t, model.TenderSubmitted, saved.Tender.Status)
	assert.Equal(t, "Submitted for analysis", saved.Tender.AuditTrail[0].Message)
	assert.Contains(t, s.Audit()[0].Message, "(workspace)")

	_, err = s.Submit(ctx)
	require.NoError(t, err)
	require.Len(t, saver.calls, 2)
	assert.Equal(t, "tender-1", saver.calls[1].ID, "later saves upsert the same id")
}

func TestSaveDraft_OfflineAndFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	saver := &recordingSaver{to: model.StorageLocal}
	s := newTestSession(t, saver)
	item, err := s.CreateCatalogItem(catalog.NewItem{Name: "Drain pipe"})
	require.NoError(t, err)
	_, err = s.AddItemLine(item.ID, 12)
	require.NoError(t, err)

	res, err := s.SaveDraft(ctx)
	require.NoError(t, err, "drafts may contain unpriced lines")
	assert.Equal(t, model.StorageLocal, res.Stored)
	assert.Equal(t, model.TenderDraft, saver.calls[0].Tender.Status)
	assert.Contains(t, s.Audit()[0].Message, "(offline backup)")

	saver.err = errors.New("disk full")
	_, err = s.SaveDraft(ctx)
	require.Error(t, err)
	assert.Contains(t, s.Audit()[0].Message, "submission failed")
	assert.Equal(t, model.TenderDraft, s.Header().Status)
}

func TestSave_RequiresProject(t *testing.T) {
	t.Parallel()
	s := NewSession(catalog.NewIndex(catalog.DefaultSeed()), &recordingSaver{}, Options{Now: func() time.Time { return sessionNow }})
	require.NoError(t, s.CreateDraft(DraftInput{Title: "X", ClosingDate: "2026-06-01"}))
	_, err := s.AddItemLine("cat-001", 1)
	require.NoError(t, err)

	_, err = s.Submit(context.Background())
	assert.True(t, model.IsValidation(err))
}

func TestAuditTrailIsCapped(t *testing.T) {
	t.Parallel()
	s := NewSession(catalog.NewIndex(catalog.DefaultSeed()), nil, Options{AuditLimit: 3})
	for range 5 {
		_, err := s.AddItemLine("cat-001", 1)
		require.NoError(t, err)
	}
	assert.Len(t, s.Audit(), 3)
}

func TestGenerateTenderNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		project string
		pattern string
	}{
		{"Kathmandu Ring Road Upgrade Phase 2", `^TDR-KRRU-260502-\d{3}$`},
		{"", `^TDR-PRJ-260502-\d{3}$`},
		{"  metro  ", `^TDR-M-260502-\d{3}$`},
		{"(pilot) lot", `^TDR-L-260502-\d{3}$`},
	}
	for _, tt := range tests {
		t.Run(tt.project, func(t *testing.T) {
			t.Parallel()
			got := GenerateTenderNumber(tt.project, sessionNow)
			assert.Regexp(t, regexp.MustCompile(tt.pattern), got)
		})
	}
}

func TestLineQuantitiesMustBeFinitePositive(t *testing.T) {
	t.Parallel()

	var b model.NormBreakdown
	require.NoError(t, b.Add(model.NormEntry{Category: model.NormMaterials, Label: "Bricks", Quantity: 2, Rate: 100}))

	bad := []struct {
		name string
		qty  float64
	}{
		{"negative", -1},
		{"zero", 0},
		{"NaN", math.NaN()},
		{"+Inf", math.Inf(1)},
		{"-Inf", math.Inf(-1)},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestSession(t, nil)
			existing, err := s.AddItemLine("cat-001", 2)
			require.NoError(t, err)
			auditLen := len(s.Audit())

			_, err = s.AddItemLine("cat-001", tt.qty)
			assertQuantityRejected(t, err)

			_, err = s.AddSimpleServiceLine(ServiceInput{Name: "Site clearing", Quantity: tt.qty, Rate: 10})
			assertQuantityRejected(t, err)

			_, err = s.AddNormsServiceLine(NormsInput{Name: "Brick work", Quantity: tt.qty, Breakdown: b})
			assertQuantityRejected(t, err)

			assertQuantityRejected(t, s.UpdateLineQuantity(existing.ID, tt.qty))

			require.Len(t, s.Lines(), 1)
			assert.InDelta(t, 2, s.Lines()[0].Quantity, 1e-9)
			assert.Len(t, s.Audit(), auditLen)
			assert.Equal(t, Totals{Amount: 16840, LineCount: 1, Ready: 1}, s.Totals())
		})
	}
}

func TestServiceRatesMustBeFinite(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, nil)

	for _, rate := range []float64{-5, math.NaN(), math.Inf(1)} {
		_, err := s.AddSimpleServiceLine(ServiceInput{Name: "Site clearing", Quantity: 1, Rate: rate})
		assert.True(t, model.IsValidation(err), "rate %v", rate)

		var b model.NormBreakdown
		require.NoError(t, b.Add(model.NormEntry{Category: model.NormLabor, Label: "Mason", Quantity: 1, Rate: rate}))
		_, err = s.AddNormsServiceLine(NormsInput{Name: "Brick work", Quantity: 1, Breakdown: b})
		assert.True(t, model.IsValidation(err), "rate %v", rate)
	}
	assert.Empty(t, s.Lines())
}

func assertQuantityRejected(t *testing.T, err error) {
	t.Helper()
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "quantity", ve.Field)
}

func TestSubmit_FailedSaveLeavesHeaderAndTrail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := sessionNow
	saver := &recordingSaver{err: errors.New("connection reset")}
	s := NewSession(catalog.NewIndex(catalog.DefaultSeed()), saver, Options{
		ProjectID:   "p1",
		ProjectName: "Kathmandu Bridge Works",
		CreatedBy:   "asha",
		Now:         func() time.Time { return clock },
	})
	require.NoError(t, s.CreateDraft(DraftInput{Title: "Bridge deck", ClosingDate: "2026-06-01"}))
	_, err := s.AddItemLine("cat-001", 5)
	require.NoError(t, err)
	before := s.Header()
	clock = clock.Add(time.Hour)

	_, err = s.Submit(ctx)
	require.Error(t, err)
	assert.Equal(t, before, s.Header(), "status and edit stamp are restored")

	require.Len(t, saver.calls, 1)
	assert.Equal(t, model.TenderSubmitted, saver.calls[0].Tender.Status)
	assert.Equal(t, "Submitted for analysis", saver.calls[0].Tender.AuditTrail[0].Message)

	for _, e := range s.Audit() {
		assert.NotEqual(t, "Submitted for analysis", e.Message)
	}
	assert.Contains(t, s.Audit()[0].Message, "submission failed")
	assert.Contains(t, s.Audit()[1].Message, "Added catalog item")

	saver.err = nil
	_, err = s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TenderSubmitted, s.Header().Status)
	assert.Equal(t, clock, s.Header().LastEditedAt)
	assert.Equal(t, "Submitted for analysis", s.Audit()[1].Message)
	assert.Contains(t, s.Audit()[0].Message, "submitted for analysis (workspace)")
}
