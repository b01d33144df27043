// Package tender assembles a tender from catalog picks, service lines and
// bulk imports, then validates and saves it through the record store.
package tender

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/catalog"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/pricing"
	"github.com/sells-group/tender-cli/internal/reconcile"
	"github.com/sells-group/tender-cli/internal/store"
)

// DefaultServiceUnit is used for service lines entered without a unit.
const DefaultServiceUnit = "ls"

// Saver persists a tender record. *store.FallbackStore satisfies it.
type Saver interface {
	Save(ctx context.Context, p store.SaveParams) (model.SaveResult, error)
}

// Options configures a new Session.
type Options struct {
	ProjectID    string
	ProjectName  string
	Currency     string
	TaxProfileID string
	CreatedBy    string
	Pricing      model.PricingConfig
	AuditLimit   int
	Reconcile    reconcile.Config
	Now          func() time.Time
}

// Header is the editable tender metadata.
type Header struct {
	ProjectID    string
	TenderNumber string
	Title        string
	ClosingDate  string
	Status       model.TenderStatus
	Currency     string
	TaxProfileID string
	CreatedBy    string
	CreatedAt    time.Time
	LastEditedBy string
	LastEditedAt time.Time
}

// Session is one tender being assembled. It is not safe for concurrent use.
type Session struct {
	header  Header
	pricing model.PricingConfig
	lines   []model.TenderLine
	audit   *model.AuditTrail
	bulk    []model.BulkPreviewRow

	index      *catalog.Index
	resolver   *pricing.Resolver
	reconciler *reconcile.Reconciler
	saver      Saver
	now        func() time.Time

	id     string
	stored model.Storage
}

// NewSession starts a session over index that saves through saver.
func NewSession(index *catalog.Index, saver Saver, opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cfg := opts.Pricing
	if cfg.Validate() != nil {
		cfg = model.DefaultPricingConfig()
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = model.DefaultCurrency
	}
	createdBy := strings.TrimSpace(opts.CreatedBy)
	start := now().UTC()

	s := &Session{
		header: Header{
			ProjectID:    strings.TrimSpace(opts.ProjectID),
			TenderNumber: GenerateTenderNumber(opts.ProjectName, start),
			Status:       model.TenderDraft,
			Currency:     currency,
			TaxProfileID: strings.TrimSpace(opts.TaxProfileID),
			CreatedBy:    createdBy,
			CreatedAt:    start,
			LastEditedBy: createdBy,
			LastEditedAt: start,
		},
		pricing:    cfg.Clone(),
		audit:      model.NewAuditTrail(opts.AuditLimit),
		index:      index,
		reconciler: reconcile.New(index, opts.Reconcile),
		saver:      saver,
		now:        now,
	}
	s.resolver = pricing.NewResolver(func() model.PricingConfig { return s.pricing })
	return s
}

// DraftInput is the header entered when a draft is created.
type DraftInput struct {
	TenderNumber string `json:"tenderNumber"`
	Title        string `json:"title"`
	ClosingDate  string `json:"closingDate"`
	Currency     string `json:"currency"`
	TaxProfileID string `json:"taxProfileId"`
	CreatedBy    string `json:"createdBy"`
}

// CreateDraft sets the header. Title and closing date (YYYY-MM-DD) are
// required; blank optional fields keep their current values.
func (s *Session) CreateDraft(in DraftInput) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Invalid("title", "tender title is required")
	}
	closing := strings.TrimSpace(in.ClosingDate)
	if closing == "" {
		return model.Invalid("closingDate", "closing date is required")
	}
	if _, err := time.Parse(time.DateOnly, closing); err != nil {
		return model.Invalid("closingDate", "closing date %q is not YYYY-MM-DD", closing)
	}

	h := s.header
	h.Title = title
	h.ClosingDate = closing
	if v := strings.TrimSpace(in.TenderNumber); v != "" {
		h.TenderNumber = v
	}
	if v := strings.ToUpper(strings.TrimSpace(in.Currency)); v != "" {
		h.Currency = v
	}
	if v := strings.TrimSpace(in.TaxProfileID); v != "" {
		h.TaxProfileID = v
	}
	if v := strings.TrimSpace(in.CreatedBy); v != "" {
		h.CreatedBy = v
	}
	h.LastEditedBy = h.CreatedBy
	h.LastEditedAt = s.now().UTC()
	s.header = h
	s.pushAudit(fmt.Sprintf("Draft tender %s created", h.TenderNumber))
	return nil
}

// Header returns the current header.
func (s *Session) Header() Header {
	return s.header
}

// ID returns the id of the last save, or "" before the first one.
func (s *Session) ID() string {
	return s.id
}

// Stored returns where the last save landed.
func (s *Session) Stored() model.Storage {
	return s.stored
}

// Pricing returns a copy of the pricing configuration used for new lines.
func (s *Session) Pricing() model.PricingConfig {
	return s.pricing.Clone()
}

// Lines returns a copy of the lines in order.
func (s *Session) Lines() []model.TenderLine {
	return cloneLines(s.lines)
}

// Audit returns the audit trail, newest first.
func (s *Session) Audit() []model.AuditEntry {
	return s.audit.Entries()
}

// AddItemLine prices catalog item itemID with the current strategy and
// appends it.
func (s *Session) AddItemLine(itemID string, quantity float64) (model.TenderLine, error) {
	item, ok := s.index.Get(itemID)
	if !ok {
		return model.TenderLine{}, model.Invalid("catalogItemId", "unknown catalog item %q", itemID)
	}
	if err := checkQuantity(quantity); err != nil {
		return model.TenderLine{}, err
	}

	sg := s.resolver.Resolve(item)
	line := model.TenderLine{
		ID:            model.ShortID(),
		Name:          item.Name,
		Unit:          item.Unit,
		Quantity:      quantity,
		UnitPrice:     sg.Price,
		TaxSnapshot:   s.taxFor(item.TaxProfileID),
		PricingSource: sg.Source,
		Variant:       model.ItemLine{CatalogItemID: item.ID},
	}
	s.lines = append(s.lines, line)
	s.pushAudit(fmt.Sprintf("Added catalog item %q", item.Name))
	return line, nil
}

// ServiceInput describes a manually rated service line.
type ServiceInput struct {
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Quantity float64 `json:"quantity"`
	Rate     float64 `json:"rate"`
}

// AddSimpleServiceLine appends a service line with a manual rate.
func (s *Session) AddSimpleServiceLine(in ServiceInput) (model.TenderLine, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.TenderLine{}, model.Invalid("name", "enter a description for the service line")
	}
	if err := checkQuantity(in.Quantity); err != nil {
		return model.TenderLine{}, err
	}
	if !positive(in.Rate) {
		return model.TenderLine{}, model.Invalid("rate", "rate must be greater than zero")
	}

	line := model.TenderLine{
		ID:            model.ShortID(),
		Name:          name,
		Unit:          serviceUnit(in.Unit),
		Quantity:      in.Quantity,
		UnitPrice:     model.Price(in.Rate),
		TaxSnapshot:   s.taxFor(""),
		PricingSource: model.SourceManualRate,
		Variant:       model.SimpleServiceLine{},
	}
	s.lines = append(s.lines, line)
	s.pushAudit(fmt.Sprintf("Added civil work line %q", name))
	return line, nil
}

// NormsInput describes a service line rated from a norms breakdown.
type NormsInput struct {
	Name      string              `json:"name"`
	Unit      string              `json:"unit"`
	Quantity  float64             `json:"quantity"`
	Breakdown model.NormBreakdown `json:"breakdown"`
}

// AddNormsServiceLine appends a service line whose rate is the breakdown
// total.
func (s *Session) AddNormsServiceLine(in NormsInput) (model.TenderLine, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.TenderLine{}, model.Invalid("name", "enter a description for the norm-based line")
	}
	if err := checkQuantity(in.Quantity); err != nil {
		return model.TenderLine{}, err
	}
	rate := in.Breakdown.Rate()
	if !positive(rate) {
		return model.TenderLine{}, model.Invalid("breakdown", "add at least one cost component")
	}

	line := model.TenderLine{
		ID:            model.ShortID(),
		Name:          name,
		Unit:          serviceUnit(in.Unit),
		Quantity:      in.Quantity,
		UnitPrice:     model.Price(rate),
		TaxSnapshot:   s.taxFor(""),
		PricingSource: model.SourceNormBreakdown,
		Variant:       model.NormsServiceLine{Breakdown: in.Breakdown.Clone()},
	}
	s.lines = append(s.lines, line)
	s.pushAudit(fmt.Sprintf("Added norms-based line %q", name))
	return line, nil
}

// UpdateLineQuantity changes a line's quantity. The price snapshot is kept.
func (s *Session) UpdateLineQuantity(lineID string, quantity float64) error {
	i, err := s.lineIndex(lineID)
	if err != nil {
		return err
	}
	if err := checkQuantity(quantity); err != nil {
		return err
	}
	s.lines[i].Quantity = quantity
	return nil
}

// UpdateLinePrice overrides a line's unit price. A non-positive price clears
// the snapshot so the line needs a price again, keeping its previous source.
func (s *Session) UpdateLinePrice(lineID string, price float64) error {
	i, err := s.lineIndex(lineID)
	if err != nil {
		return err
	}
	if positive(price) {
		s.lines[i].UnitPrice = model.Price(price)
		s.lines[i].PricingSource = model.SourceManualOverride
		return nil
	}
	s.lines[i].UnitPrice = nil
	return nil
}

// RemoveLine deletes a line.
func (s *Session) RemoveLine(lineID string) error {
	i, err := s.lineIndex(lineID)
	if err != nil {
		return err
	}
	s.lines = append(s.lines[:i:i], s.lines[i+1:]...)
	s.pushAudit("Removed a tender line")
	return nil
}

// ReorderStrategy moves strategy to position in the strategy order. Only
// lines added afterwards are affected.
func (s *Session) ReorderStrategy(position int, strategy model.Strategy) error {
	next, err := s.pricing.Reorder(position, strategy)
	if err != nil {
		return err
	}
	s.pricing = next
	s.pushAudit("Updated pricing strategy order")
	return nil
}

// SetAverageWindow changes the rolling-average window in days.
func (s *Session) SetAverageWindow(days int) error {
	next := s.pricing.Clone()
	next.AvgWindowDays = days
	if err := next.Validate(); err != nil {
		return err
	}
	s.pricing = next
	s.pushAudit(fmt.Sprintf("Set average window to %d days", days))
	return nil
}

// SetPreferSameProjectPrice toggles preferring this project's last price.
func (s *Session) SetPreferSameProjectPrice(prefer bool) {
	if s.pricing.PreferSameProjectPrice == prefer {
		return
	}
	s.pricing.PreferSameProjectPrice = prefer
	if prefer {
		s.pushAudit("Preferring same-project prices")
		return
	}
	s.pushAudit("Stopped preferring same-project prices")
}

// CreateCatalogItem adds an ad-hoc item to the catalog.
func (s *Session) CreateCatalogItem(in catalog.NewItem) (model.CatalogItem, error) {
	item, err := s.index.Create(in, s.reconciler.Config().FallbackUnit)
	if err != nil {
		return model.CatalogItem{}, err
	}
	s.pushAudit(fmt.Sprintf("Created new catalog item %q", item.Name))
	return item, nil
}

// BulkPreview parses pasted CSV text and matches each row to the catalog,
// replacing any previous preview.
func (s *Session) BulkPreview(ctx context.Context, text string) ([]model.BulkPreviewRow, error) {
	rows, err := s.reconciler.Parse(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.BulkPreviewRows(rows), nil
}

// BulkPreviewRows matches already parsed rows, replacing any previous
// preview.
func (s *Session) BulkPreviewRows(rows []reconcile.Row) []model.BulkPreviewRow {
	s.bulk = s.reconciler.Preview(rows)
	s.pushAudit(fmt.Sprintf("Prepared bulk import preview (%d rows)", len(s.bulk)))
	return s.BulkRows()
}

// BulkRows returns a copy of the current preview.
func (s *Session) BulkRows() []model.BulkPreviewRow {
	return append([]model.BulkPreviewRow(nil), s.bulk...)
}

// ApplyBulkMatches adds an item line for every preview row with a catalog
// item attached.
func (s *Session) ApplyBulkMatches() ([]model.TenderLine, error) {
	matched := 0
	for _, row := range s.bulk {
		if row.MatchedItemID != nil {
			matched++
		}
	}
	if matched == 0 {
		return nil, model.Invalid("bulk", "no matched items to add")
	}
	additions := s.reconciler.ApplyMatches(s.bulk, s.pricing, s.header.TaxProfileID)
	if len(additions) == 0 {
		return nil, model.Invalid("bulk", "matched entries are no longer valid")
	}
	s.lines = append(s.lines, additions...)
	s.pushAudit(fmt.Sprintf("Imported %d lines via CSV", len(additions)))
	return cloneLines(additions), nil
}

// PromoteBulkUnmatched creates catalog items for every pending preview row.
func (s *Session) PromoteBulkUnmatched() ([]model.CatalogItem, error) {
	if len(reconcile.Unmatched(s.bulk)) == 0 {
		return nil, model.Invalid("bulk", "no unmatched rows pending")
	}
	rows, created := s.reconciler.PromoteUnmatched(s.bulk)
	s.bulk = rows
	s.pushAudit(fmt.Sprintf("Created %d catalog records from bulk import", len(created)))
	return created, nil
}

// ResetBulk discards the preview.
func (s *Session) ResetBulk() {
	s.bulk = nil
}

// Totals summarizes the current lines.
type Totals struct {
	Amount     float64 `json:"amount"`
	LineCount  int     `json:"lineCount"`
	NeedsPrice int     `json:"needsPrice"`
	Ready      int     `json:"ready"`
}

// Totals computes the running totals.
func (s *Session) Totals() Totals {
	t := Totals{Amount: model.TotalAmount(s.lines), LineCount: len(s.lines)}
	for _, l := range s.lines {
		if l.NeedsPrice() {
			t.NeedsPrice++
		} else {
			t.Ready++
		}
	}
	return t
}

// Validate reports whether the tender can be submitted: at least one line
// and every line priced.
func (s *Session) Validate() error {
	t := s.Totals()
	if t.LineCount == 0 {
		return model.Invalid("lines", "add at least one line")
	}
	if t.NeedsPrice > 0 {
		return model.Invalid("lines", "%d line(s) still need a price", t.NeedsPrice)
	}
	return nil
}

// Record snapshots the session into a persistable record.
func (s *Session) Record() model.TenderRecord {
	h := s.header
	rec := model.TenderRecord{
		TenderNumber:  h.TenderNumber,
		Title:         h.Title,
		ClosingDate:   h.ClosingDate,
		Status:        h.Status,
		Currency:      h.Currency,
		TaxProfileID:  h.TaxProfileID,
		PricingConfig: s.pricing.Clone(),
		CreatedBy:     h.CreatedBy,
		CreatedAt:     h.CreatedAt,
		LastEditedBy:  h.LastEditedBy,
		LastEditedAt:  h.LastEditedAt,
		AuditTrail:    s.audit.Entries(),
		Lines:         cloneLines(s.lines),
	}
	rec.RecomputeTotals()
	return rec
}

// SaveDraft saves the tender as a draft. Lines may still need prices.
func (s *Session) SaveDraft(ctx context.Context) (model.SaveResult, error) {
	if strings.TrimSpace(s.header.Title) == "" {
		return model.SaveResult{}, model.Invalid("title", "tender title is required")
	}
	if len(s.lines) == 0 {
		return model.SaveResult{}, model.Invalid("lines", "add at least one line")
	}
	return s.persist(ctx, model.TenderDraft, "Draft saved", "saved as draft")
}

// Submit validates and saves the tender as submitted.
func (s *Session) Submit(ctx context.Context) (model.SaveResult, error) {
	if err := s.Validate(); err != nil {
		return model.SaveResult{}, err
	}
	return s.persist(ctx, model.TenderSubmitted, "Submitted for analysis", "submitted for analysis")
}

func (s *Session) persist(ctx context.Context, status model.TenderStatus, event, outcome string) (model.SaveResult, error) {
	if s.header.ProjectID == "" {
		return model.SaveResult{}, model.Invalid("projectId", "project context missing")
	}
	if s.saver == nil {
		return model.SaveResult{}, eris.New("tender: no store configured")
	}

	prev := s.header
	s.header.Status = status
	if s.header.LastEditedBy == "" {
		s.header.LastEditedBy = s.header.CreatedBy
	}
	s.header.LastEditedAt = s.now().UTC()

	trail := s.audit.Clone()
	trail.Push(event, s.now())
	rec := s.Record()
	rec.AuditTrail = trail.Entries()
	res, err := s.saver.Save(ctx, store.SaveParams{ID: s.id, ProjectID: s.header.ProjectID, Tender: rec})
	if err != nil {
		s.header = prev
		s.pushAudit(fmt.Sprintf("Tender %s submission failed", s.header.TenderNumber))
		return model.SaveResult{}, eris.Wrapf(err, "tender: save %s", s.header.TenderNumber)
	}

	s.id = res.ID
	s.stored = res.Stored
	s.audit = trail
	zap.L().Debug("tender: audit", zap.String("message", event))
	where := "workspace"
	if res.Stored == model.StorageLocal {
		where = "offline backup"
	}
	s.pushAudit(fmt.Sprintf("Tender %s %s (%s)", s.header.TenderNumber, outcome, where))
	zap.L().Info("tender: saved",
		zap.String("tender_id", res.ID),
		zap.String("tender_number", s.header.TenderNumber),
		zap.String("status", string(status)),
		zap.String("stored", string(res.Stored)),
	)
	return res, nil
}

func (s *Session) pushAudit(message string) {
	s.audit.Push(message, s.now())
	zap.L().Debug("tender: audit", zap.String("message", message))
}

func (s *Session) lineIndex(lineID string) (int, error) {
	for i, l := range s.lines {
		if l.ID == lineID {
			return i, nil
		}
	}
	return -1, model.Invalid("lineId", "unknown line %q", lineID)
}

// taxFor snapshots the item's tax profile, falling back to the header's.
func (s *Session) taxFor(itemTax string) *string {
	tax := strings.TrimSpace(itemTax)
	if tax == "" {
		tax = s.header.TaxProfileID
	}
	if tax == "" {
		return nil
	}
	return &tax
}

func checkQuantity(q float64) error {
	if !positive(q) {
		return model.Invalid("quantity", "quantity must be greater than zero")
	}
	return nil
}

func positive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func serviceUnit(unit string) string {
	if u := strings.TrimSpace(unit); u != "" {
		return u
	}
	return DefaultServiceUnit
}

func cloneLines(lines []model.TenderLine) []model.TenderLine {
	out := make([]model.TenderLine, len(lines))
	for i, l := range lines {
		if l.UnitPrice != nil {
			l.UnitPrice = model.Price(*l.UnitPrice)
		}
		if v, ok := l.Variant.(model.NormsServiceLine); ok {
			l.Variant = model.NormsServiceLine{Breakdown: v.Breakdown.Clone()}
		}
		out[i] = l
	}
	return out
}
