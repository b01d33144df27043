package model

import (
	"strings"
	"time"
)

// TenderStatus is the lifecycle state of a tender.
type TenderStatus string

const (
	TenderDraft     TenderStatus = "draft"
	TenderSubmitted TenderStatus = "submitted"
	TenderAwarded   TenderStatus = "awarded"
	TenderCancelled TenderStatus = "cancelled"
)

// ParseTenderStatus maps unknown or empty values to draft.
func ParseTenderStatus(s string) TenderStatus {
	switch st := TenderStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TenderSubmitted, TenderAwarded, TenderCancelled:
		return st
	default:
		return TenderDraft
	}
}

// Defaults applied by NormalizeRecord.
const (
	DefaultCurrency    = "NPR"
	DefaultTenderTitle = "Untitled tender"
	DefaultLineName    = "Unnamed item"
)

// AuditEntry is one human-readable event in a tender's history.
type AuditEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TenderRecord is the persisted form of a tender: header, pricing snapshot,
// derived totals, audit trail (newest first) and lines.
type TenderRecord struct {
	TenderNumber string       `json:"tenderNumber"`
	Title        string       `json:"title"`
	ClosingDate  string       `json:"closingDate,omitempty"`
	Status       TenderStatus `json:"status"`
	Currency     string       `json:"currency"`
	TaxProfileID string       `json:"taxProfileId,omitempty"`
	PricingConfig
	TotalAmount  float64      `json:"totalAmount"`
	LineCount    int          `json:"lineCount"`
	CreatedBy    string       `json:"createdBy,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastEditedBy string       `json:"lastEditedBy,omitempty"`
	LastEditedAt time.Time    `json:"lastEditedAt"`
	AuditTrail   []AuditEntry `json:"auditTrail"`
	Lines        []TenderLine `json:"lines"`
}

// RecomputeTotals derives TotalAmount and LineCount from the lines.
func (r *TenderRecord) RecomputeTotals() {
	r.TotalAmount = TotalAmount(r.Lines)
	r.LineCount = len(r.Lines)
}

// NormalizeRecord returns a copy of r with defaults filled in, missing line
// ids generated and totals recomputed. It is applied to every record before
// it is written and after it is read back.
func NormalizeRecord(r TenderRecord, now time.Time) TenderRecord {
	out := r
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now.UTC()
	}
	if out.LastEditedAt.IsZero() {
		out.LastEditedAt = out.CreatedAt
	}
	out.TenderNumber = strings.TrimSpace(out.TenderNumber)
	if out.TenderNumber == "" {
		out.TenderNumber = "TN-" + out.CreatedAt.Format(time.DateOnly)
	}
	out.Title = strings.TrimSpace(out.Title)
	if out.Title == "" {
		out.Title = DefaultTenderTitle
	}
	out.Status = ParseTenderStatus(string(out.Status))
	out.Currency = strings.TrimSpace(out.Currency)
	if out.Currency == "" {
		out.Currency = DefaultCurrency
	}

	defaults := DefaultPricingConfig()
	orderOnly := PricingConfig{PriceStrategyOrder: out.PriceStrategyOrder, AvgWindowDays: MinAverageWindowDays}
	if orderOnly.Validate() != nil {
		out.PriceStrategyOrder = defaults.PriceStrategyOrder
	} else {
		out.PriceStrategyOrder = append([]Strategy(nil), out.PriceStrategyOrder...)
	}
	if out.AvgWindowDays <= 0 {
		out.AvgWindowDays = defaults.AvgWindowDays
	}
	if out.LastEditedBy == "" {
		out.LastEditedBy = out.CreatedBy
	}

	audit := make([]AuditEntry, 0, len(out.AuditTrail))
	for _, e := range out.AuditTrail {
		msg := strings.TrimSpace(e.Message)
		if msg == "" {
			continue
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = out.CreatedAt
		}
		e.Message = msg
		audit = append(audit, e)
	}
	out.AuditTrail = audit

	lines := make([]TenderLine, 0, len(out.Lines))
	for _, l := range out.Lines {
		if l.ID == "" {
			l.ID = ShortID()
		}
		l.Name = strings.TrimSpace(l.Name)
		if l.Name == "" {
			l.Name = DefaultLineName
		}
		l.Unit = strings.TrimSpace(l.Unit)
		if strings.TrimSpace(l.PricingSource) == "" {
			l.PricingSource = SourceManualEntry
		}
		if l.Variant == nil {
			l.Variant = ItemLine{}
		}
		lines = append(lines, l)
	}
	out.Lines = lines
	out.RecomputeTotals()
	return out
}

// AuditTrail is a capped ring of audit entries, newest first.
type AuditTrail struct {
	limit   int
	entries []AuditEntry
}

// DefaultAuditLimit is the number of entries kept when no limit is given.
const DefaultAuditLimit = 25

// NewAuditTrail creates a trail keeping at most limit entries.
func NewAuditTrail(limit int) *AuditTrail {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	return &AuditTrail{limit: limit}
}

// Push prepends an entry and drops the oldest beyond the limit.
func (a *AuditTrail) Push(message string, at time.Time) {
	a.entries = append([]AuditEntry{{Message: message, Timestamp: at.UTC()}}, a.entries...)
	if len(a.entries) > a.limit {
		a.entries = a.entries[:a.limit]
	}
}

// Entries returns a copy of the trail, newest first.
func (a *AuditTrail) Entries() []AuditEntry {
	return append([]AuditEntry(nil), a.entries...)
}

// Clone returns an independent copy with the same limit.
func (a *AuditTrail) Clone() *AuditTrail {
	return &AuditTrail{limit: a.limit, entries: a.Entries()}
}

// Len returns the number of retained entries.
func (a *AuditTrail) Len() int {
	return len(a.entries)
}
