package model

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// LineKind discriminates catalog item lines from service lines.
type LineKind string

const (
	LineKindItem    LineKind = "item"
	LineKindService LineKind = "service"
)

// ServiceMode discriminates how a service line's rate was produced.
type ServiceMode string

const (
	ServiceModeSimple ServiceMode = "simple"
	ServiceModeNorms  ServiceMode = "norms"
)

// Pricing source labels attached to lines created outside the resolver.
const (
	SourceManualRate     = "Manual rate"
	SourceManualOverride = "Manual override"
	SourceNormBreakdown  = "Norm breakdown"
	SourceManualEntry    = "manual entry"
)

// LineVariant is the closed set of line shapes: ItemLine, SimpleServiceLine
// and NormsServiceLine. Consumers switch over the concrete types.
type LineVariant interface {
	Kind() LineKind
	isLineVariant()
}

// ItemLine is a line priced from a catalog item.
type ItemLine struct {
	CatalogItemID string
}

// SimpleServiceLine is a service line with a manually entered rate.
type SimpleServiceLine struct{}

// NormsServiceLine is a service line whose rate is the sum of its breakdown.
type NormsServiceLine struct {
	Breakdown NormBreakdown
}

func (ItemLine) Kind() LineKind          { return LineKindItem }
func (SimpleServiceLine) Kind() LineKind { return LineKindService }
func (NormsServiceLine) Kind() LineKind  { return LineKindService }

func (ItemLine) isLineVariant()          {}
func (SimpleServiceLine) isLineVariant() {}
func (NormsServiceLine) isLineVariant()  {}

// TenderLine is one priced row of a tender. UnitPrice is the snapshot taken
// when the line was added; nil means the line still needs a price.
type TenderLine struct {
	ID            string
	Name          string
	Unit          string
	Quantity      float64
	UnitPrice     *float64
	TaxSnapshot   *string
	PricingSource string
	Variant       LineVariant
}

// NeedsPrice is true when no positive unit price is attached.
func (l TenderLine) NeedsPrice() bool {
	return l.UnitPrice == nil || math.IsNaN(*l.UnitPrice) || *l.UnitPrice <= 0
}

// Amount is UnitPrice × Quantity, or nil when there is no price snapshot.
func (l TenderLine) Amount() *float64 {
	if l.UnitPrice == nil {
		return nil
	}
	v := lineAmount(*l.UnitPrice, l.Quantity)
	return &v
}

// Kind returns the line kind; lines without a variant are items.
func (l TenderLine) Kind() LineKind {
	return l.variant().Kind()
}

// Mode returns the service mode, or "" for item lines.
func (l TenderLine) Mode() ServiceMode {
	switch l.variant().(type) {
	case SimpleServiceLine:
		return ServiceModeSimple
	case NormsServiceLine:
		return ServiceModeNorms
	default:
		return ""
	}
}

// CatalogItemID returns the source catalog item for item lines.
func (l TenderLine) CatalogItemID() string {
	if v, ok := l.variant().(ItemLine); ok {
		return v.CatalogItemID
	}
	return ""
}

// Breakdown returns the norms breakdown for norms-mode service lines.
func (l TenderLine) Breakdown() *NormBreakdown {
	if v, ok := l.variant().(NormsServiceLine); ok {
		b := v.Breakdown.Clone()
		return &b
	}
	return nil
}

func (l TenderLine) variant() LineVariant {
	if l.Variant == nil {
		return ItemLine{}
	}
	return l.Variant
}

// lineWire is the flat JSON shape shared with the UI and the remote payload.
type lineWire struct {
	ID            string         `json:"id"`
	Kind          LineKind       `json:"kind"`
	Mode          ServiceMode    `json:"mode,omitempty"`
	CatalogItemID *string        `json:"catalogItemId"`
	Name          string         `json:"name"`
	Unit          string         `json:"unit"`
	Quantity      float64        `json:"quantity"`
	UnitPrice     *float64       `json:"unitPrice"`
	Amount        *float64       `json:"amount"`
	PricingSource string         `json:"pricingSource"`
	TaxSnapshot   *string        `json:"taxSnapshot"`
	NeedsPrice    bool           `json:"needsPrice"`
	Breakdown     *NormBreakdown `json:"breakdown"`
}

func (l TenderLine) MarshalJSON() ([]byte, error) {
	w := lineWire{
		ID:            l.ID,
		Kind:          l.Kind(),
		Mode:          l.Mode(),
		Name:          l.Name,
		Unit:          l.Unit,
		Quantity:      l.Quantity,
		UnitPrice:     l.UnitPrice,
		Amount:        l.Amount(),
		PricingSource: l.PricingSource,
		TaxSnapshot:   l.TaxSnapshot,
		NeedsPrice:    l.NeedsPrice(),
	}
	switch v := l.variant().(type) {
	case ItemLine:
		if v.CatalogItemID != "" {
			id := v.CatalogItemID
			w.CatalogItemID = &id
		}
	case SimpleServiceLine:
	case NormsServiceLine:
		b := v.Breakdown
		w.Breakdown = &b
	default:
		return nil, eris.Errorf("model: unknown line variant %T", v)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat wire shape. Amount and needsPrice are
// derived and therefore ignored on input.
func (l *TenderLine) UnmarshalJSON(data []byte) error {
	var w lineWire
	if err := json.Unmarshal(data, &w); err != nil {
		return eris.Wrap(err, "model: decode tender line")
	}
	*l = TenderLine{
		ID:            w.ID,
		Name:          w.Name,
		Unit:          w.Unit,
		Quantity:      w.Quantity,
		UnitPrice:     w.UnitPrice,
		TaxSnapshot:   w.TaxSnapshot,
		PricingSource: w.PricingSource,
	}
	switch {
	case w.Kind == LineKindService && w.Mode == ServiceModeNorms:
		var b NormBreakdown
		if w.Breakdown != nil {
			b = *w.Breakdown
		}
		l.Variant = NormsServiceLine{Breakdown: b}
	case w.Kind == LineKindService:
		l.Variant = SimpleServiceLine{}
	default:
		var id string
		if w.CatalogItemID != nil {
			id = *w.CatalogItemID
		}
		l.Variant = ItemLine{CatalogItemID: id}
	}
	return nil
}
