package model

import "github.com/shopspring/decimal"

// NormCategory groups the components of a norms-based rate.
type NormCategory string

const (
	NormMaterials NormCategory = "materials"
	NormLabor     NormCategory = "labor"
	NormEquipment NormCategory = "equipment"
)

// NormEntry is one material, labour or equipment component of a norms rate.
type NormEntry struct {
	ID       string       `json:"id"`
	Category NormCategory `json:"category"`
	Label    string       `json:"label"`
	Unit     string       `json:"unit"`
	Quantity float64      `json:"quantity"`
	Rate     float64      `json:"rate"`
}

// Subtotal is quantity × rate.
func (e NormEntry) Subtotal() float64 {
	return lineAmount(e.Rate, e.Quantity)
}

// NormBreakdown is the component list behind a norms-mode service line.
type NormBreakdown struct {
	Materials []NormEntry `json:"materials"`
	Labor     []NormEntry `json:"labor"`
	Equipment []NormEntry `json:"equipment"`
}

// Entries returns materials, labour and equipment entries in that order.
func (b NormBreakdown) Entries() []NormEntry {
	out := make([]NormEntry, 0, len(b.Materials)+len(b.Labor)+len(b.Equipment))
	out = append(out, b.Materials...)
	out = append(out, b.Labor...)
	return append(out, b.Equipment...)
}

// Rate is the sum of every entry's subtotal.
func (b NormBreakdown) Rate() float64 {
	total := decimal.Zero
	for _, e := range b.Entries() {
		total = total.Add(decimal.NewFromFloat(e.Quantity).Mul(decimal.NewFromFloat(e.Rate)))
	}
	return total.InexactFloat64()
}

// Add appends entry to the list for its category.
func (b *NormBreakdown) Add(entry NormEntry) error {
	if entry.ID == "" {
		entry.ID = ShortID()
	}
	switch entry.Category {
	case NormMaterials:
		b.Materials = append(b.Materials, entry)
	case NormLabor:
		b.Labor = append(b.Labor, entry)
	case NormEquipment:
		b.Equipment = append(b.Equipment, entry)
	default:
		return Invalid("category", "unknown norm category %q", entry.Category)
	}
	return nil
}

// Clone returns a deep copy of the breakdown.
func (b NormBreakdown) Clone() NormBreakdown {
	return NormBreakdown{
		Materials: append([]NormEntry(nil), b.Materials...),
		Labor:     append([]NormEntry(nil), b.Labor...),
		Equipment: append([]NormEntry(nil), b.Equipment...),
	}
}
