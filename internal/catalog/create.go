package catalog

import (
	"strings"

	"github.com/sells-group/tender-cli/internal/model"
)

// DefaultCategory is assigned to ad-hoc items created without one.
const DefaultCategory = "Uncategorised"

// NewItem is the user input for an ad-hoc catalog item.
type NewItem struct {
	Name         string   `json:"name"`
	SKU          string   `json:"sku"`
	Unit         string   `json:"unit"`
	Category     string   `json:"category"`
	StandardRate *float64 `json:"standardRate"`
	TaxProfileID string   `json:"taxProfileId"`
}

// Create validates in, fills defaults and adds the item to the index.
func (x *Index) Create(in NewItem, fallbackUnit string) (model.CatalogItem, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.CatalogItem{}, model.Invalid("name", "item name is required")
	}

	id := model.ShortID()
	item := model.CatalogItem{
		ID:           "new-" + id,
		Name:         name,
		SKU:          strings.TrimSpace(in.SKU),
		Unit:         strings.TrimSpace(in.Unit),
		Category:     strings.TrimSpace(in.Category),
		TaxProfileID: strings.TrimSpace(in.TaxProfileID),
	}
	if item.SKU == "" {
		item.SKU = "SKU-" + strings.ToUpper(id)
	}
	if item.Unit == "" {
		item.Unit = fallbackUnit
	}
	if item.Category == "" {
		item.Category = DefaultCategory
	}
	if in.StandardRate != nil && *in.StandardRate > 0 {
		item.StandardRate = model.Price(*in.StandardRate)
	}
	return x.Add(item), nil
}
