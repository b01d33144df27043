package model

// CatalogItem is a reusable priced material, service or equipment record.
// Price observations are optional; a nil pointer means "no observation".
type CatalogItem struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name" yaml:"name"`
	SKU              string   `json:"sku" yaml:"sku"`
	Unit             string   `json:"unit" yaml:"unit"`
	LastPrice        *float64 `json:"lastPrice,omitempty" yaml:"last_price,omitempty"`
	AvgPrice         *float64 `json:"avgPrice,omitempty" yaml:"avg_price,omitempty"`
	StandardRate     *float64 `json:"standardRate,omitempty" yaml:"standard_rate,omitempty"`
	ProjectLastPrice *float64 `json:"projectLastPrice,omitempty" yaml:"project_last_price,omitempty"`
	TaxProfileID     string   `json:"taxProfileId,omitempty" yaml:"tax_profile_id,omitempty"`
	Category         string   `json:"category,omitempty" yaml:"category,omitempty"`
}

// Price returns a pointer to v, for populating optional price fields.
func Price(v float64) *float64 {
	return &v
}
