package catalog

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tender-cli/internal/model"
)

// seedFile is the on-disk layout of a catalog seed.
type seedFile struct {
	Items []model.CatalogItem `yaml:"items"`
}

// LoadSeed reads a YAML catalog seed. An empty path yields DefaultSeed.
func LoadSeed(path string) ([]model.CatalogItem, error) {
	if path == "" {
		return DefaultSeed(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read seed %s", path)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML seed document and checks every item has an id
// and a name.
func ParseSeed(data []byte) ([]model.CatalogItem, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "catalog: parse seed")
	}
	seen := make(map[string]bool, len(f.Items))
	for i, item := range f.Items {
		if item.ID == "" || item.Name == "" {
			return nil, model.Invalid("items", "item %d needs an id and a name", i)
		}
		if seen[item.ID] {
			return nil, model.Invalid("items", "duplicate item id %q", item.ID)
		}
		seen[item.ID] = true
	}
	return f.Items, nil
}

// DefaultSeed returns the bootstrap catalog used when no seed file is
// configured.
func DefaultSeed() []model.CatalogItem {
	return []model.CatalogItem{
		{
			ID:               "cat-001",
			Name:             "Ready-mix concrete M30",
			SKU:              "CON-M30",
			Unit:             "m³",
			LastPrice:        model.Price(8450),
			AvgPrice:         model.Price(8580),
			StandardRate:     model.Price(8725),
			ProjectLastPrice: model.Price(8420),
			TaxProfileID:     "tax-vat-13",
			Category:         "Materials",
		},
		{
			ID:           "cat-002",
			Name:         "Formwork labour (carpenter)",
			SKU:          "LAB-FRM",
			Unit:         "hr",
			LastPrice:    model.Price(540),
			AvgPrice:     model.Price(525),
			StandardRate: model.Price(560),
			TaxProfileID: "tax-labour",
			Category:     "Labour",
		},
		{
			ID:           "cat-003",
			Name:         "Excavator (20T) hire",
			SKU:          "EQ-EX20",
			Unit:         "hr",
			LastPrice:    model.Price(4600),
			AvgPrice:     model.Price(4720),
			StandardRate: model.Price(4800),
			TaxProfileID: "tax-machinery",
			Category:     "Equipment",
		},
		{
			ID:               "cat-004",
			Name:             "Steel rebar TMT 12mm",
			SKU:              "REB-12",
			Unit:             "kg",
			LastPrice:        model.Price(98),
			AvgPrice:         model.Price(102),
			StandardRate:     model.Price(105),
			ProjectLastPrice: model.Price(96),
			TaxProfileID:     "tax-vat-13",
			Category:         "Materials",
		},
	}
}
