// Package pricing suggests a unit price for a catalog item by walking a
// configured chain of price strategies.
package pricing

import (
	"fmt"
	"math"

	"github.com/sells-group/tender-cli/internal/model"
)

// SourceNeedsPrice labels a suggestion for which no strategy had a value.
const SourceNeedsPrice = "Needs price"

// Suggestion is the outcome of Resolve. Price is nil when nothing qualified;
// Strategy is empty in that case.
type Suggestion struct {
	Price    *float64       `json:"price"`
	Source   string         `json:"source"`
	Strategy model.Strategy `json:"strategy,omitempty"`
}

// NeedsPrice reports whether the suggestion carries no usable price.
func (s Suggestion) NeedsPrice() bool {
	return s.Price == nil
}

// Resolve returns the first finite price found while walking
// cfg.PriceStrategyOrder. The "last" slot prefers the same-project price when
// cfg.PreferSameProjectPrice is set and one is recorded.
func Resolve(item model.CatalogItem, cfg model.PricingConfig) Suggestion {
	for _, strategy := range cfg.PriceStrategyOrder {
		v := slot(item, cfg, strategy)
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			continue
		}
		price := *v
		return Suggestion{Price: &price, Source: Label(strategy, cfg.AvgWindowDays), Strategy: strategy}
	}
	return Suggestion{Source: SourceNeedsPrice}
}

func slot(item model.CatalogItem, cfg model.PricingConfig, strategy model.Strategy) *float64 {
	switch strategy {
	case model.StrategyLast:
		if cfg.PreferSameProjectPrice && item.ProjectLastPrice != nil {
			return item.ProjectLastPrice
		}
		return item.LastPrice
	case model.StrategyAverage:
		return item.AvgPrice
	case model.StrategyStandard:
		return item.StandardRate
	default:
		return nil
	}
}

// Label is the human-readable source recorded on a line priced by strategy.
func Label(strategy model.Strategy, avgWindowDays int) string {
	switch strategy {
	case model.StrategyLast:
		return "Last purchase price"
	case model.StrategyAverage:
		return fmt.Sprintf("Average (%dd)", avgWindowDays)
	case model.StrategyStandard:
		return "Standard rate"
	default:
		return SourceNeedsPrice
	}
}

// Resolver binds Resolve to a function returning the current configuration,
// so callers holding a mutable session can resolve without copying it.
type Resolver struct {
	config func() model.PricingConfig
}

// NewResolver creates a Resolver reading its configuration from cfg.
func NewResolver(cfg func() model.PricingConfig) *Resolver {
	return &Resolver{config: cfg}
}

// Resolve resolves item against the current configuration.
func (r *Resolver) Resolve(item model.CatalogItem) Suggestion {
	return Resolve(item, r.config())
}
