package model

import "slices"

// Strategy names a source of a suggested unit price.
type Strategy string

const (
	StrategyLast     Strategy = "last"
	StrategyAverage  Strategy = "avg"
	StrategyStandard Strategy = "standard"
)

// Strategies lists every strategy in canonical order.
var Strategies = []Strategy{StrategyLast, StrategyAverage, StrategyStandard}

// MinAverageWindowDays is the shortest rolling-average window accepted.
const MinAverageWindowDays = 7

// ParseStrategy maps a strategy name to a Strategy. "average" is accepted as
// an alias for "avg".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "last":
		return StrategyLast, nil
	case "avg", "average":
		return StrategyAverage, nil
	case "standard":
		return StrategyStandard, nil
	default:
		return "", Invalid("priceStrategyOrder", "unknown strategy %q", s)
	}
}

// PricingConfig controls how suggested prices are resolved for new lines.
type PricingConfig struct {
	PriceStrategyOrder     []Strategy `json:"priceStrategyOrder"`
	AvgWindowDays          int        `json:"avgWindowDays"`
	PreferSameProjectPrice bool       `json:"preferSameProjectPrice"`
}

// DefaultPricingConfig returns the configuration a new tender session starts with.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		PriceStrategyOrder:     []Strategy{StrategyLast, StrategyAverage, StrategyStandard},
		AvgWindowDays:          30,
		PreferSameProjectPrice: true,
	}
}

// Validate checks that the strategy order is a permutation of all three
// strategies and that the averaging window is long enough.
func (c PricingConfig) Validate() error {
	if len(c.PriceStrategyOrder) != len(Strategies) {
		return Invalid("priceStrategyOrder", "must list exactly %d strategies", len(Strategies))
	}
	seen := make(map[Strategy]bool, len(Strategies))
	for _, s := range c.PriceStrategyOrder {
		if !slices.Contains(Strategies, s) {
			return Invalid("priceStrategyOrder", "unknown strategy %q", s)
		}
		if seen[s] {
			return Invalid("priceStrategyOrder", "duplicate strategy %q", s)
		}
		seen[s] = true
	}
	if c.AvgWindowDays < MinAverageWindowDays {
		return Invalid("avgWindowDays", "must be at least %d", MinAverageWindowDays)
	}
	return nil
}

// Clone returns a deep copy so snapshots never share the order slice.
func (c PricingConfig) Clone() PricingConfig {
	c.PriceStrategyOrder = slices.Clone(c.PriceStrategyOrder)
	return c
}

// Reorder moves strategy to position, removes duplicates and refills any
// missing strategy in canonical order. The result is always a valid permutation.
func (c PricingConfig) Reorder(position int, strategy Strategy) (PricingConfig, error) {
	if !slices.Contains(Strategies, strategy) {
		return c, Invalid("priceStrategyOrder", "unknown strategy %q", strategy)
	}
	order := make([]Strategy, 0, len(Strategies)+1)
	for _, s := range c.PriceStrategyOrder {
		if s != strategy {
			order = append(order, s)
		}
	}
	position = max(0, min(position, len(order)))
	order = slices.Insert(order, position, strategy)

	deduped := make([]Strategy, 0, len(Strategies))
	for _, s := range order {
		if slices.Contains(Strategies, s) && !slices.Contains(deduped, s) {
			deduped = append(deduped, s)
		}
	}
	for _, s := range Strategies {
		if len(deduped) < len(Strategies) && !slices.Contains(deduped, s) {
			deduped = append(deduped, s)
		}
	}

	next := c.Clone()
	next.PriceStrategyOrder = deduped[:len(Strategies)]
	return next, nil
}
