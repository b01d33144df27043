// Package catalog holds the in-memory catalog of priced items a tender
// session draws from.
package catalog

import (
	"slices"
	"strings"
	"sync"

	"github.com/sells-group/tender-cli/internal/matcher"
	"github.com/sells-group/tender-cli/internal/model"
)

// DefaultSearchLimit is used when Search is called with a non-positive limit.
const DefaultSearchLimit = 5

// Index is a mutable copy of a seed catalog. The seed slice passed to
// NewIndex is never modified. Index is safe for concurrent use.
type Index struct {
	mu    sync.RWMutex
	items []model.CatalogItem
}

// NewIndex creates an index holding a copy of seed.
func NewIndex(seed []model.CatalogItem) *Index {
	items := make([]model.CatalogItem, len(seed))
	for i, item := range seed {
		items[i] = cloneItem(item)
	}
	return &Index{items: items}
}

// Get returns the item with id.
func (x *Index) Get(id string) (model.CatalogItem, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i := x.indexOf(id)
	if i < 0 {
		return model.CatalogItem{}, false
	}
	return cloneItem(x.items[i]), true
}

// Search returns up to limit matches for query. A blank query returns the
// first limit items in catalog order, each scored 1.
func (x *Index) Search(query string, limit int) []matcher.Match {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	items := x.Items()
	if strings.TrimSpace(query) == "" {
		n := min(limit, len(items))
		out := make([]matcher.Match, n)
		for i := range n {
			out[i] = matcher.Match{Item: items[i], Score: 1}
		}
		return out
	}
	return matcher.FindMatches(items, query, limit)
}

// Add prepends item, assigning a "new-" id when it has none, and returns the
// stored item.
func (x *Index) Add(item model.CatalogItem) model.CatalogItem {
	if item.ID == "" {
		item.ID = "new-" + model.ShortID()
	}
	item = cloneItem(item)

	x.mu.Lock()
	defer x.mu.Unlock()
	x.items = slices.Insert(x.items, 0, item)
	return cloneItem(item)
}

// UpsertMany replaces items whose id is already present, in place, and
// prepends the rest in the order given.
func (x *Index) UpsertMany(items []model.CatalogItem) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var added []model.CatalogItem
	for _, item := range items {
		item = cloneItem(item)
		if i := x.indexOf(item.ID); i >= 0 {
			x.items[i] = item
			continue
		}
		added = append(added, item)
	}
	x.items = slices.Insert(x.items, 0, added...)
}

// Items returns a snapshot of the catalog, newest additions first.
func (x *Index) Items() []model.CatalogItem {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.CatalogItem, len(x.items))
	for i, item := range x.items {
		out[i] = cloneItem(item)
	}
	return out
}

// Len returns the number of items.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.items)
}

func (x *Index) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(x.items, func(it model.CatalogItem) bool { return it.ID == id })
}

func cloneItem(item model.CatalogItem) model.CatalogItem {
	item.LastPrice = clonePrice(item.LastPrice)
	item.AvgPrice = clonePrice(item.AvgPrice)
	item.StandardRate = clonePrice(item.StandardRate)
	item.ProjectLastPrice = clonePrice(item.ProjectLastPrice)
	return item
}

func clonePrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
