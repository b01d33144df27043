package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/model"
)

// TenderCacheKey is the key the local cache is stored under.
const TenderCacheKey = "construction:tenders:v1"

// cacheEntry is one element of the JSON array kept under TenderCacheKey.
type cacheEntry struct {
	ID        string              `json:"id"`
	ProjectID string              `json:"projectId"`
	Tender    *model.TenderRecord `json:"tender"`
	StoredAt  time.Time           `json:"storedAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// LocalStore is the fallback Backend: every tender in one JSON array under
// a single key of a KeyValueStore.
type LocalStore struct {
	kv KeyValueStore
	mu sync.Mutex
}

var _ Backend = (*LocalStore)(nil)

// NewLocalStore creates a LocalStore over kv.
func NewLocalStore(kv KeyValueStore) *LocalStore {
	return &LocalStore{kv: kv}
}

// Storage implements Backend.
func (s *LocalStore) Storage() model.Storage {
	return model.StorageLocal
}

// Upsert overwrites the entry for id, keeping its original storedAt, or
// prepends a new entry.
func (s *LocalStore) Upsert(ctx context.Context, id, projectID string, rec model.TenderRecord, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read(ctx)
	if err != nil {
		return err
	}

	updatedAt := rec.LastEditedAt
	if updatedAt.IsZero() {
		updatedAt = now.UTC()
	}
	next := cacheEntry{ID: id, ProjectID: projectID, Tender: &rec, StoredAt: rec.CreatedAt, UpdatedAt: updatedAt}
	if next.StoredAt.IsZero() {
		next.StoredAt = now.UTC()
	}

	replaced := false
	for i, e := range entries {
		if e.ID == id {
			next.StoredAt = e.StoredAt
			entries[i] = next
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append([]cacheEntry{next}, entries...)
	}
	return s.write(ctx, entries)
}

// Get implements Backend.
func (s *LocalStore) Get(ctx context.Context, id string) (*model.TenderDetail, error) {
	entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id {
			return &model.TenderDetail{
				ID:        e.ID,
				ProjectID: e.ProjectID,
				Tender:    *e.Tender,
				Storage:   model.StorageLocal,
			}, nil
		}
	}
	return nil, nil
}

// List implements Backend. Entries keep cache order; the caller sorts.
func (s *LocalStore) List(ctx context.Context, filter ListFilter) ([]model.TenderSummary, error) {
	entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.TenderSummary
	for _, e := range entries {
		if filter.ProjectID != "" && e.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, model.SummaryOf(e.ID, e.ProjectID, *e.Tender, e.UpdatedAt, model.StorageLocal))
	}
	return out, nil
}

// SearchLines returns every cached line whose name contains the query,
// ignoring case.
func (s *LocalStore) SearchLines(ctx context.Context, q SuggestionQuery) ([]model.LineSuggestion, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Query))
	if needle == "" {
		return nil, nil
	}
	entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.LineSuggestion
	for _, e := range entries {
		if q.ProjectID != "" && e.ProjectID != q.ProjectID {
			continue
		}
		lastUsed := e.Tender.LastEditedAt
		if lastUsed.IsZero() {
			lastUsed = e.UpdatedAt
		}
		for _, l := range e.Tender.Lines {
			if !strings.Contains(strings.ToLower(l.Name), needle) {
				continue
			}
			qty := l.Quantity
			used := lastUsed
			out = append(out, model.LineSuggestion{
				ID:           e.ID + ":" + l.ID,
				Name:         l.Name,
				Unit:         l.Unit,
				Quantity:     &qty,
				UnitPrice:    l.UnitPrice,
				Amount:       l.Amount(),
				LastUsedAt:   &used,
				TenderID:     e.ID,
				TenderNumber: e.Tender.TenderNumber,
				Currency:     e.Tender.Currency,
				Storage:      model.StorageLocal,
			})
		}
	}
	return out, nil
}

func (s *LocalStore) snapshot(ctx context.Context) ([]cacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx)
}

// read decodes the cache. A corrupt array reads as empty and a malformed
// entry is dropped, so one bad write never hides the rest of the cache.
func (s *LocalStore) read(ctx context.Context) ([]cacheEntry, error) {
	raw, ok, err := s.kv.Get(ctx, TenderCacheKey)
	if err != nil {
		return nil, eris.Wrap(err, "local: read tender cache")
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		zap.L().Warn("local: tender cache is corrupt, treating as empty", zap.Error(err))
		return nil, nil
	}

	entries := make([]cacheEntry, 0, len(items))
	for _, item := range items {
		var e cacheEntry
		if err := json.Unmarshal(item, &e); err != nil {
			zap.L().Warn("local: dropping malformed cache entry", zap.Error(err))
			continue
		}
		if e.ID == "" || e.ProjectID == "" || e.Tender == nil {
			continue
		}
		if e.StoredAt.IsZero() {
			e.StoredAt = e.Tender.CreatedAt
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = e.Tender.LastEditedAt
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = e.StoredAt
		}
		rec := model.NormalizeRecord(*e.Tender, e.StoredAt)
		e.Tender = &rec
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *LocalStore) write(ctx context.Context, entries []cacheEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return eris.Wrap(err, "local: encode tender cache")
	}
	if err := s.kv.Set(ctx, TenderCacheKey, raw); err != nil {
		return eris.Wrap(err, "local: write tender cache")
	}
	return nil
}
